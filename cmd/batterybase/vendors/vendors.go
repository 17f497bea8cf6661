// Package vendors holds the commands of battery manufacturers.
package vendors

import "github.com/urfave/cli/v2"

func Vendor() *cli.Command {
	return &cli.Command{
		Name:  "vendor",
		Usage: "Register as a vendor and issue batteries",
		Subcommands: []*cli.Command{
			Register(),
			Deposit(),
			Issue(),
			Info(),
		},
	}
}
