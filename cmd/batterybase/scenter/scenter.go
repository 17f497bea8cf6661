// Package scenter holds the commands of service centers.
package scenter

import "github.com/urfave/cli/v2"

func ServiceCenter() *cli.Command {
	return &cli.Command{
		Name:  "scenter",
		Usage: "Run a battery service center",
		Subcommands: []*cli.Command{
			Register(),
			Serve(),
		},
	}
}
