// Package car holds the commands of car owners.
package car

import "github.com/urfave/cli/v2"

func Car() *cli.Command {
	return &cli.Command{
		Name:  "car",
		Usage: "Replace the battery of a car",
		Subcommands: []*cli.Command{
			Replace(),
			Deals(),
		},
	}
}
