// Package battery holds the commands that act on battery devices and their ledger
// records.
package battery

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

func Battery() *cli.Command {
	return &cli.Command{
		Name:  "battery",
		Usage: "Charge, attest, verify and trace batteries",
		Subcommands: []*cli.Command{
			List(),
			Charge(),
			Attest(),
			Verify(),
			Info(),
			History(),
			Transfer(),
		},
	}
}

func addressArg(c *cli.Context, n int) (common.Address, error) {
	arg := c.Args().Get(n)
	if !common.IsHexAddress(arg) {
		return common.Address{}, fmt.Errorf("invalid address %q", arg)
	}
	return common.HexToAddress(arg), nil
}
