package battery

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func History() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List the owners of a battery since its issuance",
		ArgsUsage: "<battery>",
		Action: func(c *cli.Context) error {
			addr, err := addressArg(c, 0)
			if err != nil {
				return err
			}

			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			history, err := session.Ledger.OwnershipHistory(ctx, addr)
			if err != nil {
				return err
			}

			for _, t := range history {
				from := "issued"
				if t.From != (common.Address{}) {
					from = t.From.Hex()
				}
				fmt.Printf("block %d: %s -> %s (tx %s)\n", t.BlockNumber, from, t.To.Hex(), t.TxHash.Hex())
			}

			return nil
		},
	}
}
