package battery

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Transfer() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Transfer the ownership of a battery",
		ArgsUsage: "<battery> <new owner>",
		Flags: []cli.Flag{
			settings.AccountFlag("default"),
		},
		Action: func(c *cli.Context) error {
			battery, err := addressArg(c, 0)
			if err != nil {
				return err
			}
			newOwner, err := addressArg(c, 1)
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

			ua, a, err := settings.LoadAccount(c, conf)
			if err != nil {
				return err
			}
			defer ua.Close()

			confirmation, err := session.Ledger.TransferOwnership(ctx, a, battery, newOwner)
			if err != nil {
				return err
			}

			if confirmation.AlreadyApplied {
				fmt.Println("Battery already owned by", newOwner.Hex())
				return nil
			}

			log.Info("ownership transferred", "battery", battery, "to", newOwner, "tx", confirmation.TxHash)
			fmt.Println("Transferred in block", confirmation.BlockNumber)

			return nil
		},
	}
}
