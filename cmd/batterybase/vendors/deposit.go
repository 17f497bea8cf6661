package vendors

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Deposit() *cli.Command {
	return &cli.Command{
		Name:      "deposit",
		Usage:     "Add ETH to the vendor deposit",
		ArgsUsage: "<amount>",
		Flags: []cli.Flag{
			settings.AccountFlag("vendor"),
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			amount, err := settings.ParseEther(c.Args().First())
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

			balance, err := session.Registry.Deposit(ctx, a, amount)
			if err != nil {
				return err
			}

			fmt.Println("Deposit:", settings.FormatEther(balance), "ETH")

			return nil
		},
	}
}
