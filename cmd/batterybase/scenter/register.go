package scenter

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Register() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Register the account as a service center",
		Flags: []cli.Flag{
			settings.AccountFlag("scenter"),
		},
		Action: func(c *cli.Context) error {
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

			confirmation, err := session.Ledger.RegisterServiceCenter(ctx, a)
			if err != nil {
				return err
			}

			if confirmation.AlreadyApplied {
				fmt.Println("Already registered:", a.Address.Hex())
				return nil
			}

			fmt.Println("Registered:", a.Address.Hex())
			fmt.Println("Block:", confirmation.BlockNumber)

			return nil
		},
	}
}
