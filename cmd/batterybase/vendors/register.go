package vendors

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Register() *cli.Command {
	cfg := struct {
		deposit string
	}{}
	return &cli.Command{
		Name:      "register",
		Usage:     "Register the account as a battery vendor",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			settings.AccountFlag("vendor"),
			&cli.StringFlag{
				Name:        "deposit",
				Usage:       "ETH deposited to pay for battery registrations",
				Value:       "1",
				Destination: &cfg.deposit,
			},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("vendor name is required")
			}

			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			deposit, err := settings.ParseEther(cfg.deposit)
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

			v, err := session.Registry.RegisterVendor(ctx, a, name, deposit)
			if err != nil {
				return err
			}

			fmt.Println("Registered:", v.Name)
			fmt.Printf("Vendor ID: 0x%x\n", v.ID)
			fmt.Println("Deposit:", settings.FormatEther(v.Deposit), "ETH")

			return nil
		},
	}
}
