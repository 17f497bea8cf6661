package create

import (
	"fmt"

	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/cmd/batterybase/account/pkg/useraccount"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Create() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new account",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("account name is required")
			}

			cfg, err := settings.Load(c)
			if err != nil {
				return err
			}

			password, err := useraccount.ReadNewPassword()
			if err != nil {
				return fmt.Errorf("failed to create password: %w", err)
			}

			addr, walletPath, err := useraccount.Create(name, password)
			if err != nil {
				return err
			}

			err = Remember(c, cfg, sqlstore.Account{Name: name, Address: addr, KeystorePath: walletPath})
			if err != nil {
				return err
			}

			fmt.Println("New wallet created", walletPath)
			fmt.Println("Address:", addr.Hex())

			return nil
		},
	}
}
