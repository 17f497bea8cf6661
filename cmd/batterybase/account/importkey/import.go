package importkey

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/cmd/batterybase/account/create"
	"github.com/evbattery/batterybase/cmd/batterybase/account/pkg/useraccount"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func ImportAccount() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import an account using a hex private key",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "privatekey",
				Aliases:  []string{"key"},
				Usage:    "Private key in hex format",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("account name is required")
			}

			cfg, err := settings.Load(c)
			if err != nil {
				return err
			}

			hexKey := c.String("privatekey")
			hexKey = strings.TrimPrefix(hexKey, "0x")
			privateKey, err := crypto.HexToECDSA(hexKey)
			if err != nil {
				return fmt.Errorf("invalid private key: %w", err)
			}

			password, err := useraccount.ReadNewPassword()
			if err != nil {
				return fmt.Errorf("failed to create password: %w", err)
			}

			addr, walletPath, err := useraccount.Import(name, privateKey, password)
			if err != nil {
				return err
			}

			err = create.Remember(c, cfg, sqlstore.Account{Name: name, Address: addr, KeystorePath: walletPath})
			if err != nil {
				return err
			}

			fmt.Println("Successfully imported account")
			fmt.Println("Address:", addr.Hex())

			return nil
		},
	}
}
