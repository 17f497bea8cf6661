package vendors

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Issue() *cli.Command {
	cfg := struct {
		count     int
		deposit   string
		name      string
		printKeys bool
	}{}
	return &cli.Command{
		Name:  "issue",
		Usage: "Issue new batteries and flash their keys into local devices",
		Flags: []cli.Flag{
			settings.AccountFlag("vendor"),
			&cli.IntFlag{
				Name:        "count",
				Aliases:     []string{"n"},
				Usage:       "Number of batteries to issue",
				Value:       1,
				Destination: &cfg.count,
			},
			&cli.StringFlag{
				Name:        "deposit",
				Usage:       "ETH to add to the deposit before issuing",
				Destination: &cfg.deposit,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "Vendor name, registering the account if it is not a vendor yet",
				Destination: &cfg.name,
			},
			&cli.BoolFlag{
				Name:        "print-keys",
				Usage:       "Print the private keys of the issued batteries",
				Destination: &cfg.printKeys,
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			var deposit *big.Int
			if cfg.deposit != "" {
				deposit, err = settings.ParseEther(cfg.deposit)
				if err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			devices, err := settings.OpenStore(conf, settings.DevicesStore)
			if err != nil {
				return err
			}
			defer devices.Close()

			ua, a, err := settings.LoadAccount(c, conf)
			if err != nil {
				return err
			}
			defer ua.Close()

			ids, err := session.Registry.Issue(ctx, a, cfg.count, deposit, cfg.name)
			if err != nil {
				return err
			}

			for _, id := range ids {
				_, err := firmware.Provision(ctx, devices, id.Key)
				if err != nil {
					return fmt.Errorf("failed to provision battery %s: %w", id.Address.Hex(), err)
				}
				log.Debug("battery provisioned", "battery", id.Address)

				if cfg.printKeys {
					fmt.Println(id.Address.Hex(), id.KeyHex())
				} else {
					fmt.Println(id.Address.Hex())
				}
			}

			return nil
		},
	}
}
