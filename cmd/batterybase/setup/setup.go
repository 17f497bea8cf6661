package setup

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

// Setup writes the config file and, when a battery fee is given, configures the
// management processor with the admin account.
func Setup() *cli.Command {
	cfg := struct {
		network    string
		processor  string
		batteryFee string
	}{}
	return &cli.Command{
		Name:  "setup",
		Usage: "Write the configuration and configure the management processor",
		Flags: []cli.Flag{
			settings.AccountFlag("admin"),
			&cli.StringFlag{
				Name:        "network",
				Usage:       "Name under which the ledger is remembered",
				Value:       "default",
				Destination: &cfg.network,
			},
			&cli.StringFlag{
				Name:        "processor",
				Usage:       "Address of the battery management processor",
				Destination: &cfg.processor,
			},
			&cli.StringFlag{
				Name:        "battery-fee",
				Usage:       "Registration fee per battery, in ETH",
				Destination: &cfg.batteryFee,
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			if cfg.processor != "" {
				if !common.IsHexAddress(cfg.processor) {
					return fmt.Errorf("invalid processor address %q", cfg.processor)
				}
				conf.Ledger.Processor = common.HexToAddress(cfg.processor)
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			path, err := settings.ConfigPath(c)
			if err != nil {
				return err
			}
			err = conf.Save(path)
			if err != nil {
				return err
			}
			fmt.Println("Config written to", path)

			index, err := settings.OpenStore(conf, settings.IndexStore)
			if err != nil {
				return err
			}
			defer index.Close()

			err = index.SaveLedgerRef(ctx, sqlstore.LedgerRef{
				Network:   cfg.network,
				Processor: conf.Ledger.Processor,
				NodeURL:   conf.NodeURL,
			})
			if err != nil {
				return err
			}

			if cfg.batteryFee == "" {
				return nil
			}

			fee, err := settings.ParseEther(cfg.batteryFee)
			if err != nil {
				return err
			}

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			ua, admin, err := settings.LoadAccount(c, conf)
			if err != nil {
				return err
			}
			defer ua.Close()

			confirmation, err := session.Ledger.Configure(ctx, admin, fee)
			if err != nil {
				return fmt.Errorf("failed to configure processor: %w", err)
			}

			log.Info("processor configured", "fee", settings.FormatEther(fee), "tx", confirmation.TxHash, "block", confirmation.BlockNumber)
			fmt.Println("Battery fee:", settings.FormatEther(fee), "ETH")

			return nil
		},
	}
}
