package battery

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Info() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the ledger record of a battery",
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

			b, err := session.Ledger.Battery(ctx, addr)
			if err != nil {
				return err
			}

			v, err := session.Registry.VendorOf(ctx, addr)
			if err != nil {
				return err
			}

			fmt.Println("Battery:", b.Address.Hex())
			fmt.Printf("Vendor: %s (0x%x)\n", v.Name, v.ID)
			fmt.Println("Owner:", b.Owner.Hex())
			fmt.Println("Issued at block:", b.IssuedAtBlock)

			return nil
		},
	}
}
