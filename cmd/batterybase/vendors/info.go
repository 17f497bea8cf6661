package vendors

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Info() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show a vendor and the batteries it still owns",
		ArgsUsage: "[address]",
		Flags: []cli.Flag{
			settings.AccountFlag("vendor"),
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			var addr common.Address
			switch arg := c.Args().First(); {
			case arg == "":
				a, err := settings.LookupAccount(ctx, conf, c.String("account"))
				if err != nil {
					return err
				}
				addr = a.Address
			case common.IsHexAddress(arg):
				addr = common.HexToAddress(arg)
			default:
				return fmt.Errorf("invalid address %q", arg)
			}

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			v, err := session.Ledger.Vendor(ctx, addr)
			if err != nil {
				return err
			}

			owned, err := session.Ledger.BatteriesOf(ctx, addr)
			if err != nil {
				return err
			}

			fee, err := session.Ledger.BatteryFee(ctx)
			if err != nil {
				return err
			}

			fmt.Println("Name:", v.Name)
			fmt.Printf("ID: 0x%x\n", v.ID)
			fmt.Println("Address:", v.Address.Hex())
			fmt.Println("Deposit:", settings.FormatEther(v.Deposit), "ETH")
			fmt.Println("Battery fee:", settings.FormatEther(fee), "ETH")
			fmt.Println("Registered at block:", v.RegisteredAtBlock)
			fmt.Println("Batteries in stock:", len(owned))

			return nil
		},
	}
}
