package battery

import (
	"fmt"

	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Charge() *cli.Command {
	cfg := struct {
		cycles int
	}{}
	return &cli.Command{
		Name:      "charge",
		Usage:     "Run charge cycles on a local battery device",
		ArgsUsage: "<battery>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "cycles",
				Aliases:     []string{"n"},
				Usage:       "Number of charge cycles",
				Value:       1,
				Destination: &cfg.cycles,
			},
		},
		Action: func(c *cli.Context) error {
			addr, err := addressArg(c, 0)
			if err != nil {
				return err
			}

			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			devices, err := settings.OpenStore(conf, settings.DevicesStore)
			if err != nil {
				return err
			}
			defer devices.Close()

			dev, err := firmware.Open(c.Context, devices, addr)
			if err != nil {
				return err
			}

			count := dev.ChargeCount()
			for range cfg.cycles {
				count, err = dev.Charge(c.Context)
				if err != nil {
					return err
				}
			}

			fmt.Println("Charge count:", count)

			return nil
		},
	}
}
