package main

import (
	"log"
	"os"

	"github.com/evbattery/batterybase/cmd/batterybase/account"
	"github.com/evbattery/batterybase/cmd/batterybase/battery"
	"github.com/evbattery/batterybase/cmd/batterybase/car"
	"github.com/evbattery/batterybase/cmd/batterybase/devnode"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/evbattery/batterybase/cmd/batterybase/scenter"
	"github.com/evbattery/batterybase/cmd/batterybase/setup"
	"github.com/evbattery/batterybase/cmd/batterybase/state"
	"github.com/evbattery/batterybase/cmd/batterybase/vendors"
	"github.com/urfave/cli/v2"
)

func main() {

	app := &cli.App{
		Name:  "batterybase",
		Usage: "Battery attestation, ownership and replacement",
		Flags: settings.Flags(),
		Before: func(c *cli.Context) error {
			cfg, err := settings.Load(c)
			if err != nil {
				return err
			}
			return settings.SetupLogging(cfg)
		},

		Commands: []*cli.Command{
			account.Account(),
			setup.Setup(),
			vendors.Vendor(),
			battery.Battery(),
			scenter.ServiceCenter(),
			car.Car(),
			state.State(),
			devnode.DevNode(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
