package battery

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Attest() *cli.Command {
	cfg := struct {
		json bool
	}{}
	return &cli.Command{
		Name:      "attest",
		Usage:     "Print a signed attestation of a local battery device",
		ArgsUsage: "<battery>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "Print the attestation as JSON",
				Destination: &cfg.json,
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

			a, err := dev.Attest(c.Context)
			if err != nil {
				return err
			}

			if cfg.json {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			}

			for _, line := range a.Lines() {
				fmt.Println(line)
			}

			return nil
		},
	}
}
