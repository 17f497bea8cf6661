package battery

import (
	"os"
	"strconv"

	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func List() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the battery devices available locally",
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			devices, err := settings.OpenStore(conf, settings.DevicesStore)
			if err != nil {
				return err
			}
			defer devices.Close()

			addrs, err := devices.Devices(c.Context)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Battery", "Charge count"})
			for _, addr := range addrs {
				dev, err := firmware.Open(c.Context, devices, addr)
				if err != nil {
					return err
				}
				table.Append([]string{addr.Hex(), strconv.FormatUint(dev.ChargeCount(), 10)})
			}
			table.Render()

			return nil
		},
	}
}
