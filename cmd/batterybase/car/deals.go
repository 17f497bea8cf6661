package car

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func Deals() *cli.Command {
	return &cli.Command{
		Name:  "deals",
		Usage: "List the replacements attempted by the car, newest first",
		Flags: []cli.Flag{
			settings.AccountFlag("car"),
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			own, err := settings.OpenStore(conf, c.String("account"))
			if err != nil {
				return err
			}
			defer own.Close()

			deals, err := own.Deals(c.Context)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "State", "Old battery", "New battery", "Cost", "Updated"})
			for _, d := range deals {
				table.Append([]string{
					d.ID.String(),
					string(d.State),
					d.CarBattery.Hex(),
					d.SCBattery.Hex(),
					d.Cost.String(),
					humanize.Time(d.UpdatedAt),
				})
			}
			table.Render()

			return nil
		},
	}
}
