package list

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func List() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the local accounts",
		Action: func(c *cli.Context) error {
			cfg, err := settings.Load(c)
			if err != nil {
				return err
			}

			store, err := settings.OpenStore(cfg, settings.IndexStore)
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.Accounts(c.Context)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Address", "Created"})
			for _, a := range accounts {
				table.Append([]string{a.Name, a.Address.Hex(), humanize.Time(a.CreatedAt)})
			}
			table.Render()

			return nil
		},
	}
}
