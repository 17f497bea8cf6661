package create

import (
	"github.com/evbattery/batterybase/battery-base/config"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

// Remember adds the account to the local index.
func Remember(c *cli.Context, cfg config.Config, a sqlstore.Account) error {
	store, err := settings.OpenStore(cfg, settings.IndexStore)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveAccount(c.Context, a)
}
