package account

import (
	"github.com/evbattery/batterybase/cmd/batterybase/account/balance"
	"github.com/evbattery/batterybase/cmd/batterybase/account/create"
	"github.com/evbattery/batterybase/cmd/batterybase/account/fund"
	"github.com/evbattery/batterybase/cmd/batterybase/account/importkey"
	"github.com/evbattery/batterybase/cmd/batterybase/account/list"
	"github.com/urfave/cli/v2"
)

func Account() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage accounts",
		Subcommands: []*cli.Command{
			create.Create(),
			fund.FundAccount(),
			balance.AccountBalance(),
			importkey.ImportAccount(),
			list.List(),
		},
	}
}
