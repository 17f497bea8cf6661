// Package devnode serves an in-memory ledger for local development.
package devnode

import (
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/evbattery/batterybase/cmd/batterybase/scenter"
	"github.com/urfave/cli/v2"
)

func DevNode() *cli.Command {
	cfg := struct {
		listen  string
		chainID int64
		fund    cli.StringSlice
		amount  string
	}{}
	return &cli.Command{
		Name:  "devnode",
		Usage: "Serve an in-memory battery ledger over JSON-RPC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "Address of the JSON-RPC endpoint",
				Value:       "localhost:8545",
				EnvVars:     []string{"DEVNODE_LISTEN"},
				Destination: &cfg.listen,
			},
			&cli.Int64Flag{
				Name:        "chain-id",
				Usage:       "Chain ID of the ledger",
				Value:       1337,
				Destination: &cfg.chainID,
			},
			&cli.StringSliceFlag{
				Name:        "fund",
				Usage:       "Address to fund at startup, may be repeated",
				Destination: &cfg.fund,
			},
			&cli.StringFlag{
				Name:        "amount",
				Usage:       "ETH given to every funded address",
				Value:       "100",
				Destination: &cfg.amount,
			},
		},
		Action: func(c *cli.Context) error {
			amount, err := settings.ParseEther(cfg.amount)
			if err != nil {
				return err
			}

			chain := simchain.New(big.NewInt(cfg.chainID))
			defer chain.Close()

			for _, s := range cfg.fund.Value() {
				if !common.IsHexAddress(s) {
					return fmt.Errorf("invalid address to fund %q", s)
				}
				chain.Fund(common.HexToAddress(s), amount)
				log.Info("funded", "account", s, "eth", cfg.amount)
			}

			server, err := simchain.NewRPCServer(chain)
			if err != nil {
				return err
			}
			defer server.Stop()

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			log.Info("development ledger started", "chainID", cfg.chainID)
			return scenter.Run(ctx, &http.Server{Addr: cfg.listen, Handler: server})
		},
	}
}
