// Package state inspects the storage of the battery management processor.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func State() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Debug the state of the management processor",
		Subcommands: []*cli.Command{
			UsedSlots(),
			Deal(),
		},
	}
}

func UsedSlots() *cli.Command {
	return &cli.Command{
		Name:  "used-slots",
		Usage: "Number of storage slots used by the management processor",
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			rpcClient, err := rpc.DialContext(ctx, conf.NodeURL)
			if err != nil {
				return fmt.Errorf("failed to connect to node: %w", err)
			}
			defer rpcClient.Close()

			var res *hexutil.Big

			err = rpcClient.CallContext(ctx, &res, "batterybase_getNumberOfUsedSlots")
			if err != nil {
				return fmt.Errorf("failed to get used slots: %w", err)
			}

			fmt.Println(res.ToInt().String())

			return nil
		},
	}
}

func Deal() *cli.Command {
	return &cli.Command{
		Name:      "deal",
		Usage:     "Print a replacement deal recorded on the ledger",
		ArgsUsage: "<deal key>",
		Action: func(c *cli.Context) error {
			key := c.Args().First()
			if len(key) != 66 && len(key) != 64 {
				return fmt.Errorf("invalid deal key %q", key)
			}

			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			d, err := session.Ledger.Deal(ctx, common.HexToHash(key))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}
