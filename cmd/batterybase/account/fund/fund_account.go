package fund

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evbattery/batterybase/cmd/batterybase/account/balance"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func FundAccount() *cli.Command {
	cfg := struct {
		value int64
	}{}
	return &cli.Command{
		Flags: []cli.Flag{
			settings.AccountFlag("default"),
			&cli.Int64Flag{
				Name:        "value",
				Usage:       "The amount of ETH to fund the account with",
				Value:       100,
				EnvVars:     []string{"VALUE"},
				Destination: &cfg.value,
			},
		},
		Name:  "fund",
		Usage: "Fund an account from the faucet of a development node",
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}
			if !conf.Dev {
				return fmt.Errorf("funding needs a development node, pass --dev")
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			account, err := settings.LookupAccount(ctx, conf, c.String("account"))
			if err != nil {
				return err
			}

			rpcClient, err := rpc.DialContext(ctx, conf.NodeURL)
			if err != nil {
				return fmt.Errorf("failed to dial node: %w", err)
			}
			defer rpcClient.Close()

			var newBalance hexutil.Big
			err = rpcClient.CallContext(ctx, &newBalance, "dev_fund", account.Address, (*hexutil.Big)(EthToWei(cfg.value)))
			if err != nil {
				return fmt.Errorf("failed to fund account: %w", err)
			}

			fmt.Println("Address:", account.Address.Hex())
			fmt.Println("Balance:", balance.EthToFloat(newBalance.ToInt()), "ETH")

			return nil
		},
	}
}

func EthToWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}
