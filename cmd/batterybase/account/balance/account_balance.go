package balance

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func AccountBalance() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Get the balance of an account",
		Flags: []cli.Flag{
			settings.AccountFlag("default"),
		},
		Action: func(c *cli.Context) error {
			cfg, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			// the address is public, so the index spares a password prompt
			account, err := settings.LookupAccount(ctx, cfg, c.String("account"))
			if err != nil {
				return err
			}

			ethclient, err := ethclient.DialContext(ctx, cfg.NodeURL)
			if err != nil {
				return fmt.Errorf("failed to dial node: %w", err)
			}
			defer ethclient.Close()

			balance, err := ethclient.BalanceAt(ctx, account.Address, nil)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			fmt.Println("Address:", account.Address.Hex())
			fmt.Println("Balance:", humanize.Commaf(EthToFloat(balance)), "ETH")

			return nil
		},
	}
}

func EthToFloat(n *big.Int) float64 {
	f := new(big.Rat).SetFrac(n, big.NewInt(params.Ether))
	res, _ := f.Float64()
	return res
}
