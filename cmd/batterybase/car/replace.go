package car

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Replace() *cli.Command {
	cfg := struct {
		serviceCenter string
	}{}
	return &cli.Command{
		Name:      "replace",
		Usage:     "Replace the car battery with one offered by a service center",
		ArgsUsage: "<car battery> <offered battery>",
		Flags: []cli.Flag{
			settings.AccountFlag("car"),
			&cli.StringFlag{
				Name:        "service-center",
				Aliases:     []string{"sc"},
				Usage:       "URL of the service center, defaults to the config",
				EnvVars:     []string{"SERVICE_CENTER_URL"},
				Destination: &cfg.serviceCenter,
			},
		},
		Action: func(c *cli.Context) error {
			args := c.Args()
			if args.Len() != 2 || !common.IsHexAddress(args.Get(0)) || !common.IsHexAddress(args.Get(1)) {
				return fmt.Errorf("expected the addresses of the car battery and the offered battery")
			}
			carBattery := common.HexToAddress(args.Get(0))
			scBattery := common.HexToAddress(args.Get(1))

			conf, err := settings.Load(c)
			if err != nil {
				return err
			}
			if c.IsSet("service-center") {
				conf.Car.ServiceCenterURL = cfg.serviceCenter
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			ua, a, err := settings.LoadAccount(c, conf)
			if err != nil {
				return err
			}
			defer ua.Close()

			own, err := settings.OpenStore(conf, ua.Name)
			if err != nil {
				return err
			}
			defer own.Close()

			devices, err := settings.OpenStore(conf, settings.DevicesStore)
			if err != nil {
				return err
			}
			defer devices.Close()

			client, err := replacement.DialServiceCenter(ctx, conf.Car.ServiceCenterURL)
			if err != nil {
				return err
			}
			defer client.Close()

			car := replacement.NewCar(a, session.Ledger, session.Verifier(devices, own), devices, own, conf.ReplacementConfig())

			deal, err := car.Replace(ctx, client, carBattery, scBattery)

			var abortErr *replacement.AbortError
			if errors.As(err, &abortErr) {
				fmt.Println("Replacement", deal.ID, "failed:", abortErr.State)
				fmt.Println("Step:", abortErr.Step)
				fmt.Println("Reason:", abortErr.Reason)
				return cli.Exit(abortErr.Error(), 1)
			}
			if err != nil {
				return err
			}

			PrintDeal(deal)

			return nil
		},
	}
}

func PrintDeal(d *replacement.Deal) {
	fmt.Println("Replacement:", d.ID)
	fmt.Println("State:", d.State)
	fmt.Println("Service center:", d.ServiceCenter.Hex())
	fmt.Println("Old battery:", d.CarBattery.Hex())
	fmt.Println("New battery:", d.SCBattery.Hex())
	fmt.Println("Cost:", d.Cost.String(), "ETH")
	if d.LedgerDeal != (common.Hash{}) {
		fmt.Println("Ledger deal:", d.LedgerDeal.Hex())
	}
	if d.Error != "" {
		fmt.Println("Error:", d.Error)
	}
}
