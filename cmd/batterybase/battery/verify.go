package battery

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/verification"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
)

func Verify() *cli.Command {
	cfg := struct {
		attestation bool
		track       bool
	}{}
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify a battery against the ledger",
		Description: "Reads a fresh attestation from the local device of <battery>, or verifies the\n" +
			"attestation given as its five printed lines with --attestation.",
		ArgsUsage: "<battery> | --attestation <charges> <timestamp> <v> <r> <s>",
		Flags: []cli.Flag{
			settings.AccountFlag("default"),
			&cli.BoolFlag{
				Name:        "attestation",
				Usage:       "Verify an attestation given on the command line",
				Destination: &cfg.attestation,
			},
			&cli.BoolFlag{
				Name:        "track",
				Usage:       "Check the charge counter against the last one seen by the account",
				Destination: &cfg.track,
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			session, err := settings.Connect(ctx, conf)
			if err != nil {
				return err
			}
			defer session.Close()

			devices, err := settings.OpenStore(conf, settings.DevicesStore)
			if err != nil {
				return err
			}
			defer devices.Close()

			var snapshots verification.Snapshots
			if cfg.track {
				own, err := settings.OpenStore(conf, c.String("account"))
				if err != nil {
					return err
				}
				defer own.Close()
				snapshots = own
			}

			verifier := session.Verifier(devices, snapshots)

			var res *verification.Result
			if cfg.attestation {
				args := c.Args()
				if args.Len() != 5 {
					return fmt.Errorf("expected 5 attestation lines, got %d", args.Len())
				}
				a, err := attestation.Parse(args.Get(0), args.Get(1), args.Get(2), args.Get(3), args.Get(4))
				if err != nil {
					return err
				}
				res, err = verifier.VerifyAttestation(ctx, a)
				if err != nil {
					return err
				}
			} else {
				addr, err := addressArg(c, 0)
				if err != nil {
					return err
				}
				res, err = verifier.Verify(ctx, addr)
				if err != nil {
					return err
				}
			}

			Print(res)

			if !res.Verified {
				return cli.Exit("battery not verified", 1)
			}
			return nil
		},
	}
}

// Print renders a verification result.
func Print(res *verification.Result) {
	fmt.Println("Battery:", res.Battery.Hex())
	verdict := color.New(color.FgGreen, color.Bold).Sprint("verified")
	if !res.Verified {
		verdict = color.New(color.FgRed, color.Bold).Sprint("not verified")
	}
	fmt.Println("Battery is", verdict)
	fmt.Println("Charge count:", res.ChargeCount)
	fmt.Println("Attested:", humanize.Time(time.Unix(int64(res.Timestamp), 0)))
	if res.Regressed {
		fmt.Println("Charge counter went back since the last verification")
	}
	if res.VendorName != "" {
		fmt.Printf("Vendor: %s (0x%x)\n", res.VendorName, res.VendorID)
		fmt.Println("Owner:", res.Owner.Hex())
		fmt.Println("Issued at block:", res.IssuedAtBlock)
	}
}
