package scenter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/metrics"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func Serve() *cli.Command {
	cfg := struct {
		listen        string
		metricsListen string
	}{}
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve replacement requests over JSON-RPC",
		Flags: []cli.Flag{
			settings.AccountFlag("scenter"),
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "Address of the JSON-RPC endpoint, defaults to the config",
				EnvVars:     []string{"SCENTER_LISTEN"},
				Destination: &cfg.listen,
			},
			&cli.StringFlag{
				Name:        "metrics-listen",
				Usage:       "Address of the metrics endpoint, empty to disable",
				EnvVars:     []string{"SCENTER_METRICS_LISTEN"},
				Destination: &cfg.metricsListen,
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := settings.Load(c)
			if err != nil {
				return err
			}
			if c.IsSet("listen") {
				conf.ServiceCenter.Listen = cfg.listen
			}
			if c.IsSet("metrics-listen") {
				conf.ServiceCenter.MetricsListen = cfg.metricsListen
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

			registered, err := session.Ledger.IsServiceCenter(ctx, a.Address)
			if err != nil {
				return err
			}
			if !registered {
				return fmt.Errorf("%s is not a registered service center, run 'scenter register' first", a.Address.Hex())
			}

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

			sc := replacement.NewServiceCenter(
				a,
				session.Ledger,
				session.Verifier(devices, own),
				own,
				replacement.WithPricing(conf.PricingPolicy()),
				replacement.WithCustody(devices),
			)

			rpcServer, err := replacement.NewRPCServer(sc)
			if err != nil {
				return err
			}
			defer rpcServer.Stop()

			handler := Limit(rpcServer, conf.ServiceCenter.RateLimit, conf.ServiceCenter.Burst)

			servers := []*http.Server{{Addr: conf.ServiceCenter.Listen, Handler: handler}}
			if conf.ServiceCenter.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				servers = append(servers, &http.Server{Addr: conf.ServiceCenter.MetricsListen, Handler: mux})
			}

			return Run(ctx, servers...)
		},
	}
}

// Run serves until ctx is done, then shuts all servers down.
func Run(ctx context.Context, servers ...*http.Server) error {
	eg, egCtx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		eg.Go(func() error {
			log.Info("listening", "addr", srv.Addr)
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}
