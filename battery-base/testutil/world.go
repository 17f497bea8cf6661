package testutil

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/registry"
	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/evbattery/batterybase/battery-base/simchain"
	"github.com/evbattery/batterybase/battery-base/sqlstore"
	"github.com/evbattery/batterybase/battery-base/verification"
)

var ChainID = big.NewInt(1337)

const VendorName = "Acme Cells"

// World is the test world - it holds all the state that is shared between steps.
// Batteries are firmware devices in Devices, which every actor can reach, as the
// units are physically presented to each other.
type World struct {
	Chain    *simchain.Chain
	Ledger   *ledger.Ledger
	Registry *registry.Registry

	Devices  *sqlstore.SQLStore
	SCStore  *sqlstore.SQLStore
	CarStore *sqlstore.SQLStore

	Vendor        *actor.Actor
	Car           *actor.Actor
	ServiceCenter *actor.Actor

	CarBattery Battery
	SCBattery  Battery

	LastDeal         *replacement.Deal
	LastError        error
	LastVerification *verification.Result

	Issued      []registry.Identity
	LoseAnswers bool

	tempDir string
}

func EthToWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func NewWorld(ctx context.Context) (*World, error) {
	td, err := os.MkdirTemp("", "battery-base")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	w := &World{
		Chain:   simchain.New(ChainID),
		tempDir: td,
	}

	w.Ledger, err = ledger.New(ctx, w.Chain, ledger.Config{
		ConfirmTimeout: 2 * time.Second,
		PollInitial:    5 * time.Millisecond,
		PollMax:        50 * time.Millisecond,
		MaxAttempts:    2,
	})
	if err != nil {
		w.Shutdown()
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	w.Registry = registry.New(w.Ledger)

	for name, store := range map[string]**sqlstore.SQLStore{
		"devices.db": &w.Devices,
		"scenter.db": &w.SCStore,
		"car.db":     &w.CarStore,
	} {
		*store, err = sqlstore.NewStore(filepath.Join(td, name))
		if err != nil {
			w.Shutdown()
			return nil, err
		}
	}

	w.Vendor, err = w.NewActor(EthToWei(100))
	if err != nil {
		w.Shutdown()
		return nil, err
	}
	w.Car, err = w.NewActor(EthToWei(100))
	if err != nil {
		w.Shutdown()
		return nil, err
	}
	w.ServiceCenter, err = w.NewActor(EthToWei(100))
	if err != nil {
		w.Shutdown()
		return nil, err
	}

	_, err = w.Registry.RegisterVendor(ctx, w.Vendor, VendorName, EthToWei(1))
	if err != nil {
		w.Shutdown()
		return nil, fmt.Errorf("failed to register vendor: %w", err)
	}

	_, err = w.Ledger.RegisterServiceCenter(ctx, w.ServiceCenter)
	if err != nil {
		w.Shutdown()
		return nil, fmt.Errorf("failed to register service center: %w", err)
	}

	return w, nil
}

// NewActor creates an account funded with funds wei. Nil funds leaves it empty.
func (w *World) NewActor(funds *big.Int) (*actor.Actor, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	a := actor.New(key, actor.FeePolicy{})
	if funds != nil {
		w.Chain.Fund(a.Address, funds)
	}
	return a, nil
}

func (w *World) Verifier(snapshots verification.Snapshots) *verification.Service {
	opts := []verification.Option{verification.WithSources(w.Devices)}
	if snapshots != nil {
		opts = append(opts, verification.WithSnapshots(snapshots))
	}
	return verification.New(w.Ledger, w.Registry, opts...)
}

// NewServiceCenterFor builds the service center run by a.
func (w *World) NewServiceCenterFor(a *actor.Actor, opts ...replacement.ServiceCenterOption) *replacement.ServiceCenter {
	opts = append([]replacement.ServiceCenterOption{replacement.WithCustody(w.Devices)}, opts...)
	return replacement.NewServiceCenter(a, w.Ledger, w.Verifier(w.SCStore), w.SCStore, opts...)
}

func (w *World) NewServiceCenter(opts ...replacement.ServiceCenterOption) *replacement.ServiceCenter {
	return w.NewServiceCenterFor(w.ServiceCenter, opts...)
}

func (w *World) NewCarFor(a *actor.Actor, cfg replacement.Config) *replacement.Car {
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = time.Second
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 10 * time.Millisecond
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = time.Second
	}
	return replacement.NewCar(a, w.Ledger, w.Verifier(w.CarStore), w.Devices, w.CarStore, cfg)
}

func (w *World) NewCar(cfg replacement.Config) *replacement.Car {
	return w.NewCarFor(w.Car, cfg)
}

func (w *World) Shutdown() {
	for _, s := range []*sqlstore.SQLStore{w.Devices, w.SCStore, w.CarStore} {
		if s != nil {
			s.Close()
		}
	}
	w.Chain.Close()
	os.RemoveAll(w.tempDir)
}
