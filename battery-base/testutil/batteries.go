package testutil

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/battery-base/registry"
)

type Battery struct {
	Address common.Address
	Device  *firmware.Device
}

// IssueBattery has the vendor issue one battery, provisions its device and hands
// it to owner. A nil owner leaves it with the vendor.
func (w *World) IssueBattery(ctx context.Context, owner *actor.Actor) (Battery, error) {
	ids, err := w.Registry.Issue(ctx, w.Vendor, 1, nil, "")
	if err != nil {
		return Battery{}, fmt.Errorf("failed to issue battery: %w", err)
	}

	b, err := w.ProvisionBattery(ctx, ids[0])
	if err != nil {
		return Battery{}, err
	}

	if owner != nil {
		_, err = w.Ledger.TransferOwnership(ctx, w.Vendor, b.Address, owner.Address)
		if err != nil {
			return Battery{}, fmt.Errorf("failed to hand battery to %s: %w", owner.Address.Hex(), err)
		}
	}

	return b, nil
}

// ProvisionBattery flashes an issued identity into a firmware device.
func (w *World) ProvisionBattery(ctx context.Context, id registry.Identity) (Battery, error) {
	dev, err := firmware.Provision(ctx, w.Devices, id.Key)
	if err != nil {
		return Battery{}, err
	}
	return Battery{Address: dev.Address(), Device: dev}, nil
}

// CounterfeitBattery provisions a device whose key was never issued.
func (w *World) CounterfeitBattery(ctx context.Context) (Battery, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Battery{}, fmt.Errorf("failed to generate key: %w", err)
	}
	dev, err := firmware.Provision(ctx, w.Devices, key)
	if err != nil {
		return Battery{}, err
	}
	return Battery{Address: dev.Address(), Device: dev}, nil
}

func (b Battery) Charge(ctx context.Context, cycles int) error {
	for range cycles {
		if _, err := b.Device.Charge(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) OwnerOf(ctx context.Context, battery common.Address) (common.Address, error) {
	b, err := w.Ledger.Battery(ctx, battery)
	if err != nil {
		return common.Address{}, err
	}
	return b.Owner, nil
}
