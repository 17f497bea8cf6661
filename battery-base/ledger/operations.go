package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
)

const (
	OpRegisterVendor        = "register_vendor"
	OpDeposit               = "deposit"
	OpRegisterBatteries     = "register_batteries"
	OpRegisterServiceCenter = "register_service_center"
	OpTransferOwnership     = "transfer_ownership"
	OpInitiateDeal          = "initiate_deal"
	OpConfigure             = "configure"
)

// VendorRegistration builds the transaction registering a vendor, crediting deposit
// when it is positive.
func VendorRegistration(name string, deposit *big.Int) *mgmttx.ManagementTransaction {
	mtx := &mgmttx.ManagementTransaction{
		RegisterVendor: []mgmttx.RegisterVendor{{Name: name}},
	}
	if deposit != nil && deposit.Sign() > 0 {
		mtx.Deposit = []mgmttx.Deposit{{Amount: deposit}}
	}
	return mtx
}

func BatteryRegistration(batteries []common.Address) *mgmttx.ManagementTransaction {
	return &mgmttx.ManagementTransaction{
		RegisterBatteries: []mgmttx.RegisterBatteries{{Batteries: batteries}},
	}
}

func (l *Ledger) SubmitRegisterVendor(ctx context.Context, a *actor.Actor, name string, deposit *big.Int) (*Pending, error) {
	return l.submit(ctx, a, OpRegisterVendor, VendorRegistration(name, deposit), deposit)
}

func (l *Ledger) RegisterVendor(ctx context.Context, a *actor.Actor, name string, deposit *big.Int) (*Confirmation, error) {
	p, err := l.SubmitRegisterVendor(ctx, a, name, deposit)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, func(ctx context.Context) (bool, error) {
		_, err := l.Vendor(ctx, a.Address)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
}

func (l *Ledger) SubmitDeposit(ctx context.Context, a *actor.Actor, amount *big.Int) (*Pending, error) {
	mtx := &mgmttx.ManagementTransaction{
		Deposit: []mgmttx.Deposit{{Amount: amount}},
	}
	return l.submit(ctx, a, OpDeposit, mtx, amount)
}

// Deposit has no state to inspect after a timeout: a deposit is not idempotent, so
// a timeout is only retried by waiting for the same transaction again.
func (l *Ledger) Deposit(ctx context.Context, a *actor.Actor, amount *big.Int) (*Confirmation, error) {
	p, err := l.SubmitDeposit(ctx, a, amount)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, nil)
}

func (l *Ledger) SubmitRegisterBatteries(ctx context.Context, a *actor.Actor, batteries []common.Address) (*Pending, error) {
	return l.submit(ctx, a, OpRegisterBatteries, BatteryRegistration(batteries), nil)
}

func (l *Ledger) RegisterBatteries(ctx context.Context, a *actor.Actor, batteries []common.Address) (*Confirmation, error) {
	p, err := l.SubmitRegisterBatteries(ctx, a, batteries)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, func(ctx context.Context) (bool, error) {
		return l.allIssuedBy(ctx, a.Address, batteries)
	})
}

func (l *Ledger) allIssuedBy(ctx context.Context, vendorAddr common.Address, batteries []common.Address) (bool, error) {
	for _, b := range batteries {
		rec, err := l.Battery(ctx, b)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if rec.Vendor != vendorAddr {
			return false, nil
		}
	}
	return true, nil
}

func (l *Ledger) RegisterServiceCenter(ctx context.Context, a *actor.Actor) (*Confirmation, error) {
	registered, err := l.IsServiceCenter(ctx, a.Address)
	if err != nil {
		return nil, err
	}
	if registered {
		return &Confirmation{Op: OpRegisterServiceCenter, AlreadyApplied: true}, nil
	}

	p, err := l.submit(ctx, a, OpRegisterServiceCenter, &mgmttx.ManagementTransaction{RegisterServiceCenter: true}, nil)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, func(ctx context.Context) (bool, error) {
		return l.IsServiceCenter(ctx, a.Address)
	})
}

// TransferOwnership moves battery to newOwner. It is idempotent: if the battery is
// already owned by newOwner nothing is submitted and the call succeeds. Transfers of
// one battery are serialized until confirmation.
func (l *Ledger) TransferOwnership(ctx context.Context, a *actor.Actor, battery, newOwner common.Address) (*Confirmation, error) {
	unlock := l.batteries.lock(battery)
	defer unlock()

	rec, err := l.Battery(ctx, battery)
	if err != nil {
		return nil, fmt.Errorf("failed to transfer battery %s: %w", battery.Hex(), err)
	}

	if rec.Owner == newOwner {
		log.Info("battery already owned by recipient, skipping transfer", "battery", battery, "owner", newOwner)
		return &Confirmation{Op: OpTransferOwnership, AlreadyApplied: true}, nil
	}

	if rec.Owner != a.Address {
		return nil, fmt.Errorf("failed to transfer battery %s: %w: owner is %s", battery.Hex(), ErrOwnershipMismatch, rec.Owner.Hex())
	}

	mtx := &mgmttx.ManagementTransaction{
		TransferOwnership: []mgmttx.TransferOwnership{{Battery: battery, NewOwner: newOwner}},
	}

	p, err := l.submit(ctx, a, OpTransferOwnership, mtx, nil)
	if err != nil {
		return nil, err
	}

	return l.confirm(ctx, p, func(ctx context.Context) (bool, error) {
		rec, err := l.Battery(ctx, battery)
		if err != nil {
			return false, err
		}
		return rec.Owner == newOwner, nil
	})
}

// InitiateDeal records a completed replacement. The sender is the car; old is the
// battery it handed over, new the battery it received.
func (l *Ledger) InitiateDeal(ctx context.Context, a *actor.Actor, packed *attestation.Packed, serviceCenter common.Address, price *big.Int) (*Confirmation, error) {
	mtx := &mgmttx.ManagementTransaction{
		InitiateDeal: []mgmttx.InitiateDeal{{
			Attestations:  *packed,
			ServiceCenter: serviceCenter,
			Price:         price,
		}},
	}

	p, err := l.submit(ctx, a, OpInitiateDeal, mtx, nil)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, nil)
}

func (l *Ledger) Configure(ctx context.Context, a *actor.Actor, batteryFee *big.Int) (*Confirmation, error) {
	mtx := &mgmttx.ManagementTransaction{
		Configure: []mgmttx.Configure{{BatteryFee: batteryFee}},
	}

	p, err := l.submit(ctx, a, OpConfigure, mtx, nil)
	if err != nil {
		return nil, err
	}
	return l.confirm(ctx, p, func(ctx context.Context) (bool, error) {
		fee, err := l.BatteryFee(ctx)
		if err != nil {
			return false, err
		}
		return fee.Cmp(batteryFee) == 0, nil
	})
}
