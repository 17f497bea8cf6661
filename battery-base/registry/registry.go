// Package registry issues battery identities on behalf of vendors and resolves a
// battery identity back to the vendor that issued it.
package registry

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/evbattery/batterybase/battery-base/actor"
	"github.com/evbattery/batterybase/battery-base/ledger"
	"github.com/evbattery/batterybase/battery-base/mgmttx"
	"github.com/evbattery/batterybase/battery-base/storageutil/vendor"
)

var (
	ErrInsufficientDeposit = errors.New("insufficient vendor deposit")
	ErrDuplicateVendorName = errors.New("vendor name already taken")
	ErrLedgerRejected      = errors.New("ledger rejected the registration")
	ErrUnknownVendor       = errors.New("battery was not issued by a registered vendor")
	ErrNotRegistered       = errors.New("vendor is not registered")
)

// Identity is one issued battery: its private key, to be provisioned into the
// device, and the address derived from it.
type Identity struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// KeyHex returns the private key as 64 hex characters.
func (i Identity) KeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(i.Key))
}

// VendorInfo is the vendor a battery resolves to.
type VendorInfo struct {
	ID      [4]byte        `json:"id"`
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

func (v VendorInfo) IDHex() string {
	return "0x" + hex.EncodeToString(v.ID[:])
}

type Registry struct {
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Registry {
	return &Registry{ledger: l}
}

// classify maps a ledger failure to the registry error it stands for. The revert
// reason is kept in the chain.
func classify(op string, err error) error {
	var revertErr *ledger.RevertError
	if !errors.As(err, &revertErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	switch {
	case revertErr.Matches(mgmttx.ErrDuplicateVendorName):
		return fmt.Errorf("failed to %s: %w: %w", op, ErrDuplicateVendorName, err)
	case revertErr.Matches(mgmttx.ErrInsufficientDeposit):
		return fmt.Errorf("failed to %s: %w: %w", op, ErrInsufficientDeposit, err)
	default:
		return fmt.Errorf("failed to %s: %w: %w", op, ErrLedgerRejected, err)
	}
}

func (r *Registry) RegisterVendor(ctx context.Context, a *actor.Actor, name string, deposit *big.Int) (*vendor.Vendor, error) {
	if _, err := r.ledger.VendorByName(ctx, name); err == nil {
		return nil, fmt.Errorf("failed to register vendor %q: %w", name, ErrDuplicateVendorName)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up vendor name: %w", err)
	}

	_, err := r.ledger.RegisterVendor(ctx, a, name, deposit)
	if err != nil {
		return nil, classify("register vendor", err)
	}

	v, err := r.ledger.Vendor(ctx, a.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read registered vendor: %w", err)
	}

	log.Info("vendor registered", "name", v.Name, "id", common.Bytes2Hex(v.ID[:]), "address", v.Address)
	return v, nil
}

// Deposit tops up the vendor's deposit and returns the new balance.
func (r *Registry) Deposit(ctx context.Context, a *actor.Actor, amount *big.Int) (*big.Int, error) {
	_, err := r.ledger.Deposit(ctx, a, amount)
	if err != nil {
		return nil, classify("deposit", err)
	}

	v, err := r.ledger.Vendor(ctx, a.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendor: %w", err)
	}
	return v.Deposit, nil
}

func generate(count int) ([]Identity, error) {
	ids := make([]Identity, count)
	seen := make(map[common.Address]struct{}, count)
	for i := 0; i < count; {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate battery key: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		ids[i] = Identity{Key: key, Address: addr}
		i++
	}
	return ids, nil
}

// Issue creates count battery identities and registers them for the vendor in one
// batch. The batch is atomic: either every identity is registered or none is.
//
// When the vendor is not registered yet, name must be given: the vendor
// registration and the battery registration are then submitted back to back and
// confirmed together. A positive deposit is credited before the batteries are
// charged.
func (r *Registry) Issue(ctx context.Context, a *actor.Actor, count int, deposit *big.Int, name string) ([]Identity, error) {
	if count <= 0 || count > mgmttx.MaxBatteriesPerRegistration {
		return nil, fmt.Errorf("failed to issue batteries: count must be between 1 and %d, got %d", mgmttx.MaxBatteriesPerRegistration, count)
	}
	if deposit == nil {
		deposit = new(big.Int)
	}

	balance := new(big.Int)
	registered := true

	existing, err := r.ledger.Vendor(ctx, a.Address)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		if name == "" {
			return nil, fmt.Errorf("failed to issue batteries: %w: a vendor name is needed to register %s", ErrNotRegistered, a.Address.Hex())
		}
		registered = false
	case err != nil:
		return nil, fmt.Errorf("failed to look up vendor: %w", err)
	default:
		balance = existing.Deposit
		if name != "" && name != existing.Name {
			log.Warn("vendor already registered under another name", "registered", existing.Name, "requested", name)
		}
	}

	fee, err := r.ledger.BatteryFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery fee: %w", err)
	}

	need := new(big.Int).Mul(fee, big.NewInt(int64(count)))
	have := new(big.Int).Add(deposit, balance)
	if have.Cmp(need) < 0 {
		return nil, fmt.Errorf("failed to issue %d batteries: %w: have %s wei, need %s wei", count, ErrInsufficientDeposit, have, need)
	}

	ids, err := generate(count)
	if err != nil {
		return nil, err
	}

	addrs := make([]common.Address, len(ids))
	for i, id := range ids {
		addrs[i] = id.Address
	}

	var pendings []*ledger.Pending

	switch {
	case !registered:
		p, err := r.ledger.SubmitRegisterVendor(ctx, a, name, deposit)
		if err != nil {
			return nil, classify("register vendor", err)
		}
		pendings = append(pendings, p)
	case deposit.Sign() > 0:
		p, err := r.ledger.SubmitDeposit(ctx, a, deposit)
		if err != nil {
			return nil, classify("deposit", err)
		}
		pendings = append(pendings, p)
	}

	p, err := r.ledger.SubmitRegisterBatteries(ctx, a, addrs)
	if err != nil {
		if len(pendings) > 0 {
			// the first transaction is in flight; report its outcome too
			_, werr := r.ledger.ConfirmAll(ctx, pendings...)
			err = errors.Join(err, werr)
		}
		return nil, classify("register batteries", err)
	}
	pendings = append(pendings, p)

	_, err = r.ledger.ConfirmAll(ctx, pendings...)
	if err != nil {
		return nil, classify("issue batteries", err)
	}

	log.Info("batteries issued", "vendor", a.Address, "count", count, "fee", need)
	return ids, nil
}

// VendorOf resolves a battery identity to the vendor that issued it.
func (r *Registry) VendorOf(ctx context.Context, batteryAddr common.Address) (*VendorInfo, error) {
	b, err := r.ledger.Battery(ctx, batteryAddr)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, batteryAddr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up battery: %w", err)
	}

	v, err := r.ledger.Vendor(ctx, b.Vendor)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: vendor %s of battery %s", ErrUnknownVendor, b.Vendor.Hex(), batteryAddr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up vendor: %w", err)
	}

	return &VendorInfo{ID: v.ID, Name: v.Name, Address: v.Address}, nil
}
