package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/logs"
	"github.com/evbattery/batterybase/battery-base/storageutil/battery"
	"github.com/evbattery/batterybase/battery-base/storageutil/deal"
	"github.com/evbattery/batterybase/battery-base/storageutil/feepolicy"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset"
	"github.com/evbattery/batterybase/battery-base/storageutil/servicecenter"
	"github.com/evbattery/batterybase/battery-base/storageutil/vendor"
)

var errReadOnly = errors.New("ledger state is read only")

// stateReader reads processor state through eth_getStorageAt. The first failed read
// is kept in err and every later read returns zero, so callers check err once after
// a storage helper returns.
type stateReader struct {
	ctx     context.Context
	backend Backend
	err     error
}

func (l *Ledger) reader(ctx context.Context) *stateReader {
	return &stateReader{ctx: ctx, backend: l.backend}
}

func (r *stateReader) GetState(a common.Address, slot common.Hash) common.Hash {
	if r.err != nil {
		return common.Hash{}
	}
	v, err := r.backend.StorageAt(r.ctx, a, slot, nil)
	if err != nil {
		r.err = fmt.Errorf("failed to read storage slot %s: %w", slot.Hex(), err)
		return common.Hash{}
	}
	return common.BytesToHash(v)
}

func (r *stateReader) SetState(common.Address, common.Hash, common.Hash) common.Hash {
	r.err = errReadOnly
	return common.Hash{}
}

func (l *Ledger) Battery(ctx context.Context, addr common.Address) (*battery.Battery, error) {
	r := l.reader(ctx)
	b, err := battery.Get(r, addr)
	switch {
	case r.err != nil:
		return nil, r.err
	case errors.Is(err, battery.ErrNotFound):
		return nil, fmt.Errorf("%w: battery %s", ErrNotFound, addr.Hex())
	case err != nil:
		return nil, err
	}
	return b, nil
}

func (l *Ledger) Vendor(ctx context.Context, addr common.Address) (*vendor.Vendor, error) {
	r := l.reader(ctx)
	v, err := vendor.Get(r, addr)
	switch {
	case r.err != nil:
		return nil, r.err
	case errors.Is(err, vendor.ErrNotFound):
		return nil, fmt.Errorf("%w: vendor %s", ErrNotFound, addr.Hex())
	case err != nil:
		return nil, err
	}
	return v, nil
}

func (l *Ledger) VendorByName(ctx context.Context, name string) (*vendor.Vendor, error) {
	r := l.reader(ctx)
	addr, ok := vendor.AddressByName(r, name)
	if r.err != nil {
		return nil, r.err
	}
	if !ok {
		return nil, fmt.Errorf("%w: vendor %q", ErrNotFound, name)
	}
	return l.Vendor(ctx, addr)
}

func (l *Ledger) IsServiceCenter(ctx context.Context, addr common.Address) (bool, error) {
	r := l.reader(ctx)
	ok := servicecenter.IsRegistered(r, addr)
	if r.err != nil {
		return false, r.err
	}
	return ok, nil
}

func (l *Ledger) BatteriesOf(ctx context.Context, owner common.Address) ([]common.Address, error) {
	r := l.reader(ctx)
	batteries := slices.Collect(battery.IterateOwnedBy(r, owner))
	if r.err != nil {
		return nil, r.err
	}
	return batteries, nil
}

func (l *Ledger) BatteryFee(ctx context.Context) (*big.Int, error) {
	r := l.reader(ctx)
	fee := feepolicy.BatteryFee(r)
	if r.err != nil {
		return nil, r.err
	}
	return fee, nil
}

func (l *Ledger) Deal(ctx context.Context, key common.Hash) (*deal.Deal, error) {
	r := l.reader(ctx)
	d, err := deal.Get(r, key)
	switch {
	case r.err != nil:
		return nil, r.err
	case errors.Is(err, deal.ErrNotFound):
		return nil, fmt.Errorf("%w: deal %s", ErrNotFound, key.Hex())
	case err != nil:
		return nil, err
	}
	return d, nil
}

// Transfer is one entry of a battery's ownership history. Issuance appears as a
// transfer from the zero address to the vendor.
type Transfer struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

// OwnershipHistory lists the owners of a battery from issuance on, oldest first.
func (l *Ledger) OwnershipHistory(ctx context.Context, addr common.Address) ([]Transfer, error) {
	batteryTopic := keyset.AddressToHash(addr)

	found, err := l.backend.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{l.cfg.Processor},
		Topics: [][]common.Hash{
			{logs.BatteryIssued, logs.BatteryOwnershipTransferred},
			{batteryTopic},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter ownership logs: %w", err)
	}

	history := make([]Transfer, 0, len(found))
	for _, lg := range found {
		switch {
		case lg.Topics[0] == logs.BatteryIssued && len(lg.Topics) >= 3:
			history = append(history, Transfer{
				To:          keyset.HashToAddress(lg.Topics[2]),
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash,
			})
		case lg.Topics[0] == logs.BatteryOwnershipTransferred && len(lg.Topics) >= 4:
			history = append(history, Transfer{
				From:        keyset.HashToAddress(lg.Topics[2]),
				To:          keyset.HashToAddress(lg.Topics[3]),
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash,
			})
		}
	}

	slices.SortStableFunc(history, func(a, b Transfer) int {
		switch {
		case a.BlockNumber < b.BlockNumber:
			return -1
		case a.BlockNumber > b.BlockNumber:
			return 1
		}
		return 0
	})

	return history, nil
}
