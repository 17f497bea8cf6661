package array

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/holiman/uint256"
)

var (
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrArrayEmpty       = errors.New("array is empty")
)

// Array is a length-prefixed sequence of hashes: the size lives at the base slot and
// element i at base+1+i.
type Array struct {
	db   storageutil.StateAccess
	base common.Hash
}

func NewArray(db storageutil.StateAccess, base common.Hash) *Array {
	return &Array{db: db, base: base}
}

func (a *Array) Size() *uint256.Int {
	return new(uint256.Int).SetBytes32(a.db.GetState(address.BatteryIndexAddress, a.base).Bytes())
}

func (a *Array) elementSlot(index *uint256.Int) common.Hash {
	slot := new(uint256.Int).SetBytes32(a.base.Bytes())
	slot.Add(slot, index)
	slot.AddUint64(slot, 1)
	return common.Hash(slot.Bytes32())
}

func (a *Array) Get(index *uint256.Int) (common.Hash, error) {
	if index.Cmp(a.Size()) >= 0 {
		return common.Hash{}, ErrIndexOutOfBounds
	}
	return a.db.GetState(address.BatteryIndexAddress, a.elementSlot(index)), nil
}

func (a *Array) Append(value common.Hash) {
	size := a.Size()
	a.db.SetState(address.BatteryIndexAddress, a.elementSlot(size), value)

	size.AddUint64(size, 1)
	a.db.SetState(address.BatteryIndexAddress, a.base, size.Bytes32())
}

func (a *Array) RemoveLast() error {
	size := a.Size()
	if size.IsZero() {
		return ErrArrayEmpty
	}

	size.SubUint64(size, 1)
	a.db.SetState(address.BatteryIndexAddress, a.base, size.Bytes32())
	a.db.SetState(address.BatteryIndexAddress, a.elementSlot(size), common.Hash{})

	return nil
}

func (a *Array) Set(index *uint256.Int, value common.Hash) error {
	if index.Cmp(a.Size()) >= 0 {
		return ErrIndexOutOfBounds
	}
	a.db.SetState(address.BatteryIndexAddress, a.elementSlot(index), value)
	return nil
}

func (a *Array) Iterate(yield func(value common.Hash) bool) {
	size := a.Size()
	for i := new(uint256.Int); i.Cmp(size) < 0; i.AddUint64(i, 1) {
		value, err := a.Get(i)
		if err != nil {
			return
		}
		if !yield(value) {
			return
		}
	}
}
