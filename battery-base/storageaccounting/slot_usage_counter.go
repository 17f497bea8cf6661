package storageaccounting

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/holiman/uint256"
)

var UsedSlotsKey = crypto.Keccak256Hash([]byte("batteryUsedSlots"))

// SlotUsageCounter wraps a StateAccess and tracks how many non-empty slots each account
// gains or loses while a management transaction runs.
type SlotUsageCounter struct {
	UsedSlots   map[common.Address]*uint256.Int
	stateAccess storageutil.StateAccess
}

func NewSlotUsageCounter(stateAccess storageutil.StateAccess) *SlotUsageCounter {
	return &SlotUsageCounter{
		UsedSlots:   make(map[common.Address]*uint256.Int),
		stateAccess: stateAccess,
	}
}

func (c *SlotUsageCounter) GetState(address common.Address, key common.Hash) common.Hash {
	return c.stateAccess.GetState(address, key)
}

func (c *SlotUsageCounter) SetState(address common.Address, key common.Hash, value common.Hash) common.Hash {
	prev := c.stateAccess.SetState(address, key, value)
	if prev == value {
		return prev
	}

	counter := c.UsedSlots[address]
	if counter == nil {
		counter = uint256.NewInt(0)
		c.UsedSlots[address] = counter
	}

	switch {
	case prev == (common.Hash{}) && value != (common.Hash{}):
		counter.AddUint64(counter, 1)
	case prev != (common.Hash{}) && value == (common.Hash{}):
		counter.SubUint64(counter, 1)
	}

	return prev
}

// Delta returns the net number of slots allocated across all accounts, which can be
// negative when a transaction frees more than it allocates.
func (c *SlotUsageCounter) Delta() int64 {
	var total int64
	for _, counter := range c.UsedSlots {
		// counters wrap around on net frees
		total += int64(counter.Uint64())
	}
	return total
}

// Commit adds the tracked usage to the persisted counter and resets the tracking.
func (c *SlotUsageCounter) Commit() {
	stored := GetNumberOfUsedSlots(c.stateAccess)
	for _, counter := range c.UsedSlots {
		stored.Add(stored, counter)
		counter.Clear()
	}
	c.stateAccess.SetState(storageutil.BatteryDBAddress, UsedSlotsKey, stored.Bytes32())
}

func GetNumberOfUsedSlots(db storageutil.StateAccess) *uint256.Int {
	return new(uint256.Int).SetBytes32(db.GetState(storageutil.BatteryDBAddress, UsedSlotsKey).Bytes())
}
