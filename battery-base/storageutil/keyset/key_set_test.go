package keyset_test

import (
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// mockStateAccess implements StateAccess interface for testing
type mockStateAccess struct {
	storage map[common.Address]map[common.Hash]common.Hash
}

func newMockStateAccess() *mockStateAccess {
	return &mockStateAccess{
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (m *mockStateAccess) GetState(addr common.Address, key common.Hash) common.Hash {
	return m.storage[addr][key]
}

func (m *mockStateAccess) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	prev := m.storage[addr][key]
	if value == (common.Hash{}) {
		if storageMap, exists := m.storage[addr]; exists {
			delete(storageMap, key)
			if len(storageMap) == 0 {
				delete(m.storage, addr)
			}
		}
		return prev
	}
	if _, exists := m.storage[addr]; !exists {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	m.storage[addr][key] = value
	return prev
}

func (m *mockStateAccess) entries(addr common.Address) int {
	return len(m.storage[addr])
}

var setKey = common.HexToHash("0xba77")

func TestAddValue(t *testing.T) {
	db := newMockStateAccess()

	battery := keyset.AddressToHash(common.HexToAddress("0x01"))

	require.NoError(t, keyset.AddValue(db, setKey, battery))
	require.True(t, keyset.ContainsValue(db, setKey, battery))
	require.Equal(t, uint256.NewInt(1), keyset.Size(db, setKey))

	t.Run("adding twice is a no-op", func(t *testing.T) {
		require.NoError(t, keyset.AddValue(db, setKey, battery))
		require.Equal(t, uint256.NewInt(1), keyset.Size(db, setKey))
	})
}

func TestRemoveValue(t *testing.T) {
	t.Run("remove middle element keeps the rest enumerable", func(t *testing.T) {
		db := newMockStateAccess()
		a := common.HexToHash("0xa")
		b := common.HexToHash("0xb")
		c := common.HexToHash("0xc")

		for _, v := range []common.Hash{a, b, c} {
			require.NoError(t, keyset.AddValue(db, setKey, v))
		}

		require.NoError(t, keyset.RemoveValue(db, setKey, b))

		require.False(t, keyset.ContainsValue(db, setKey, b))
		require.True(t, keyset.ContainsValue(db, setKey, a))
		require.True(t, keyset.ContainsValue(db, setKey, c))
		require.ElementsMatch(t, []common.Hash{a, c}, slices.Collect(keyset.Iterate(db, setKey)))
	})

	t.Run("removing all elements clears the storage", func(t *testing.T) {
		db := newMockStateAccess()
		values := []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2"), common.HexToHash("0x3")}

		for _, v := range values {
			require.NoError(t, keyset.AddValue(db, setKey, v))
		}
		for _, v := range values {
			require.NoError(t, keyset.RemoveValue(db, setKey, v))
		}

		require.Equal(t, 0, db.entries(address.BatteryIndexAddress))
	})

	t.Run("removing a non-member is a no-op", func(t *testing.T) {
		db := newMockStateAccess()
		require.NoError(t, keyset.RemoveValue(db, setKey, common.HexToHash("0xdead")))
		require.True(t, keyset.Size(db, setKey).IsZero())
	})
}

func TestAddressHashRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.Equal(t, addr, keyset.HashToAddress(keyset.AddressToHash(addr)))
}
