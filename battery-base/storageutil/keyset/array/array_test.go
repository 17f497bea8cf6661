package array_test

import (
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset/array"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type mockStateAccess struct {
	storage map[common.Address]map[common.Hash]common.Hash
}

func newMockStateAccess() *mockStateAccess {
	return &mockStateAccess{storage: make(map[common.Address]map[common.Hash]common.Hash)}
}

func (m *mockStateAccess) GetState(addr common.Address, key common.Hash) common.Hash {
	return m.storage[addr][key]
}

func (m *mockStateAccess) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	prev := m.storage[addr][key]
	m.storage[addr][key] = value
	return prev
}

func TestEmptyArray(t *testing.T) {
	db := newMockStateAccess()
	a := array.NewArray(db, common.HexToHash("0xabc"))

	require.Equal(t, uint256.NewInt(0), a.Size())

	_, err := a.Get(uint256.NewInt(0))
	require.ErrorIs(t, err, array.ErrIndexOutOfBounds)
	require.ErrorIs(t, a.RemoveLast(), array.ErrArrayEmpty)
}

func TestAppendGetSet(t *testing.T) {
	db := newMockStateAccess()
	a := array.NewArray(db, common.HexToHash("0xabc"))

	a.Append(common.HexToHash("0xa"))
	a.Append(common.HexToHash("0xb"))
	require.Equal(t, uint256.NewInt(2), a.Size())

	got, err := a.Get(uint256.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xb"), got)

	require.NoError(t, a.Set(uint256.NewInt(0), common.HexToHash("0xc")))
	require.ErrorIs(t, a.Set(uint256.NewInt(2), common.HexToHash("0xd")), array.ErrIndexOutOfBounds)

	require.Equal(t, []common.Hash{common.HexToHash("0xc"), common.HexToHash("0xb")}, slices.Collect(a.Iterate))

	require.NoError(t, a.RemoveLast())
	require.Equal(t, []common.Hash{common.HexToHash("0xc")}, slices.Collect(a.Iterate))
}
