package stateblob_test

import (
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/storageutil/stateblob"
	"github.com/stretchr/testify/require"
)

func TestPacker(t *testing.T) {

	t.Run("short slice", func(t *testing.T) {
		hashes := stateblob.BytesTo32ByteSequence([]byte("hello"))

		require.Equal(
			t,
			[]common.Hash{common.HexToHash("0x68656c6c6f00000000000000000000000000000000000000000000000000000a")},
			slices.Collect(hashes),
		)
	})

	t.Run("long slice", func(t *testing.T) {
		hashes := stateblob.BytesTo32ByteSequence([]byte("lorem ipsum dolor sit amet consectetur adipiscing elit"))

		require.Equal(
			t,
			[]common.Hash{
				common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000006d"),
				common.HexToHash("0x6c6f72656d20697073756d20646f6c6f722073697420616d657420636f6e7365"),
				common.HexToHash("0x6374657475722061646970697363696e6720656c697400000000000000000000"),
			},
			slices.Collect(hashes),
		)
	})
}

type mockStateAccess struct {
	storage map[common.Address]map[common.Hash]common.Hash
}

func newMockStateAccess() *mockStateAccess {
	return &mockStateAccess{
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (m *mockStateAccess) GetState(addr common.Address, key common.Hash) common.Hash {
	if m.storage[addr] == nil {
		return common.Hash{}
	}
	return m.storage[addr][key]
}

func (m *mockStateAccess) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	prev := m.storage[addr][key]
	if value == (common.Hash{}) {
		delete(m.storage[addr], key)
		if len(m.storage[addr]) == 0 {
			delete(m.storage, addr)
		}
	} else {
		m.storage[addr][key] = value
	}
	return prev
}

func (m *mockStateAccess) IsEmpty() bool {
	return len(m.storage) == 0
}

func TestBlobRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"small record":     []byte("vendor: acme"),
		"exactly 31 bytes": []byte("this-is-exactly-31-bytes-long!!"),
		"exactly 32 bytes": []byte("this-is-exactly-32-bytes-long!!!"),
		"large record":     []byte("a battery record that is definitely longer than a single storage slot"),
		"empty record":     {},
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			db := newMockStateAccess()
			key := common.HexToHash("0x1234")

			stateblob.SetBlob(db, key, value)
			require.Equal(t, value, stateblob.GetBlob(db, key))
			require.Equal(t, len(value) > 0, stateblob.HasBlob(db, key))

			stateblob.DeleteBlob(db, key)
			require.Empty(t, stateblob.GetBlob(db, key))
			require.True(t, db.IsEmpty())
		})
	}
}

func TestOverwriteShrinksBlob(t *testing.T) {
	db := newMockStateAccess()
	key := common.HexToHash("0x5678")

	stateblob.SetBlob(db, key, []byte("a long value spanning more than one thirty-two byte slot in state"))
	stateblob.SetBlob(db, key, []byte("short"))

	require.Equal(t, []byte("short"), stateblob.GetBlob(db, key))

	stateblob.DeleteBlob(db, key)
	require.True(t, db.IsEmpty(), "stale tail slots must be cleared on overwrite")
}
