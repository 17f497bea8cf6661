// Package stateblob stores variable length byte strings in consecutive 32-byte state
// slots of the management processor account.
//
// Values of up to 31 bytes live in a single slot with 2*len in the last byte. Longer
// values use a head slot holding 2*len+1 followed by ceil(len/32) data slots.
package stateblob

import (
	"encoding/binary"
	"iter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/holiman/uint256"
)

type StateAccess = storageutil.StateAccess

var emptyHash = common.Hash{}

func SetBlob(db StateAccess, key common.Hash, value []byte) {
	// overwriting a longer blob must not leave stale tail slots behind
	DeleteBlob(db, key)

	slot := new(uint256.Int).SetBytes(key[:])
	for v := range BytesTo32ByteSequence(value) {
		db.SetState(storageutil.BatteryDBAddress, slot.Bytes32(), v)
		slot.AddUint64(slot, 1)
	}
}

func BytesTo32ByteSequence(value []byte) iter.Seq[common.Hash] {
	return func(yield func(common.Hash) bool) {
		if len(value) <= 31 {
			data := common.RightPadBytes(value, 32)
			data[31] = byte(len(value) * 2)
			yield(common.BytesToHash(data))
			return
		}

		length := uint256.NewInt(uint64(len(value)*2 + 1))
		if !yield(common.BytesToHash(length.Bytes())) {
			return
		}

		for start := 0; start < len(value); start += 32 {
			end := min(start+32, len(value))
			if !yield(common.BytesToHash(common.RightPadBytes(value[start:end], 32))) {
				return
			}
		}
	}
}

func GetBlob(db StateAccess, key common.Hash) []byte {
	head := db.GetState(storageutil.BatteryDBAddress, key)
	if head == emptyHash {
		return []byte{}
	}

	if head[31]&0x01 == 0 {
		length := head[31] / 2
		return common.CopyBytes(head[:length])
	}

	dataLength := (binary.BigEndian.Uint64(head[24:]) - 1) / 2

	value := make([]byte, 0, dataLength)
	remaining := dataLength

	slot := new(uint256.Int).SetBytes(key[:])
	slot.AddUint64(slot, 1)

	for remaining > 0 {
		chunk := db.GetState(storageutil.BatteryDBAddress, slot.Bytes32())
		size := min(remaining, 32)
		value = append(value, chunk[:size]...)
		remaining -= size
		slot.AddUint64(slot, 1)
	}

	return value
}

// HasBlob reports whether anything is stored under key. An empty value stored with
// SetBlob still occupies its head slot only when it is non-empty, so empty blobs are
// indistinguishable from missing ones.
func HasBlob(db StateAccess, key common.Hash) bool {
	return db.GetState(storageutil.BatteryDBAddress, key) != emptyHash
}

func DeleteBlob(db StateAccess, key common.Hash) {
	head := db.GetState(storageutil.BatteryDBAddress, key)
	if head == emptyHash {
		return
	}

	db.SetState(storageutil.BatteryDBAddress, key, emptyHash)

	if head[31]&0x01 == 0 {
		return
	}

	dataLength := (binary.BigEndian.Uint64(head[24:]) - 1) / 2
	numberOfSlots := (dataLength + 31) / 32

	slot := new(uint256.Int).SetBytes(key[:])
	slot.AddUint64(slot, 1)
	for range numberOfSlots {
		db.SetState(storageutil.BatteryDBAddress, slot.Bytes32(), emptyHash)
		slot.AddUint64(slot, 1)
	}
}
