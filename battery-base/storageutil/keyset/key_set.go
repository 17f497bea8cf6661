// Package keyset is an enumerable set of hashes kept in processor state, in the manner
// of OpenZeppelin's EnumerableSet: an array of members plus a map from member to its
// 1-based position, giving O(1) add, remove and membership checks.
//
// Addresses are stored left padded to 32 bytes (see AddressToHash).
package keyset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset/array"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset/hashmap"
	"github.com/holiman/uint256"
)

type StateAccess = storageutil.StateAccess

var zeroHash = common.Hash{}
var oneUint256 = uint256.NewInt(1)
var MapKeyPrefix = []byte("batteryKeysetMap")

func AddressToHash(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func HashToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h[12:])
}

func ContainsValue(db StateAccess, setKey common.Hash, value common.Hash) bool {
	m := hashmap.NewMap(db, MapKeyPrefix, setKey[:])
	return m.Get(value) != zeroHash
}

// AddValue adds value to the set. Adding an existing member is a no-op.
func AddValue(db StateAccess, setKey common.Hash, value common.Hash) error {
	if ContainsValue(db, setKey, value) {
		return nil
	}

	members := array.NewArray(db, setKey)
	m := hashmap.NewMap(db, MapKeyPrefix, setKey[:])

	members.Append(value)
	m.Set(value, members.Size().Bytes32())

	return nil
}

// RemoveValue removes value from the set, moving the last member into the freed
// position. Removing a non-member is a no-op.
func RemoveValue(db StateAccess, setKey common.Hash, value common.Hash) error {
	if !ContainsValue(db, setKey, value) {
		return nil
	}

	members := array.NewArray(db, setKey)
	m := hashmap.NewMap(db, MapKeyPrefix, setKey[:])

	elementIndex := new(uint256.Int).SetBytes32(m.Get(value).Bytes())
	elementIndex.Sub(elementIndex, oneUint256)

	lastElementIndex := members.Size()
	lastElementIndex.Sub(lastElementIndex, oneUint256)
	lastElementValue, err := members.Get(lastElementIndex)
	if err != nil {
		return fmt.Errorf("failed to get last element: %w", err)
	}

	m.Set(value, zeroHash)

	if lastElementIndex.Cmp(elementIndex) != 0 {
		err = members.Set(elementIndex, lastElementValue)
		if err != nil {
			return fmt.Errorf("failed to move last element: %w", err)
		}
		position := new(uint256.Int).Add(elementIndex, oneUint256)
		m.Set(lastElementValue, position.Bytes32())
	}

	err = members.RemoveLast()
	if err != nil {
		return fmt.Errorf("failed to remove last element: %w", err)
	}

	return nil
}

func Size(db StateAccess, setKey common.Hash) *uint256.Int {
	return array.NewArray(db, setKey).Size()
}

func Iterate(db StateAccess, setKey common.Hash) func(yield func(value common.Hash) bool) {
	return array.NewArray(db, setKey).Iterate
}
