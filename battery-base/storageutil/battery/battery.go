// Package battery keeps the ledger side battery records and the per-owner and
// per-vendor battery sets.
package battery

import (
	"bytes"
	"errors"
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset"
	"github.com/evbattery/batterybase/battery-base/storageutil/stateblob"
)

type StateAccess = storageutil.StateAccess

var (
	ErrNotFound          = errors.New("battery not found")
	ErrAlreadyRegistered = errors.New("battery already registered")
)

var (
	RecordSalt      = []byte("batteryRecord")
	OwnerSetSalt    = []byte("batteriesOfOwner")
	VendorSetSalt   = []byte("batteriesOfVendor")
	AllBatteriesKey = crypto.Keccak256Hash([]byte("batteryAllBatteries"))
)

type Battery struct {
	Address       common.Address `json:"address"`
	Vendor        common.Address `json:"vendor"`
	Owner         common.Address `json:"owner"`
	IssuedAtBlock uint64         `json:"issuedAtBlock"`
}

func recordKey(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(RecordSalt, addr[:])
}

func OwnerSetKey(owner common.Address) common.Hash {
	return crypto.Keccak256Hash(OwnerSetSalt, owner[:])
}

func VendorSetKey(vendor common.Address) common.Hash {
	return crypto.Keccak256Hash(VendorSetSalt, vendor[:])
}

func Exists(access StateAccess, addr common.Address) bool {
	return keyset.ContainsValue(access, AllBatteriesKey, keyset.AddressToHash(addr))
}

// Issue registers a new battery owned by its vendor.
func Issue(access StateAccess, b Battery) error {
	if Exists(access, b.Address) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, b.Address.Hex())
	}

	err := store(access, b)
	if err != nil {
		return err
	}

	h := keyset.AddressToHash(b.Address)

	for _, setKey := range []common.Hash{AllBatteriesKey, OwnerSetKey(b.Owner), VendorSetKey(b.Vendor)} {
		err = keyset.AddValue(access, setKey, h)
		if err != nil {
			return fmt.Errorf("failed to index battery %s: %w", b.Address.Hex(), err)
		}
	}

	return nil
}

func store(access StateAccess, b Battery) error {
	buf := new(bytes.Buffer)
	err := rlp.Encode(buf, &b)
	if err != nil {
		return fmt.Errorf("failed to encode battery: %w", err)
	}

	stateblob.SetBlob(access, recordKey(b.Address), buf.Bytes())
	return nil
}

func Get(access StateAccess, addr common.Address) (*Battery, error) {
	if !Exists(access, addr) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr.Hex())
	}

	d := stateblob.GetBlob(access, recordKey(addr))

	b := Battery{}
	err := rlp.DecodeBytes(d, &b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode battery %s: %w", addr.Hex(), err)
	}

	return &b, nil
}

// SetOwner moves a battery to a new owner and returns the previous owner.
func SetOwner(access StateAccess, addr common.Address, newOwner common.Address) (common.Address, error) {
	b, err := Get(access, addr)
	if err != nil {
		return common.Address{}, err
	}

	oldOwner := b.Owner
	if oldOwner == newOwner {
		return oldOwner, nil
	}

	h := keyset.AddressToHash(addr)

	err = keyset.RemoveValue(access, OwnerSetKey(oldOwner), h)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to remove battery from owner set: %w", err)
	}

	err = keyset.AddValue(access, OwnerSetKey(newOwner), h)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to add battery to owner set: %w", err)
	}

	b.Owner = newOwner
	err = store(access, *b)
	if err != nil {
		return common.Address{}, err
	}

	return oldOwner, nil
}

func iterateAddresses(access StateAccess, setKey common.Hash) iter.Seq[common.Address] {
	return func(yield func(common.Address) bool) {
		for h := range keyset.Iterate(access, setKey) {
			if !yield(keyset.HashToAddress(h)) {
				return
			}
		}
	}
}

func IterateOwnedBy(access StateAccess, owner common.Address) iter.Seq[common.Address] {
	return iterateAddresses(access, OwnerSetKey(owner))
}

func IterateIssuedBy(access StateAccess, vendor common.Address) iter.Seq[common.Address] {
	return iterateAddresses(access, VendorSetKey(vendor))
}

func CountIssuedBy(access StateAccess, vendor common.Address) uint64 {
	return keyset.Size(access, VendorSetKey(vendor)).Uint64()
}
