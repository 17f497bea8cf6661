// Package servicecenter keeps the set of registered service center accounts.
package servicecenter

import (
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset"
)

var AllServiceCenters = crypto.Keccak256Hash([]byte("batteryAllServiceCenters"))

func IsRegistered(access storageutil.StateAccess, addr common.Address) bool {
	return keyset.ContainsValue(access, AllServiceCenters, keyset.AddressToHash(addr))
}

func Register(access storageutil.StateAccess, addr common.Address) error {
	if IsRegistered(access, addr) {
		return fmt.Errorf("service center %s is already registered", addr.Hex())
	}
	return keyset.AddValue(access, AllServiceCenters, keyset.AddressToHash(addr))
}

func Iterate(access storageutil.StateAccess) iter.Seq[common.Address] {
	return func(yield func(common.Address) bool) {
		for h := range keyset.Iterate(access, AllServiceCenters) {
			if !yield(keyset.HashToAddress(h)) {
				return
			}
		}
	}
}
