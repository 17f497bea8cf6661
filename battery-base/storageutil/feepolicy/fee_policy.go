// Package feepolicy holds the processor wide settings: the per battery issuance fee
// and the admin account allowed to change it.
package feepolicy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/holiman/uint256"
)

var (
	BatteryFeeKey = crypto.Keccak256Hash([]byte("batteryFee"))
	AdminKey      = crypto.Keccak256Hash([]byte("batteryAdmin"))
)

// DefaultBatteryFee applies until an admin configures a fee: 0.001 ether per battery.
var DefaultBatteryFee = new(big.Int).SetUint64(params.Ether / 1000)

// BatteryFee is stored as fee+1 so that a zero fee can be told apart from an unset one.
func BatteryFee(access storageutil.StateAccess) *big.Int {
	v := access.GetState(storageutil.BatteryDBAddress, BatteryFeeKey)
	if v == (common.Hash{}) {
		return new(big.Int).Set(DefaultBatteryFee)
	}
	fee := new(uint256.Int).SetBytes32(v[:])
	fee.SubUint64(fee, 1)
	return fee.ToBig()
}

func SetBatteryFee(access storageutil.StateAccess, fee *uint256.Int) {
	stored := new(uint256.Int).AddUint64(fee, 1)
	access.SetState(storageutil.BatteryDBAddress, BatteryFeeKey, stored.Bytes32())
}

// Admin returns the configured admin. The zero address means no admin has claimed
// the processor yet.
func Admin(access storageutil.StateAccess) common.Address {
	v := access.GetState(storageutil.BatteryDBAddress, AdminKey)
	return common.BytesToAddress(v[12:])
}

func SetAdmin(access storageutil.StateAccess, admin common.Address) {
	access.SetState(storageutil.BatteryDBAddress, AdminKey, common.BytesToHash(admin[:]))
}
