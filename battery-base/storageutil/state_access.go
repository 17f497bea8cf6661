package storageutil

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/address"
)

// BatteryDBAddress is the account whose storage holds the management processor state.
var BatteryDBAddress = address.BatteryManagementProcessorAddress

type StateAccess interface {
	GetState(common.Address, common.Hash) common.Hash
	SetState(common.Address, common.Hash, common.Hash) common.Hash
}
