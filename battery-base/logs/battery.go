package logs

import "github.com/ethereum/go-ethereum/crypto"

// BatteryVendorRegistered is the event signature for vendor registration logs.
// Parameters: vendorAddress (indexed), vendorID (indexed), deposit (wei)
var BatteryVendorRegistered = crypto.Keccak256Hash([]byte("BatteryVendorRegistered(address,bytes4,uint256)"))

// BatteryVendorDeposit is the event signature for deposit top-ups.
// Parameters: vendorAddress (indexed), amount, newBalance
var BatteryVendorDeposit = crypto.Keccak256Hash([]byte("BatteryVendorDeposit(address,uint256,uint256)"))

// BatteryIssued is the event signature emitted once per battery of a batch registration.
// Parameters: batteryAddress (indexed), vendorAddress (indexed), fee (wei)
var BatteryIssued = crypto.Keccak256Hash([]byte("BatteryIssued(address,address,uint256)"))

// BatteryOwnershipTransferred is the event signature for ownership changes.
// Parameters: batteryAddress (indexed), oldOwner (indexed), newOwner (indexed)
var BatteryOwnershipTransferred = crypto.Keccak256Hash([]byte("BatteryOwnershipTransferred(address,address,address)"))

// BatteryServiceCenterRegistered is the event signature for service center registration.
// Parameters: serviceCenterAddress (indexed)
var BatteryServiceCenterRegistered = crypto.Keccak256Hash([]byte("BatteryServiceCenterRegistered(address)"))

// BatteryDealCreated is the event signature for a recorded replacement deal.
// Parameters: dealKey (indexed), car (indexed), serviceCenter (indexed), price (wei)
var BatteryDealCreated = crypto.Keccak256Hash([]byte("BatteryDealCreated(bytes32,address,address,uint256)"))

// BatteryFeeConfigured is the event signature for fee policy changes.
// Parameters: admin (indexed), batteryFee (wei)
var BatteryFeeConfigured = crypto.Keccak256Hash([]byte("BatteryFeeConfigured(address,uint256)"))
