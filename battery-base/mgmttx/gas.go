package mgmttx

// Fixed gas schedule of the management processor. Costs do not depend on state, so
// the gas limit of a transaction is known before it is submitted.
const (
	GasBase                  uint64 = 21_000
	GasConfigure             uint64 = 20_000
	GasRegisterVendor        uint64 = 60_000
	GasDeposit               uint64 = 10_000
	GasRegisterServiceCenter uint64 = 40_000
	GasRegisterBattery       uint64 = 30_000
	GasTransferOwnership     uint64 = 35_000
	GasInitiateDeal          uint64 = 80_000
)

func (tx *ManagementTransaction) RequiredGas() uint64 {
	gas := GasBase
	gas += uint64(len(tx.Configure)) * GasConfigure
	gas += uint64(len(tx.RegisterVendor)) * GasRegisterVendor
	gas += uint64(len(tx.Deposit)) * GasDeposit
	if tx.RegisterServiceCenter {
		gas += GasRegisterServiceCenter
	}
	for _, rb := range tx.RegisterBatteries {
		gas += uint64(len(rb.Batteries)) * GasRegisterBattery
	}
	gas += uint64(len(tx.TransferOwnership)) * GasTransferOwnership
	gas += uint64(len(tx.InitiateDeal)) * GasInitiateDeal
	return gas
}
