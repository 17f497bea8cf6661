package address

import "github.com/ethereum/go-ethereum/common"

var (
	// BatteryManagementProcessorAddress receives management transactions and holds the
	// vendor, battery and deal state.
	BatteryManagementProcessorAddress = common.HexToAddress("0x00000000000000000000000000000000ba77e41e")
	// BatteryIndexAddress holds the enumerable sets (batteries of owner, batteries of vendor).
	BatteryIndexAddress = common.HexToAddress("0x00000000000000000000000000000000ba77e41f")
)
