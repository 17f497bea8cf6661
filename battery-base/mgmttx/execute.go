package mgmttx

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/evbattery/batterybase/battery-base/compression"
	"github.com/evbattery/batterybase/battery-base/storageaccounting"
	"github.com/evbattery/batterybase/battery-base/storageutil"
)

const maxDecompressedSize = 1024 * 1024 * 4 // 4MB

func Unpack(compressed []byte) (*ManagementTransaction, error) {
	d, err := compression.BrotliDecompress(compressed, maxDecompressedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed management transaction: %w", err)
	}

	tx := &ManagementTransaction{}
	err = rlp.DecodeBytes(d, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode management transaction: %w", err)
	}

	return tx, nil
}

// Execute unpacks calldata, runs it and commits the slot usage of the run.
func Execute(compressed []byte, blockNumber uint64, txHash common.Hash, sender common.Address, value *big.Int, access storageutil.StateAccess) ([]*types.Log, error) {

	tx, err := Unpack(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack management transaction: %w", err)
	}

	st := storageaccounting.NewSlotUsageCounter(access)

	logs, err := tx.Run(blockNumber, txHash, sender, value, st)
	if err != nil {
		return nil, fmt.Errorf("failed to run management transaction: %w", err)
	}

	log.Debug("management transaction applied", "tx", txHash, "logs", len(logs), "slots", st.Delta())

	st.Commit()

	return logs, nil
}
