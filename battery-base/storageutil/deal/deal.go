// Package deal stores completed replacement deals recorded by cars.
package deal

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/stateblob"
	"github.com/klauspost/compress/zstd"
)

var ErrNotFound = errors.New("deal not found")

var RecordSalt = []byte("batteryDealRecord")

// deal records carry two full attestations and are kept zstd compressed
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

type Deal struct {
	Key            common.Hash        `json:"key"`
	Car            common.Address     `json:"car"`
	ServiceCenter  common.Address     `json:"serviceCenter"`
	OldBattery     common.Address     `json:"oldBattery"`
	NewBattery     common.Address     `json:"newBattery"`
	Attestations   attestation.Packed `json:"attestations"`
	Price          *big.Int           `json:"price"`
	CreatedAtBlock uint64             `json:"createdAtBlock"`
}

// DeriveKey derives the deal key from the transaction that created it and the
// position of the operation inside the transaction.
func DeriveKey(txHash common.Hash, opIx int) common.Hash {
	paddedIx := common.LeftPadBytes(big.NewInt(int64(opIx)).Bytes(), 32)
	return crypto.Keccak256Hash(txHash.Bytes(), paddedIx)
}

func recordKey(key common.Hash) common.Hash {
	return crypto.Keccak256Hash(RecordSalt, key[:])
}

func Exists(access storageutil.StateAccess, key common.Hash) bool {
	return stateblob.HasBlob(access, recordKey(key))
}

func Store(access storageutil.StateAccess, d Deal) error {
	buf := new(bytes.Buffer)
	err := rlp.Encode(buf, &d)
	if err != nil {
		return fmt.Errorf("failed to encode deal: %w", err)
	}

	compressed := encoder.EncodeAll(buf.Bytes(), nil)

	stateblob.SetBlob(access, recordKey(d.Key), compressed)
	return nil
}

func Get(access storageutil.StateAccess, key common.Hash) (*Deal, error) {
	if !Exists(access, key) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Hex())
	}

	raw, err := decoder.DecodeAll(stateblob.GetBlob(access, recordKey(key)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress deal %s: %w", key.Hex(), err)
	}

	d := Deal{}
	err = rlp.DecodeBytes(raw, &d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode deal %s: %w", key.Hex(), err)
	}

	return &d, nil
}
