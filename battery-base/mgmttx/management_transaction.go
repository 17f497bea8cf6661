package mgmttx

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/compression"
	batterylogs "github.com/evbattery/batterybase/battery-base/logs"
	"github.com/evbattery/batterybase/battery-base/storageutil"
	"github.com/evbattery/batterybase/battery-base/storageutil/battery"
	"github.com/evbattery/batterybase/battery-base/storageutil/deal"
	"github.com/evbattery/batterybase/battery-base/storageutil/feepolicy"
	"github.com/evbattery/batterybase/battery-base/storageutil/keyset"
	"github.com/evbattery/batterybase/battery-base/storageutil/servicecenter"
	"github.com/evbattery/batterybase/battery-base/storageutil/vendor"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrDuplicateVendorName = errors.New("duplicate vendor name")
	ErrNotVendor           = errors.New("sender is not a registered vendor")
	ErrNotOwner            = errors.New("sender is not the battery owner")
	ErrNotAdmin            = errors.New("sender is not the admin")
	ErrNotServiceCenter    = errors.New("not a registered service center")
	ErrUnknownBattery      = errors.New("unknown battery")
	ErrInvalidAttestation  = errors.New("invalid attestation")
	ErrValueMismatch       = errors.New("transaction value does not match deposits")
)

// MaxVendorNameLength bounds vendor names stored in state.
const MaxVendorNameLength = 64

// MaxBatteriesPerRegistration bounds the size of one batch registration.
const MaxBatteriesPerRegistration = 1000

// ManagementTransaction is the payload of a transaction sent to the battery
// management processor.
//
// Operations are applied in this order:
//   - Configure: sets the per battery fee. The first sender to configure becomes the
//     admin; later configurations must come from the admin.
//   - RegisterVendor: registers the sender as a vendor with a unique name.
//   - Deposit: credits the sender's vendor deposit. The amounts must add up to the
//     value attached to the transaction.
//   - RegisterServiceCenter: registers the sender as a service center.
//   - RegisterBatteries: issues batteries owned by the sending vendor. Each battery
//     costs the current battery fee, taken from the vendor deposit.
//   - TransferOwnership: moves batteries owned by the sender to a new owner.
//   - InitiateDeal: records a completed replacement between the sending car and a
//     service center.
//
// The transaction is atomic: either every operation is applied or none is.
type ManagementTransaction struct {
	Configure             []Configure         `json:"configure"`
	RegisterVendor        []RegisterVendor    `json:"registerVendor"`
	Deposit               []Deposit           `json:"deposit"`
	RegisterServiceCenter bool                `json:"registerServiceCenter"`
	RegisterBatteries     []RegisterBatteries `json:"registerBatteries"`
	TransferOwnership     []TransferOwnership `json:"transferOwnership"`
	InitiateDeal          []InitiateDeal      `json:"initiateDeal"`
}

type Configure struct {
	BatteryFee *big.Int `json:"batteryFee"`
}

type RegisterVendor struct {
	Name string `json:"name"`
}

type Deposit struct {
	Amount *big.Int `json:"amount"`
}

type RegisterBatteries struct {
	Batteries []common.Address `json:"batteries"`
}

type TransferOwnership struct {
	Battery  common.Address `json:"battery"`
	NewOwner common.Address `json:"newOwner"`
}

type InitiateDeal struct {
	Attestations  attestation.Packed `json:"attestations"`
	ServiceCenter common.Address     `json:"serviceCenter"`
	Price         *big.Int           `json:"price"`
}

// validAmount reports whether v is a non-negative value that fits 256 bits.
func validAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

func (tx *ManagementTransaction) Validate(value *big.Int) error {
	if len(tx.RegisterVendor) > 1 {
		return fmt.Errorf("at most one vendor registration per transaction")
	}

	for i, c := range tx.Configure {
		if !validAmount(c.BatteryFee) {
			return fmt.Errorf("configure[%d] battery fee is missing or out of range", i)
		}
		// stored as fee+1
		if c.BatteryFee.BitLen() > 255 {
			return fmt.Errorf("configure[%d] battery fee is too large", i)
		}
	}

	for i, rv := range tx.RegisterVendor {
		if rv.Name == "" {
			return fmt.Errorf("registerVendor[%d] name is empty", i)
		}
		if len(rv.Name) > MaxVendorNameLength {
			return fmt.Errorf("registerVendor[%d] name is too long", i)
		}
	}

	total := new(big.Int)
	for i, d := range tx.Deposit {
		if !validAmount(d.Amount) {
			return fmt.Errorf("deposit[%d] amount is missing or out of range", i)
		}
		total.Add(total, d.Amount)
	}

	if value == nil {
		value = new(big.Int)
	}
	if total.Cmp(value) != 0 {
		return fmt.Errorf("%w: deposits %s, value %s", ErrValueMismatch, total, value)
	}

	for i, rb := range tx.RegisterBatteries {
		if len(rb.Batteries) == 0 {
			return fmt.Errorf("registerBatteries[%d] is empty", i)
		}
		if len(rb.Batteries) > MaxBatteriesPerRegistration {
			return fmt.Errorf("registerBatteries[%d] has more than %d batteries", i, MaxBatteriesPerRegistration)
		}
		seen := make(map[common.Address]bool, len(rb.Batteries))
		for _, b := range rb.Batteries {
			if b == (common.Address{}) {
				return fmt.Errorf("registerBatteries[%d] contains the zero address", i)
			}
			if seen[b] {
				return fmt.Errorf("registerBatteries[%d] battery %s is duplicated", i, b.Hex())
			}
			seen[b] = true
		}
	}

	for i, t := range tx.TransferOwnership {
		if t.NewOwner == (common.Address{}) {
			return fmt.Errorf("transferOwnership[%d] new owner is the zero address", i)
		}
	}

	for i, d := range tx.InitiateDeal {
		if !validAmount(d.Price) {
			return fmt.Errorf("initiateDeal[%d] price is missing or out of range", i)
		}
	}

	return nil
}

func addressToHash(a common.Address) common.Hash {
	return keyset.AddressToHash(a)
}

func uint256Data(values ...*big.Int) []byte {
	data := make([]byte, 32*len(values))
	for i, v := range values {
		u, _ := uint256.FromBig(v)
		u.PutUint256(data[i*32 : (i+1)*32])
	}
	return data
}

// Run applies the transaction on top of access and returns the logs it emits.
func (tx *ManagementTransaction) Run(blockNumber uint64, txHash common.Hash, sender common.Address, value *big.Int, access storageutil.StateAccess) (_ []*types.Log, err error) {

	defer func() {
		if err != nil {
			log.Warn("management transaction failed", "tx", txHash, "sender", sender, "error", err)
		}
	}()

	err = tx.Validate(value)
	if err != nil {
		return nil, fmt.Errorf("failed to validate management transaction: %w", err)
	}

	logs := []*types.Log{}

	emit := func(data []byte, topics ...common.Hash) {
		logs = append(logs, &types.Log{
			Address:     address.BatteryManagementProcessorAddress,
			Topics:      topics,
			Data:        data,
			BlockNumber: blockNumber,
		})
	}

	for _, c := range tx.Configure {
		admin := feepolicy.Admin(access)
		if admin == (common.Address{}) {
			feepolicy.SetAdmin(access, sender)
		} else if admin != sender {
			return nil, fmt.Errorf("failed to configure: %w", ErrNotAdmin)
		}

		fee, _ := uint256.FromBig(c.BatteryFee)
		feepolicy.SetBatteryFee(access, fee)

		emit(uint256Data(c.BatteryFee), batterylogs.BatteryFeeConfigured, addressToHash(sender))
	}

	for _, rv := range tx.RegisterVendor {
		v := vendor.Vendor{
			ID:                vendor.DeriveID(sender, rv.Name),
			Name:              rv.Name,
			Address:           sender,
			Deposit:           new(big.Int),
			RegisteredAtBlock: blockNumber,
		}

		err := vendor.Create(access, v)
		if errors.Is(err, vendor.ErrDuplicateName) {
			return nil, fmt.Errorf("failed to register vendor %q: %w", rv.Name, ErrDuplicateVendorName)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to register vendor %q: %w", rv.Name, err)
		}

		vendorID := common.Hash{}
		copy(vendorID[:4], v.ID[:])
		emit(uint256Data(new(big.Int)), batterylogs.BatteryVendorRegistered, addressToHash(sender), vendorID)
	}

	for _, d := range tx.Deposit {
		v, err := vendor.Get(access, sender)
		if err != nil {
			return nil, fmt.Errorf("failed to deposit: %w", ErrNotVendor)
		}

		v.Deposit.Add(v.Deposit, d.Amount)
		err = vendor.Store(access, *v)
		if err != nil {
			return nil, fmt.Errorf("failed to deposit: %w", err)
		}

		emit(uint256Data(d.Amount, v.Deposit), batterylogs.BatteryVendorDeposit, addressToHash(sender))
	}

	if tx.RegisterServiceCenter {
		err := servicecenter.Register(access, sender)
		if err != nil {
			return nil, fmt.Errorf("failed to register service center: %w", err)
		}
		emit([]byte{}, batterylogs.BatteryServiceCenterRegistered, addressToHash(sender))
	}

	for _, rb := range tx.RegisterBatteries {
		v, err := vendor.Get(access, sender)
		if err != nil {
			return nil, fmt.Errorf("failed to register batteries: %w", ErrNotVendor)
		}

		fee := feepolicy.BatteryFee(access)
		total := new(big.Int).Mul(fee, big.NewInt(int64(len(rb.Batteries))))
		if v.Deposit.Cmp(total) < 0 {
			return nil, fmt.Errorf("failed to register %d batteries: %w: need %s, have %s", len(rb.Batteries), ErrInsufficientDeposit, total, v.Deposit)
		}

		for _, b := range rb.Batteries {
			err := battery.Issue(access, battery.Battery{
				Address:       b,
				Vendor:        sender,
				Owner:         sender,
				IssuedAtBlock: blockNumber,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to register battery %s: %w", b.Hex(), err)
			}

			emit(uint256Data(fee), batterylogs.BatteryIssued, addressToHash(b), addressToHash(sender))
		}

		v.Deposit.Sub(v.Deposit, total)
		err = vendor.Store(access, *v)
		if err != nil {
			return nil, fmt.Errorf("failed to charge battery fees: %w", err)
		}
	}

	for _, t := range tx.TransferOwnership {
		b, err := battery.Get(access, t.Battery)
		if err != nil {
			return nil, fmt.Errorf("failed to transfer battery %s: %w", t.Battery.Hex(), ErrUnknownBattery)
		}

		if b.Owner != sender {
			return nil, fmt.Errorf("failed to transfer battery %s: %w", t.Battery.Hex(), ErrNotOwner)
		}

		oldOwner, err := battery.SetOwner(access, t.Battery, t.NewOwner)
		if err != nil {
			return nil, fmt.Errorf("failed to transfer battery %s: %w", t.Battery.Hex(), err)
		}

		emit([]byte{}, batterylogs.BatteryOwnershipTransferred, addressToHash(t.Battery), addressToHash(oldOwner), addressToHash(t.NewOwner))
	}

	for opIx, d := range tx.InitiateDeal {
		key, err := initiateDeal(access, blockNumber, txHash, opIx, sender, d)
		if err != nil {
			return nil, err
		}

		emit(uint256Data(d.Price), batterylogs.BatteryDealCreated, key, addressToHash(sender), addressToHash(d.ServiceCenter))
	}

	return logs, nil
}

// initiateDeal checks that the replacement described by the two attestations has
// already happened on the ledger: the service center owns the battery the car returned
// and the car owns the battery it received.
func initiateDeal(access storageutil.StateAccess, blockNumber uint64, txHash common.Hash, opIx int, sender common.Address, d InitiateDeal) (common.Hash, error) {
	if !servicecenter.IsRegistered(access, d.ServiceCenter) {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: %s: %w", d.ServiceCenter.Hex(), ErrNotServiceCenter)
	}

	oldAtt, newAtt, err := d.Attestations.Unpack()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: %w: %w", ErrInvalidAttestation, err)
	}

	oldBattery, err := oldAtt.Recover()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: old battery: %w: %w", ErrInvalidAttestation, err)
	}

	newBattery, err := newAtt.Recover()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: new battery: %w: %w", ErrInvalidAttestation, err)
	}

	oldRecord, err := battery.Get(access, oldBattery)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: old battery %s: %w", oldBattery.Hex(), ErrUnknownBattery)
	}
	if oldRecord.Owner != d.ServiceCenter {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: old battery %s is not owned by the service center: %w", oldBattery.Hex(), ErrNotOwner)
	}

	newRecord, err := battery.Get(access, newBattery)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: new battery %s: %w", newBattery.Hex(), ErrUnknownBattery)
	}
	if newRecord.Owner != sender {
		return common.Hash{}, fmt.Errorf("failed to initiate deal: new battery %s is not owned by the sender: %w", newBattery.Hex(), ErrNotOwner)
	}

	key := deal.DeriveKey(txHash, opIx)

	err = deal.Store(access, deal.Deal{
		Key:            key,
		Car:            sender,
		ServiceCenter:  d.ServiceCenter,
		OldBattery:     oldBattery,
		NewBattery:     newBattery,
		Attestations:   d.Attestations,
		Price:          new(big.Int).Set(d.Price),
		CreatedAtBlock: blockNumber,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to store deal: %w", err)
	}

	return key, nil
}

// Encode RLP encodes and brotli compresses the transaction into calldata.
func (tx *ManagementTransaction) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := rlp.Encode(buf, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode management transaction: %w", err)
	}

	return compression.BrotliCompress(buf.Bytes())
}
