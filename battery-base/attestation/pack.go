package attestation

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrChargeOverflow = errors.New("charge count does not fit the packed field")
	ErrInvalidPacking = errors.New("invalid packed attestation")
)

// Bit offsets of the fields inside a packed dual attestation:
//
//	charge_old*2^160 + time_old*2^128 + v_old*2^96 + charge_new*2^64 + time_new*2^32 + v_new
const (
	chargeOldShift = 160
	timeOldShift   = 128
	vOldShift      = 96
	chargeNewShift = 64
	timeNewShift   = 32
)

// MaxNewChargeCount is the largest charge count the new battery may report.
const MaxNewChargeCount = math.MaxUint32

var mask32 = uint256.NewInt(math.MaxUint32)

// Fields is the unsigned part of an attestation as stored in a packed word.
type Fields struct {
	ChargeCount uint64
	Timestamp   uint32
	V           uint8
}

// Packed carries two attestations in the layout accepted by the deal entry point of the
// management processor.
type Packed struct {
	Word common.Hash `json:"word"`
	ROld common.Hash `json:"rOld"`
	SOld common.Hash `json:"sOld"`
	RNew common.Hash `json:"rNew"`
	SNew common.Hash `json:"sNew"`
}

func (a *Attestation) Fields() Fields {
	return Fields{ChargeCount: a.ChargeCount, Timestamp: a.Timestamp, V: a.V}
}

// PackFields packs the unsigned parts of the old and the new attestation into one word.
// The old charge count occupies 96 bits, so every uint64 fits. The new one occupies 32.
func PackFields(old, next Fields) (common.Hash, error) {
	if next.ChargeCount > MaxNewChargeCount {
		return common.Hash{}, fmt.Errorf("%w: new charge count %d exceeds %d", ErrChargeOverflow, next.ChargeCount, uint64(MaxNewChargeCount))
	}

	word := shifted(old.ChargeCount, chargeOldShift)
	word.Or(word, shifted(uint64(old.Timestamp), timeOldShift))
	word.Or(word, shifted(uint64(old.V), vOldShift))
	word.Or(word, shifted(next.ChargeCount, chargeNewShift))
	word.Or(word, shifted(uint64(next.Timestamp), timeNewShift))
	word.Or(word, uint256.NewInt(uint64(next.V)))

	return word.Bytes32(), nil
}

func shifted(v uint64, shift uint) *uint256.Int {
	x := uint256.NewInt(v)
	return x.Lsh(x, shift)
}

// UnpackFields reverses PackFields.
func UnpackFields(word common.Hash) (old, next Fields, err error) {
	w := new256(word)

	chargeOld := new(uint256.Int).Rsh(w, chargeOldShift)
	if !chargeOld.IsUint64() {
		return Fields{}, Fields{}, fmt.Errorf("%w: old charge count exceeds 64 bits", ErrChargeOverflow)
	}

	vOld := field32(w, vOldShift)
	vNew := field32(w, 0)
	if vOld > math.MaxUint8 || vNew > math.MaxUint8 {
		return Fields{}, Fields{}, fmt.Errorf("%w: v exceeds 8 bits", ErrInvalidPacking)
	}

	old = Fields{
		ChargeCount: chargeOld.Uint64(),
		Timestamp:   uint32(field32(w, timeOldShift)),
		V:           uint8(vOld),
	}
	next = Fields{
		ChargeCount: field32(w, chargeNewShift),
		Timestamp:   uint32(field32(w, timeNewShift)),
		V:           uint8(vNew),
	}
	return old, next, nil
}

func new256(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

func field32(w *uint256.Int, shift uint) uint64 {
	x := new(uint256.Int).Rsh(w, shift)
	return x.And(x, mask32).Uint64()
}

// Pack combines the attestation of the battery being returned (old) with the one of
// the battery being handed out (new).
func Pack(old, next *Attestation) (*Packed, error) {
	word, err := PackFields(old.Fields(), next.Fields())
	if err != nil {
		return nil, err
	}
	return &Packed{
		Word: word,
		ROld: old.R,
		SOld: old.S,
		RNew: next.R,
		SNew: next.S,
	}, nil
}

// Unpack returns the two signed attestations carried by p.
func (p *Packed) Unpack() (old, next *Attestation, err error) {
	o, n, err := UnpackFields(p.Word)
	if err != nil {
		return nil, nil, err
	}
	old = &Attestation{ChargeCount: o.ChargeCount, Timestamp: o.Timestamp, V: o.V, R: p.ROld, S: p.SOld}
	next = &Attestation{ChargeCount: n.ChargeCount, Timestamp: n.Timestamp, V: n.V, R: p.RNew, S: p.SNew}
	return old, next, nil
}
