// Package attestation encodes a battery's usage state into a signable message, signs
// it with the battery key and recovers the battery identity from a signature.
//
// The signed message is the 32-byte big-endian integer charge_count*2^32 + timestamp,
// hashed with Keccak-256. Signatures carry v in {27, 28} and r, s as 32-byte values.
package attestation

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var ErrInvalidSignature = errors.New("invalid signature")

// recoveryIDOffset is added to the 0/1 recovery id to obtain v.
const recoveryIDOffset = 27

// Attestation is a battery's signed statement of its charge counter at a point in time.
// The timestamp is supplied by the battery itself and is not verified against any clock.
type Attestation struct {
	ChargeCount uint64      `json:"chargeCount"`
	Timestamp   uint32      `json:"timestamp"`
	V           uint8       `json:"v"`
	R           common.Hash `json:"r"`
	S           common.Hash `json:"s"`
}

// Encode packs the charge count and timestamp into the 32-byte message that is hashed
// and signed.
func Encode(chargeCount uint64, timestamp uint32) common.Hash {
	msg := new(uint256.Int).SetUint64(chargeCount)
	msg.Lsh(msg, 32)
	msg.Or(msg, uint256.NewInt(uint64(timestamp)))
	return msg.Bytes32()
}

// Digest is the Keccak-256 hash of the encoded message.
func Digest(chargeCount uint64, timestamp uint32) common.Hash {
	msg := Encode(chargeCount, timestamp)
	return crypto.Keccak256Hash(msg[:])
}

func Sign(key *ecdsa.PrivateKey, chargeCount uint64, timestamp uint32) (*Attestation, error) {
	digest := Digest(chargeCount, timestamp)

	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation: %w", err)
	}

	return &Attestation{
		ChargeCount: chargeCount,
		Timestamp:   timestamp,
		V:           sig[crypto.RecoveryIDOffset] + recoveryIDOffset,
		R:           common.BytesToHash(sig[:32]),
		S:           common.BytesToHash(sig[32:64]),
	}, nil
}

// Recover returns the address of the key that produced the signature.
func (a *Attestation) Recover() (common.Address, error) {
	if a.V != recoveryIDOffset && a.V != recoveryIDOffset+1 {
		return common.Address{}, fmt.Errorf("%w: v must be 27 or 28, got %d", ErrInvalidSignature, a.V)
	}

	recID := a.V - recoveryIDOffset

	// the recovery precompile accepts high s values, so homestead rules are not applied
	if !crypto.ValidateSignatureValues(recID, a.R.Big(), a.S.Big(), false) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrInvalidSignature)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[:32], a.R[:])
	copy(sig[32:64], a.S[:])
	sig[crypto.RecoveryIDOffset] = recID

	digest := Digest(a.ChargeCount, a.Timestamp)

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// RHex renders r as 64 hex characters, left padded with zeros.
func (a *Attestation) RHex() string {
	return hex.EncodeToString(a.R[:])
}

// SHex renders s as 64 hex characters, left padded with zeros.
func (a *Attestation) SHex() string {
	return hex.EncodeToString(a.S[:])
}

// Lines renders the attestation the way the battery firmware prints it: charge count,
// timestamp, v, r and s, one per line.
func (a *Attestation) Lines() []string {
	return []string{
		strconv.FormatUint(a.ChargeCount, 10),
		strconv.FormatUint(uint64(a.Timestamp), 10),
		strconv.FormatUint(uint64(a.V), 10),
		a.RHex(),
		a.SHex(),
	}
}

// Parse reads the textual form produced by Lines. r and s must be exactly 32 bytes of
// hex, with or without a 0x prefix.
func Parse(chargeCount, timestamp, v, r, s string) (*Attestation, error) {
	cc, err := strconv.ParseUint(strings.TrimSpace(chargeCount), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid charge count %q: %w", chargeCount, err)
	}

	ts, err := strconv.ParseUint(strings.TrimSpace(timestamp), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}

	vv, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid v %q: %w", v, err)
	}

	rr, err := parseWord(r)
	if err != nil {
		return nil, fmt.Errorf("invalid r: %w", err)
	}

	ss, err := parseWord(s)
	if err != nil {
		return nil, fmt.Errorf("invalid s: %w", err)
	}

	return &Attestation{
		ChargeCount: cc,
		Timestamp:   uint32(ts),
		V:           uint8(vv),
		R:           rr,
		S:           ss,
	}, nil
}

func parseWord(s string) (common.Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidSignature, 2*common.HashLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return common.BytesToHash(b), nil
}
