package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evbattery/batterybase/battery-base/attestation"
	"github.com/evbattery/batterybase/battery-base/verification"
)

var _ verification.Snapshots = (*SQLStore)(nil)

// LatestAttestation returns the last attestation saved for battery, or nil.
func (s *SQLStore) LatestAttestation(ctx context.Context, battery common.Address) (*attestation.Attestation, error) {
	var (
		chargeCount []byte
		timestamp   int64
		v           int64
		r, sig      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT charge_count, timestamp, v, r, s FROM attestations WHERE battery = ?;
	`, battery.Hex()).Scan(&chargeCount, &timestamp, &v, &r, &sig)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read attestation of %s: %w", battery.Hex(), err)
	}

	count, err := decodeCounter(chargeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation of %s: %w", battery.Hex(), err)
	}

	return &attestation.Attestation{
		ChargeCount: count,
		Timestamp:   uint32(timestamp),
		V:           uint8(v),
		R:           common.HexToHash(r),
		S:           common.HexToHash(sig),
	}, nil
}

func (s *SQLStore) SaveAttestation(ctx context.Context, battery common.Address, a *attestation.Attestation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attestations (battery, charge_count, timestamp, v, r, s, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, battery.Hex(), encodeCounter(a.ChargeCount), int64(a.Timestamp), int64(a.V), a.R.Hex(), a.S.Hex(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}
