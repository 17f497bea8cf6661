package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/google/uuid"
)

var _ replacement.DealStore = (*SQLStore)(nil)

func (s *SQLStore) SaveDeal(ctx context.Context, d *replacement.Deal) error {
	snapshot, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode deal %s: %w", d.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO deals (id, state, snapshot, updated_at) VALUES (?, ?, ?, ?);
	`, d.ID.String(), string(d.State), snapshot, d.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save deal %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLStore) Deal(ctx context.Context, id uuid.UUID) (*replacement.Deal, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM deals WHERE id = ?;`, id.String()).Scan(&snapshot)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: deal %s", ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("failed to read deal %s: %w", id, err)
	}
	return decodeDeal(snapshot)
}

// Deals lists the deal snapshots, most recently updated first.
func (s *SQLStore) Deals(ctx context.Context) ([]*replacement.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM deals ORDER BY updated_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []*replacement.Deal
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		d, err := decodeDeal(snapshot)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func decodeDeal(snapshot []byte) (*replacement.Deal, error) {
	var d replacement.Deal
	if err := json.Unmarshal(snapshot, &d); err != nil {
		return nil, fmt.Errorf("failed to decode deal: %w", err)
	}
	return &d, nil
}
