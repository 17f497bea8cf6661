package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evbattery/batterybase/battery-base/replacement"
	"github.com/google/uuid"
)

var _ replacement.RequestStore = (*SQLStore)(nil)

func (s *SQLStore) ProcessedRequest(ctx context.Context, id uuid.UUID, kind string) ([]byte, bool, error) {
	var response []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT response FROM processed_requests WHERE request_id = ? AND kind = ?;
	`, id.String(), kind).Scan(&response)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("failed to read processed request %s: %w", id, err)
	}
	return response, true, nil
}

// SaveProcessedRequest keeps the first answer stored for a request.
func (s *SQLStore) SaveProcessedRequest(ctx context.Context, id uuid.UUID, kind string, response []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_requests (request_id, kind, response, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (request_id, kind) DO NOTHING;
	`, id.String(), kind, response, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save processed request %s: %w", id, err)
	}
	return nil
}
