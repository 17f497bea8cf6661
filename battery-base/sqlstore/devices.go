package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/firmware"
	"github.com/evbattery/batterybase/battery-base/verification"
)

var (
	_ firmware.Store      = (*SQLStore)(nil)
	_ verification.Sources = (*SQLStore)(nil)
)

func (s *SQLStore) SaveDevice(ctx context.Context, st *firmware.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (address, private_key, charge_count) VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET charge_count = excluded.charge_count;
	`, st.Address.Hex(), common.Bytes2Hex(crypto.FromECDSA(st.Key)), encodeCounter(st.ChargeCount))
	if err != nil {
		return fmt.Errorf("failed to save device %s: %w", st.Address.Hex(), err)
	}
	return nil
}

func (s *SQLStore) LoadDevice(ctx context.Context, addr common.Address) (*firmware.State, error) {
	var (
		keyHex      string
		chargeCount []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT private_key, charge_count FROM devices WHERE address = ?;
	`, addr.Hex()).Scan(&keyHex, &chargeCount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", firmware.ErrDeviceNotFound, addr.Hex())
	case err != nil:
		return nil, fmt.Errorf("failed to load device %s: %w", addr.Hex(), err)
	}

	count, err := decodeCounter(chargeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", addr.Hex(), err)
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key of device %s: %w", addr.Hex(), err)
	}

	return &firmware.State{
		Address:     addr,
		Key:         key,
		ChargeCount: count,
	}, nil
}

// Devices lists the addresses of the provisioned devices.
func (s *SQLStore) Devices(ctx context.Context) ([]common.Address, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM devices ORDER BY address;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, common.HexToAddress(addr))
	}
	return out, rows.Err()
}

// Source opens the device with the given address as an attestation source.
func (s *SQLStore) Source(ctx context.Context, addr common.Address) (verification.Source, error) {
	return firmware.Open(ctx, s, addr)
}
