package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account points at the keystore file holding the credential of a local account.
type Account struct {
	Name         string
	Address      common.Address
	KeystorePath string
	CreatedAt    time.Time
}

func (s *SQLStore) SaveAccount(ctx context.Context, a Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (name, address, keystore_path, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET address = excluded.address, keystore_path = excluded.keystore_path;
	`, a.Name, a.Address.Hex(), a.KeystorePath, a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.Name, err)
	}
	return nil
}

func (s *SQLStore) Account(ctx context.Context, name string) (*Account, error) {
	var (
		a         = Account{Name: name}
		address   string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, keystore_path, created_at FROM accounts WHERE name = ?;
	`, name).Scan(&address, &a.KeystorePath, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, name)
	case err != nil:
		return nil, fmt.Errorf("failed to read account %s: %w", name, err)
	}
	a.Address = common.HexToAddress(address)
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (s *SQLStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, address, keystore_path, created_at FROM accounts ORDER BY name;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var (
			a         Account
			address   string
			createdAt int64
		)
		if err := rows.Scan(&a.Name, &address, &a.KeystorePath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Address = common.HexToAddress(address)
		a.CreatedAt = time.Unix(createdAt, 0)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// LedgerRef records which processor and node an actor uses on a network.
type LedgerRef struct {
	Network   string
	Processor common.Address
	NodeURL   string
}

func (s *SQLStore) SaveLedgerRef(ctx context.Context, ref LedgerRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_refs (network, processor, node_url) VALUES (?, ?, ?);
	`, ref.Network, ref.Processor.Hex(), ref.NodeURL)
	if err != nil {
		return fmt.Errorf("failed to save ledger reference: %w", err)
	}
	return nil
}

func (s *SQLStore) LedgerRef(ctx context.Context, network string) (*LedgerRef, error) {
	ref := LedgerRef{Network: network}
	var processor string
	err := s.db.QueryRowContext(ctx, `
		SELECT processor, node_url FROM ledger_refs WHERE network = ?;
	`, network).Scan(&processor, &ref.NodeURL)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: ledger reference for network %s", ErrNotFound, network)
	case err != nil:
		return nil, fmt.Errorf("failed to read ledger reference: %w", err)
	}
	ref.Processor = common.HexToAddress(processor)
	return &ref, nil
}
