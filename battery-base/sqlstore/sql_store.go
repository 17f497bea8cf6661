// Package sqlstore keeps the local records of a battery base actor in SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	_ "github.com/mattn/go-sqlite3"
)

const storeSchemaVersion = uint64(2)

//go:embed schema.sql
var schema string

var ErrNotFound = errors.New("record not found")

// SQLStore implements the persistence interfaces of firmware, verification and
// replacement on one SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewStore opens dbFile, creating it when missing. A database written with another
// schema version is dropped and recreated.
func NewStore(dbFile string) (*SQLStore, error) {
	dir := filepath.Dir(dbFile)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=true", dbFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = migrate(context.Background(), db)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &SQLStore{db: db}, nil
}

func readSchemaVersion(ctx context.Context, db *sql.DB) (uint64, error) {
	var tableName string
	err := db.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_versions';
	`).Scan(&tableName)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to check schema: %w", err)
	}

	var version uint64
	err = db.QueryRowContext(ctx, `SELECT store FROM schema_versions WHERE id = 1;`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Warn("batterybase: no schema version info found, table empty")
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func migrate(ctx context.Context, db *sql.DB) (err error) {
	version, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if version != 0 && version != storeSchemaVersion {
		log.Warn(
			"batterybase: store has an outdated schema, dropping tables",
			"existingVersion", version,
			"requiredVersion", storeSchemaVersion,
		)
		for _, table := range []string{"accounts", "ledger_refs", "attestations", "devices", "processed_requests", "deals"} {
			_, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+";")
			if err != nil {
				return fmt.Errorf("failed to drop %s table: %w", table, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO schema_versions (id, store) VALUES (1, ?);`,
		storeSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to update schema versions: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	log.Debug("batterybase: database ready", "schemaVersion", storeSchemaVersion)
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
