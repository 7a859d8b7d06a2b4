package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is kept in the SQLite header (PRAGMA user_version).
const ledgerVersion = 1

// ErrSchemaMismatch reports a ledger written by a different autocopy release.
var ErrSchemaMismatch = errors.New("ledger schema mismatch")

func (s *Store) migrate(ctx context.Context) error {
	var have int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&have); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	switch have {
	case ledgerVersion:
		return nil
	case 0:
		return s.install(ctx)
	default:
		return fmt.Errorf("%w: %s has version %d, want %d; move it aside and restart `autocopy run` to start a fresh history",
			ErrSchemaMismatch, s.path, have, ledgerVersion)
	}
}

// install creates the tables and stamps the version in one transaction, so a
// crash part way leaves user_version at 0 and the next open retries.
func (s *Store) install(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger install: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{schemaSQL, fmt.Sprintf("PRAGMA user_version = %d", ledgerVersion)}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("install ledger tables: %w", err)
		}
	}
	return tx.Commit()
}
