// Package store implements ports.AuditStore: a local sqlite-backed
// operational/audit trail of skip reasons and pause-attempt history.
// Repurposed from dappnode-validator-tracker's
// internal/adapters/sqlite/sqlite_storage.go — same sql.Open("sqlite3",
// ...) + migrate-with-a-query-slice idiom, new schema. This store is never
// consulted for correctness (the deposit-event cache is authoritative);
// it exists purely so an operator can inspect why a module was skipped or
// how a pause attempt resolved.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// Store is a sqlite-backed ports.AuditStore.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the sqlite database at path and runs
// migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS skip_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			block_number INTEGER NOT NULL,
			module_id INTEGER NOT NULL,
			reason TEXT NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS pause_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_skip_events_module ON skip_events(module_id);`,
		`CREATE INDEX IF NOT EXISTS idx_skip_events_block ON skip_events(block_number);`,
		`CREATE INDEX IF NOT EXISTS idx_pause_attempts_module ON pause_attempts(module_id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

var _ ports.AuditStore = (*Store)(nil)

// RecordSkip appends a skip event. Purely observational: never read back
// by the orchestrator's decision logic.
func (s *Store) RecordSkip(ctx context.Context, block uint64, module domain.ModuleID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skip_events (block_number, module_id, reason) VALUES (?, ?, ?);`,
		block, uint32(module), reason,
	)
	return err
}

// RecordPauseAttempt appends a pause-attempt outcome (e.g. "confirmed",
// "already_paused", "broadcast_failed", "reverted").
func (s *Store) RecordPauseAttempt(ctx context.Context, module domain.ModuleID, block uint64, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pause_attempts (module_id, block_number, outcome) VALUES (?, ?, ?);`,
		uint32(module), block, outcome,
	)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
