package overrides

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	createOverridesTableSQL = `
		CREATE TABLE IF NOT EXISTS overrides (
			room_id      TEXT PRIMARY KEY,
			mode         TEXT NOT NULL,
			temp         REAL NOT NULL,
			end_at       INTEGER NOT NULL,
			sticky       INTEGER NOT NULL,
			last_reapply INTEGER NOT NULL
		)`
	selectOverridesSQL = `SELECT room_id, mode, temp, end_at, sticky, last_reapply FROM overrides`
	deleteOverridesSQL = `DELETE FROM overrides`
	insertOverrideSQL  = `INSERT INTO overrides (room_id, mode, temp, end_at, sticky, last_reapply) VALUES (?, ?, ?, ?, ?, ?)`
)

// SQLiteStore persists overrides to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	// SQLite does not handle concurrent writers well
	db.SetMaxOpenConns(1)
	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err = store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle. The schema must
// already exist.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) ensureSchema() error {
	if _, err := s.db.Exec(createOverridesTableSQL); err != nil {
		return fmt.Errorf("create overrides table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load() (map[string]Override, error) {
	rows, err := s.db.Query(selectOverridesSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	overrides := make(map[string]Override)
	for rows.Next() {
		var override Override
		if err = rows.Scan(&override.RoomID, &override.Mode, &override.TargetTemp,
			&override.EndAt, &override.Sticky, &override.LastReapplyAt); err != nil {
			return nil, err
		}
		overrides[override.RoomID] = override
	}
	return overrides, rows.Err()
}

// Save replaces the stored overrides in a single transaction.
func (s *SQLiteStore) Save(overrides map[string]Override) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.Exec(deleteOverridesSQL); err != nil {
		return err
	}
	for _, override := range overrides {
		if _, err = tx.Exec(insertOverrideSQL, override.RoomID, override.Mode, override.TargetTemp,
			override.EndAt, override.Sticky, override.LastReapplyAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
