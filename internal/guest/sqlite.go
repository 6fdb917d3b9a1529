package guest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Ensure SQLiteStore implements Persister and ClaimStorer
var (
	_ Persister   = (*SQLiteStore)(nil)
	_ ClaimStorer = (*SQLiteStore)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS guests (
    group_id TEXT NOT NULL,
    guest_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (group_id, guest_id)
);
`

// busyTimeout is how long a writer waits for the database lock.
const busyTimeout = 5 * time.Second

// SQLiteStore persists guest records in a local SQLite database, keyed by
// group and guest.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; concurrent persists queue on the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, busyTimeout.Milliseconds())
}

// Store upserts a guest that carries no group.
func (s *SQLiteStore) Store(ctx context.Context, u Update) error {
	return s.StoreClaim(ctx, u, ClaimContext{})
}

// StoreClaim upserts the guest record of ids.GroupID.
func (s *SQLiteStore) StoreClaim(ctx context.Context, u Update, ids ClaimContext) error {
	if err := u.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode guest: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guests (group_id, guest_id, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id, guest_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		ids.GroupID, u.ID, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store guest %s: %w", u.ID, err)
	}
	return nil
}

// load reads back a stored guest record.
func (s *SQLiteStore) load(ctx context.Context, groupID, guestID string) (Update, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM guests WHERE group_id = ? AND guest_id = ?", groupID, guestID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return Update{}, fmt.Errorf("guest not found: %s/%s", groupID, guestID)
	}
	if err != nil {
		return Update{}, fmt.Errorf("failed to get guest: %w", err)
	}

	var u Update
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return Update{}, fmt.Errorf("failed to decode guest: %w", err)
	}
	return u, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
