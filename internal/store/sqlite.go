package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/walink/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	saveMaxRetries = 3
	saveBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements CredentialStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes credential writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed credential store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		session_id TEXT PRIMARY KEY,
		data BLOB,
		registered INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_updated ON credentials(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load retrieves the credential record for a session, inserting an empty
// record first if none exists yet.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	insert := `
		INSERT INTO credentials (session_id, data, registered, created_at, updated_at)
		VALUES (?, NULL, 0, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, insert, sessionID, now, now); err != nil {
		return nil, fmt.Errorf("ensure credential row: %w", err)
	}

	query := `
		SELECT session_id, data, registered, created_at, updated_at
		FROM credentials WHERE session_id = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID)

	var rec domain.CredentialRecord
	var data []byte
	var registered int
	var createdAt, updatedAt int64

	if err := row.Scan(&rec.SessionID, &data, &registered, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan credential row: %w", err)
	}

	rec.Data = data
	rec.Registered = registered != 0
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// Save upserts the credential blob for a session. Retries with exponential
// backoff on SQLITE_BUSY so a busy checkpoint never drops an update silently.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, data []byte, registered bool) error {
	var lastErr error
	for i := 0; i < saveMaxRetries; i++ {
		lastErr = s.saveOnce(ctx, sessionID, data, registered)
		if lastErr == nil {
			return nil
		}

		if IsSQLiteConflictError(lastErr) && i < saveMaxRetries-1 {
			delay := saveBaseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
			slog.Debug("Credential save failed with SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("save credentials for %s: %w", sessionID, lastErr)
	}
	return fmt.Errorf("save credentials for %s after %d attempts: %w", sessionID, saveMaxRetries, lastErr)
}

func (s *SQLiteStore) saveOnce(ctx context.Context, sessionID string, data []byte, registered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO credentials (session_id, data, registered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			data = excluded.data,
			registered = excluded.registered,
			updated_at = excluded.updated_at`

	now := time.Now().Unix()
	reg := 0
	if registered {
		reg = 1
	}

	if _, err := s.db.ExecContext(ctx, query, sessionID, data, reg, now, now); err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// Delete purges the credential record for a session. Deleting a session that
// has no record is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
