package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/shared"
	_ "modernc.org/sqlite"
)

const upsertRetryAttempts = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialize pref writes to avoid SQLITE_BUSY churn
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_prefs (
		session_id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		auto_execute INTEGER NOT NULL DEFAULT 0,
		system_prompt TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_prefs_updated ON session_prefs(updated_at);
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

// GetSessionPrefs retrieves the persisted configuration for a panel session.
func (s *SQLiteStore) GetSessionPrefs(ctx context.Context, sessionID string) (*domain.SessionPrefs, error) {
	query := `
		SELECT session_id, provider_id, model_id, auto_execute, system_prompt,
		       created_at, updated_at
		FROM session_prefs WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var prefs domain.SessionPrefs
	var autoExecute int
	var createdAt, updatedAt int64

	err := row.Scan(
		&prefs.SessionID, &prefs.ProviderID, &prefs.ModelID,
		&autoExecute, &prefs.SystemPrompt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session prefs row: %w", err)
	}

	prefs.AutoExecute = autoExecute != 0
	prefs.CreatedAt = time.Unix(createdAt, 0)
	prefs.UpdatedAt = time.Unix(updatedAt, 0)

	return &prefs, nil
}

// UpsertSessionPrefs creates or updates the configuration for a panel session.
func (s *SQLiteStore) UpsertSessionPrefs(ctx context.Context, prefs *domain.SessionPrefs) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO session_prefs (session_id, provider_id, model_id, auto_execute, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			provider_id = excluded.provider_id,
			model_id = excluded.model_id,
			auto_execute = excluded.auto_execute,
			system_prompt = excluded.system_prompt,
			updated_at = excluded.updated_at`

	autoExecute := 0
	if prefs.AutoExecute {
		autoExecute = 1
	}
	now := time.Now()
	createdAt := prefs.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return s.execWithRetry(ctx, query,
		prefs.SessionID, prefs.ProviderID, prefs.ModelID,
		autoExecute, prefs.SystemPrompt, createdAt.Unix(), now.Unix(),
	)
}

// SetAutoExecute flips only the auto-execute flag for a session.
func (s *SQLiteStore) SetAutoExecute(ctx context.Context, sessionID string, enabled bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	flag := 0
	if enabled {
		flag = 1
	}
	query := `UPDATE session_prefs SET auto_execute = ?, updated_at = ? WHERE session_id = ?`
	return s.execWithRetry(ctx, query, flag, time.Now().Unix(), sessionID)
}

// DeleteSessionPrefs removes the configuration for a panel session.
func (s *SQLiteStore) DeleteSessionPrefs(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.execWithRetry(ctx, `DELETE FROM session_prefs WHERE session_id = ?`, sessionID)
}

// execWithRetry retries a statement a few times on SQLite concurrency errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < upsertRetryAttempts; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return fmt.Errorf("exec session prefs statement: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("exec session prefs statement after retries: %w", err)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
