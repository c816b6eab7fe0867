package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arcanaday/arcana-session/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	keyLanguage  = "language"
	keyPromoSeen = "promo_seen"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed preference store.
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
	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, key)
	);
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

// Language returns the stored preferred language, or "" if unset.
func (s *SQLiteStore) Language(ctx context.Context, userID string) (string, error) {
	return s.get(ctx, userID, keyLanguage)
}

// SetLanguage stores the preferred language.
func (s *SQLiteStore) SetLanguage(ctx context.Context, userID, language string) error {
	return s.set(ctx, userID, keyLanguage, language)
}

// PromoSeen reports whether the promo has already been shown.
func (s *SQLiteStore) PromoSeen(ctx context.Context, userID string) (bool, error) {
	v, err := s.get(ctx, userID, keyPromoSeen)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetPromoSeen marks the promo as shown.
func (s *SQLiteStore) SetPromoSeen(ctx context.Context, userID string, seen bool) error {
	v := "0"
	if seen {
		v = "1"
	}
	return s.set(ctx, userID, keyPromoSeen, v)
}

// Clear removes all stored preferences for a user.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear preferences: %w", err)
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

func (s *SQLiteStore) get(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read preference %s: %w", key, err)
	}
	return value, nil
}

// set upserts a preference. Retries briefly on SQLite concurrency errors;
// last writer wins, losing a write to a concurrent tab is acceptable.
func (s *SQLiteStore) set(ctx context.Context, userID, key, value string) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.setOnce(ctx, userID, key, value)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("preference write hit SQLITE_BUSY, retrying",
				"user_id", userID,
				"key", key,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("write preference %s after %d attempts: %w", key, maxRetries, err)
}

func (s *SQLiteStore) setOnce(ctx context.Context, userID, key, value string) error {
	query := `
	INSERT INTO preferences (user_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}
