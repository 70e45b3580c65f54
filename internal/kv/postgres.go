package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on a single Postgres table. Expired rows are
// filtered out on read and purged opportunistically on write.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(parseEnvInt("KV_DB_MAX_OPEN_CONNS", 10))
	db.SetMaxIdleConns(parseEnvInt("KV_DB_MAX_IDLE_CONNS", 2))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := NewPostgresStoreWithDB(db)
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing pool. The schema is assumed to exist.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithClock overrides the time source used for expiry.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_entries_expires ON kv_entries(expires_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get fetches a live row.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND expires_at > $2`,
		key, s.now(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return value, nil
}

// Put upserts key, replacing any previous value and expiry.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	now := s.now()
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, now.Add(ttl)); err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}

	// Purge failures are not the caller's problem; expired rows are already
	// invisible to Get.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at <= $1`, now)
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Take deletes key and returns the value it held in one statement.
func (s *PostgresStore) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1 RETURNING value, expires_at`,
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres take: %w", err)
	}
	if !s.now().Before(expiresAt) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Ping tests the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func parseEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
