package kv

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// ClosableStore is a Store that owns a connection.
type ClosableStore interface {
	Store
	io.Closer
}

type nopCloser struct {
	*MemoryStore
}

func (nopCloser) Close() error { return nil }

// NewStoreFromEnv selects a backend from the environment:
// REDIS_URL selects Redis, otherwise DATABASE_URL selects Postgres, otherwise
// an in-memory store is used for local development.
func NewStoreFromEnv(ctx context.Context) (ClosableStore, error) {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		store, err := NewRedisStoreFromURL(ctx, redisURL, os.Getenv("REDIS_KEY_PREFIX"))
		if err != nil {
			return nil, err
		}
		log.Info().Msg("using redis store")
		return store, nil
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		store, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		log.Info().Msg("using postgres store")
		return store, nil
	}

	log.Warn().Msg("neither REDIS_URL nor DATABASE_URL set; using in-memory store (state is lost on restart)")
	return nopCloser{NewMemoryStore()}, nil
}
