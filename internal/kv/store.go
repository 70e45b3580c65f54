package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("kv: key not found")

// Store is the durable keyed store every ledger writes to. Entries carry their
// own TTL and must read as absent once it has elapsed.
//
// Implementations are eventually consistent across replicas; callers must not
// rely on a Get followed by a Delete being atomic.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by stores that can delete a key and return its previous
// value in a single round trip.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}

// Take removes key and returns the value it held. Stores implementing Taker do
// this atomically; otherwise the value is read and then deleted, leaving a
// short window in which two callers can both observe it.
//
// The delete is attempted even when the read fails so that a one-time value is
// never left behind by a failed lookup.
func Take(ctx context.Context, s Store, key string) ([]byte, error) {
	if t, ok := s.(Taker); ok {
		return t.Take(ctx, key)
	}

	val, getErr := s.Get(ctx, key)
	if delErr := s.Delete(ctx, key); delErr != nil && getErr == nil {
		return nil, fmt.Errorf("delete %s: %w", key, delErr)
	}
	if getErr != nil {
		return nil, getErr
	}
	return val, nil
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and writes it under key with the given TTL.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// TakeJSON consumes key and decodes the value it held into v.
func TakeJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := Take(ctx, s, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
