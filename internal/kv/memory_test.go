package kv_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// getDeleteOnly hides Take so the fallback path of kv.Take is exercised.
type getDeleteOnly struct {
	inner kv.Store
}

func (s getDeleteOnly) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s getDeleteOnly) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inner.Put(ctx, key, value, ttl)
}

func (s getDeleteOnly) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStoreWithClock(clock.Now)

	require.NoError(t, store.Put(ctx, "a", []byte("1"), time.Minute))

	val, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	clock.Advance(59 * time.Second)
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_PutOverwritesAndZeroTTLDeletes(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	require.NoError(t, store.Put(ctx, "k", []byte("old"), time.Hour))
	require.NoError(t, store.Put(ctx, "k", []byte("new"), time.Hour))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(val))

	require.NoError(t, store.Put(ctx, "k", []byte("gone"), 0))
	_, err = store.Get(ctx, "k")
	assert.True(t, kv.IsNotFound(err))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	buf := []byte("value")
	require.NoError(t, store.Put(ctx, "k", buf, time.Hour))
	buf[0] = 'X'

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value", string(val))
}

func TestTake(t *testing.T) {
	ctx := context.Background()

	stores := map[string]kv.Store{
		"atomic":   kv.NewMemoryStore(),
		"fallback": getDeleteOnly{inner: kv.NewMemoryStore()},
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "once", []byte("v"), time.Minute))

			val, err := kv.Take(ctx, store, "once")
			require.NoError(t, err)
			assert.Equal(t, "v", string(val))

			_, err = kv.Take(ctx, store, "once")
			assert.ErrorIs(t, err, kv.ErrNotFound)

			_, err = store.Get(ctx, "once")
			assert.ErrorIs(t, err, kv.ErrNotFound)
		})
	}
}

func TestTake_ConcurrentAtomic(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	for round := 0; round < 50; round++ {
		require.NoError(t, store.Put(ctx, "once", []byte("v"), time.Minute))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := kv.Take(ctx, store, "once"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load(), "round %d", round)
	}
}

// readBarrier holds every Get until n callers have read, reproducing the
// interleaving that the get-then-delete path cannot exclude.
type readBarrier struct {
	getDeleteOnly
	wg *sync.WaitGroup
}

func (s readBarrier) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.getDeleteOnly.Get(ctx, key)
	s.wg.Done()
	s.wg.Wait()
	return val, err
}

func TestTake_FallbackWindow(t *testing.T) {
	ctx := context.Background()
	inner := kv.NewMemoryStore()
	gate := &sync.WaitGroup{}
	gate.Add(2)
	store := readBarrier{getDeleteOnly: getDeleteOnly{inner: inner}, wg: gate}
	require.NoError(t, store.Put(ctx, "once", []byte("v"), time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := kv.Take(ctx, store, "once"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	// Both readers saw the value; the key is still gone afterwards.
	assert.Equal(t, int32(2), wins.Load())
	_, err := inner.Get(ctx, "once")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	type record struct {
		UserID string `json:"user_id"`
		Count  int    `json:"count"`
	}

	require.NoError(t, kv.PutJSON(ctx, store, "r", record{UserID: "u1", Count: 3}, time.Minute))

	var got record
	require.NoError(t, kv.GetJSON(ctx, store, "r", &got))
	assert.Equal(t, record{UserID: "u1", Count: 3}, got)

	var taken record
	require.NoError(t, kv.TakeJSON(ctx, store, "r", &taken))
	assert.Equal(t, got, taken)

	assert.ErrorIs(t, kv.GetJSON(ctx, store, "r", &got), kv.ErrNotFound)

	require.NoError(t, store.Put(ctx, "bad", []byte("{not json"), time.Minute))
	err := kv.GetJSON(ctx, store, "bad", &got)
	require.Error(t, err)
	assert.False(t, kv.IsNotFound(err))
}
