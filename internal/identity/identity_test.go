package identity_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

// failingStore fails every call.
type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) Get(context.Context, string) ([]byte, error)              { return nil, errDown }
func (failingStore) Put(context.Context, string, []byte, time.Duration) error { return errDown }
func (failingStore) Delete(context.Context, string) error                     { return errDown }

func TestStateLedger_OneTime(t *testing.T) {
	ctx := context.Background()
	ledger := identity.NewStateLedger(kv.NewMemoryStore())

	state, err := ledger.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	ok, err := ledger.Validate(ctx, state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Validate(ctx, state)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.Validate(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.Validate(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateLedger_Expires(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	ledger := identity.NewStateLedger(kv.NewMemoryStoreWithClock(c.Now))

	state, err := ledger.Create(ctx)
	require.NoError(t, err)
	c.Advance(identity.StateTTL)

	ok, err := ledger.Validate(ctx, state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateLedger_StoreFailure(t *testing.T) {
	ledger := identity.NewStateLedger(failingStore{})
	_, err := ledger.Validate(context.Background(), "abc")
	assert.Equal(t, autherr.KindStore, autherr.KindOf(err))
	assert.ErrorIs(t, err, errDown)
}

func TestSessionLedger(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	ledger := identity.NewSessionLedger(kv.NewMemoryStoreWithClock(c.Now)).WithClock(c.Now)

	id, err := ledger.Create(ctx, "u1", "alice", "alice@example.com")
	require.NoError(t, err)

	sess, err := ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "alice", sess.Username)
	assert.True(t, sess.Authenticated)
	assert.True(t, c.Now().Equal(sess.CreatedAt))

	c.Advance(identity.SessionTTL - time.Second)
	_, err = ledger.Get(ctx, id)
	require.NoError(t, err)

	c.Advance(time.Second)
	_, err = ledger.Get(ctx, id)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
}

func TestSessionLedger_Delete(t *testing.T) {
	ctx := context.Background()
	ledger := identity.NewSessionLedger(kv.NewMemoryStore())

	id, err := ledger.Create(ctx, "u1", "", "")
	require.NoError(t, err)
	require.NoError(t, ledger.Delete(ctx, id))

	_, err = ledger.Get(ctx, id)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	assert.NoError(t, ledger.Delete(ctx, ""))
}

func TestSessionLedger_RejectsUnauthenticatedRecord(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, kv.PutJSON(ctx, store, "session:forged", identity.Session{UserID: "u1", Authenticated: false}, time.Hour))
	require.NoError(t, kv.PutJSON(ctx, store, "session:anon", identity.Session{Authenticated: true}, time.Hour))

	ledger := identity.NewSessionLedger(store)
	_, err := ledger.Get(ctx, "forged")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	_, err = ledger.Get(ctx, "anon")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	_, err = ledger.Get(ctx, "")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
}

func TestSessionLedger_RequiresUser(t *testing.T) {
	_, err := identity.NewSessionLedger(kv.NewMemoryStore()).Create(context.Background(), "", "x", "")
	assert.Equal(t, autherr.KindMalformed, autherr.KindOf(err))
}

func TestMagicLink_GenerateAndRedeem(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := kv.NewMemoryStoreWithClock(c.Now)
	magic := identity.NewMagicLinkLedger(store).WithClock(c.Now)
	sessions := identity.NewSessionLedger(store).WithClock(c.Now)

	link, err := magic.Generate(ctx, "u1", "https://mcp.example.com/")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "https://mcp.example.com/auth/magic/"))

	code := strings.TrimPrefix(link, "https://mcp.example.com/auth/magic/")
	require.Len(t, code, identity.MagicCodeLength)
	for _, r := range code {
		assert.Contains(t, identity.MagicCodeAlphabet, string(r))
	}

	// Hand-typed: lower case with a dash.
	typed := strings.ToLower(code[:4]) + "-" + strings.ToLower(code[4:])
	sessionID, userID, err := magic.Redeem(ctx, typed, sessions)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	sess, err := sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	// Single use.
	_, _, err = magic.Redeem(ctx, code, sessions)
	assert.Equal(t, autherr.KindInvalidCredential, autherr.KindOf(err))
	assert.ErrorIs(t, err, identity.ErrMagicLinkInvalid)

	// Magic-minted sessions last an hour.
	c.Advance(identity.MagicSessionTTL)
	_, err = sessions.Get(ctx, sessionID)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
}

func TestMagicLink_Expires(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	magic := identity.NewMagicLinkLedger(kv.NewMemoryStoreWithClock(c.Now)).WithClock(c.Now)

	link, err := magic.Generate(ctx, "u1", "https://mcp.example.com")
	require.NoError(t, err)
	code := link[strings.LastIndex(link, "/")+1:]

	c.Advance(identity.MagicLinkTTL)
	_, err = magic.Validate(ctx, code)
	assert.Equal(t, autherr.KindInvalidCredential, autherr.KindOf(err))
}

func TestMagicLink_Errors(t *testing.T) {
	ctx := context.Background()
	magic := identity.NewMagicLinkLedger(kv.NewMemoryStore())

	_, err := magic.Generate(ctx, "u1", "  ")
	assert.Equal(t, autherr.KindConfiguration, autherr.KindOf(err))

	_, err = magic.Generate(ctx, "", "https://mcp.example.com")
	assert.Equal(t, autherr.KindMalformed, autherr.KindOf(err))

	for _, code := range []string{"", "SHORT", "ABCDEFG0", "ABCDEFGHI"} {
		_, err = magic.Validate(ctx, code)
		assert.Equal(t, autherr.KindInvalidCredential, autherr.KindOf(err), code)
	}

	_, err = identity.NewMagicLinkLedger(failingStore{}).Validate(ctx, "ABCDEFGH")
	assert.Equal(t, autherr.KindStore, autherr.KindOf(err))
}

func TestStateLedger_ConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	ledger := identity.NewStateLedger(kv.NewMemoryStore())
	state, err := ledger.Create(ctx)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Validate(ctx, state)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMagicLink_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	links := identity.NewMagicLinkLedger(store)
	sessions := identity.NewSessionLedger(store)

	link, err := links.Generate(ctx, "u1", "https://mcp.example.com")
	require.NoError(t, err)
	code := strings.TrimPrefix(link, "https://mcp.example.com"+identity.MagicLinkPath)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, userID, err := links.Redeem(ctx, code, sessions); err == nil {
				assert.Equal(t, "u1", userID)
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = links.Validate(ctx, code)
	assert.Equal(t, autherr.KindInvalidCredential, autherr.KindOf(err))
}

func TestNormalizeMagicCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", identity.NormalizeMagicCode("abcd-2345"))
	assert.Equal(t, "ABCD2345", identity.NormalizeMagicCode(" ab cd 23 45 "))
}
