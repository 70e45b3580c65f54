package kv_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPostgresStore(t *testing.T) (*kv.PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return kv.NewPostgresStoreWithDB(db).WithClock(func() time.Time { return pgNow }), mock
}

var (
	pgSelect = regexp.QuoteMeta(`SELECT value FROM kv_entries WHERE key = $1 AND expires_at > $2`)
	pgUpsert = regexp.QuoteMeta(`INSERT INTO kv_entries (key, value, expires_at)`)
	pgPurge  = regexp.QuoteMeta(`DELETE FROM kv_entries WHERE expires_at <= $1`)
	pgDelete = regexp.QuoteMeta(`DELETE FROM kv_entries WHERE key = $1`)
	pgTake   = regexp.QuoteMeta(`DELETE FROM kv_entries WHERE key = $1 RETURNING value, expires_at`)
)

func TestPostgresStore_Get(t *testing.T) {
	errConn := errors.New("connection reset")

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    string
		wantErr error
	}{
		{
			name: "live row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgSelect).WithArgs("state:abc", pgNow).
					WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("v")))
			},
			want: "v",
		},
		{
			name: "missing or expired",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgSelect).WithArgs("state:abc", pgNow).WillReturnError(sql.ErrNoRows)
			},
			wantErr: kv.ErrNotFound,
		},
		{
			name: "driver error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgSelect).WithArgs("state:abc", pgNow).WillReturnError(errConn)
			},
			wantErr: errConn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestPostgresStore(t)
			tt.setup(mock)

			val, err := store.Get(context.Background(), "state:abc")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(val))
		})
	}
}

func TestPostgresStore_PutUpsertsAndPurges(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(pgUpsert).WithArgs("session:s1", []byte("v"), pgNow.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pgPurge).WithArgs(pgNow).WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.Put(context.Background(), "session:s1", []byte("v"), time.Hour))
}

func TestPostgresStore_PutIgnoresPurgeFailure(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(pgUpsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pgPurge).WillReturnError(errors.New("lock timeout"))

	assert.NoError(t, store.Put(context.Background(), "session:s1", []byte("v"), time.Hour))
}

func TestPostgresStore_PutErrors(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	errConn := errors.New("connection reset")

	mock.ExpectExec(pgUpsert).WillReturnError(errConn)

	err := store.Put(context.Background(), "session:s1", []byte("v"), time.Hour)
	assert.ErrorIs(t, err, errConn)
}

func TestPostgresStore_PutZeroTTLDeletes(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(pgDelete).WithArgs("session:s1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Put(context.Background(), "session:s1", []byte("v"), 0))
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	errConn := errors.New("connection reset")

	mock.ExpectExec(pgDelete).WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(pgDelete).WithArgs("k").WillReturnError(errConn)

	require.NoError(t, store.Delete(context.Background(), "k"))
	assert.ErrorIs(t, store.Delete(context.Background(), "k"), errConn)
}

func TestPostgresStore_Take(t *testing.T) {
	errConn := errors.New("connection reset")

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    string
		wantErr error
	}{
		{
			name: "live row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgTake).WithArgs("code:abc").
					WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).
						AddRow([]byte("v"), pgNow.Add(time.Minute)))
			},
			want: "v",
		},
		{
			name: "expired row is removed but not returned",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgTake).WithArgs("code:abc").
					WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).
						AddRow([]byte("v"), pgNow))
			},
			wantErr: kv.ErrNotFound,
		},
		{
			name: "missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgTake).WithArgs("code:abc").WillReturnError(sql.ErrNoRows)
			},
			wantErr: kv.ErrNotFound,
		},
		{
			name: "driver error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(pgTake).WithArgs("code:abc").WillReturnError(errConn)
			},
			wantErr: errConn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestPostgresStore(t)
			tt.setup(mock)

			val, err := kv.Take(context.Background(), store, "code:abc")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(val))
		})
	}
}
