package monarch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/monarch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "web", r.Header.Get("Client-Platform"))

		switch {
		case body["password"] != "hunter2":
			w.WriteHeader(http.StatusUnauthorized)
		case body["username"] == "mfa@example.com" && body["totp"] == nil:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Multi-Factor Auth Required"}`))
		case body["username"] == "mfa@example.com" && body["totp"] != "123456":
			w.WriteHeader(http.StatusForbidden)
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + body["username"].(string)})
		}
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token tok-a@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"accounts":[{"id":"1"},{"id":"2"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	srv := newServer(t)
	client := monarch.NewClient(srv.URL)
	ctx := context.Background()

	token, err := client.Login(ctx, "a@example.com", "hunter2", "")
	require.NoError(t, err)
	assert.Equal(t, "tok-a@example.com", token)

	token, err = client.Login(ctx, "mfa@example.com", "hunter2", " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, "tok-mfa@example.com", token)
}

func TestLogin_Classification(t *testing.T) {
	srv := newServer(t)
	client := monarch.NewClient(srv.URL)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		mfa      string
		want     error
	}{
		{"bad password", "a@example.com", "nope", "", monarch.ErrInvalidCredentials},
		{"mfa needed", "mfa@example.com", "hunter2", "", monarch.ErrMFARequired},
		{"wrong mfa code", "mfa@example.com", "hunter2", "000000", monarch.ErrMFARequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Login(ctx, tt.email, tt.password, tt.mfa)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, autherr.KindDownstream, autherr.KindOf(err))
		})
	}

	_, err := client.Login(ctx, "", "x", "")
	assert.Equal(t, autherr.KindMalformed, autherr.KindOf(err))
}

func TestPing(t *testing.T) {
	srv := newServer(t)
	client := monarch.NewClient(srv.URL + "/")

	n, err := client.Ping(context.Background(), "tok-a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = client.Ping(context.Background(), "revoked")
	assert.ErrorIs(t, err, monarch.ErrInvalidCredentials)
}

func TestLogin_TransportError(t *testing.T) {
	srv := newServer(t)
	client := monarch.NewClient(srv.URL)
	srv.Close()

	_, err := client.Login(context.Background(), "a@example.com", "hunter2", "")
	require.Error(t, err)
	assert.Equal(t, autherr.KindStore, autherr.KindOf(err))
}

func TestLogin_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	_, err := monarch.NewClient(srv.URL).Login(context.Background(), "a@example.com", "hunter2", "")
	require.Error(t, err)
	assert.Equal(t, "monarch login response did not include a token", err.Error())
}
