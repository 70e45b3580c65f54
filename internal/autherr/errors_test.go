package autherr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name   string
		err    error
		kind   autherr.Kind
		code   string
		status int
	}{
		{"malformed", autherr.Malformed("", "client_id required"), autherr.KindMalformed, autherr.CodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", autherr.InvalidCredential("", nil), autherr.KindInvalidCredential, autherr.CodeInvalidGrant, http.StatusBadRequest},
		{"invalid token", autherr.InvalidCredential(autherr.CodeInvalidToken, nil), autherr.KindInvalidCredential, autherr.CodeInvalidToken, http.StatusUnauthorized},
		{"configuration", autherr.Configuration("BASE_URL is not set"), autherr.KindConfiguration, autherr.CodeServerError, http.StatusInternalServerError},
		{"store", autherr.Store("get session", cause), autherr.KindStore, autherr.CodeTemporarilyUnavailable, http.StatusServiceUnavailable},
		{"downstream", autherr.Downstream("login rejected", cause), autherr.KindDownstream, autherr.CodeInvalidClient, http.StatusUnauthorized},
		{"wrapped", fmt.Errorf("outer: %w", autherr.Malformed("", "x")), autherr.KindMalformed, autherr.CodeInvalidRequest, http.StatusBadRequest},
		{"unclassified", cause, autherr.KindStore, autherr.CodeServerError, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, autherr.KindOf(tt.err))
			assert.True(t, autherr.Is(tt.err, tt.kind))
			assert.Equal(t, tt.code, autherr.CodeOf(tt.err))
			assert.Equal(t, tt.status, autherr.HTTPStatus(tt.err))
		})
	}

	assert.Equal(t, autherr.Kind(""), autherr.KindOf(nil))
}

func TestInvalidCredential_IsGeneric(t *testing.T) {
	expired := autherr.InvalidCredential("", errors.New("code expired"))
	mismatch := autherr.InvalidCredential("", errors.New("pkce mismatch"))

	assert.Equal(t, expired.Message, mismatch.Message)
	assert.Equal(t, "invalid or expired credential", expired.Message)
}

func TestDownstream_PreservesCause(t *testing.T) {
	mfa := errors.New("mfa required")
	err := fmt.Errorf("refresh: %w", autherr.Downstream("login rejected", mfa))

	assert.ErrorIs(t, err, mfa)

	e, ok := autherr.As(err)
	require.True(t, ok)
	assert.Equal(t, autherr.KindDownstream, e.Kind)
}

func TestWithURLAndTool(t *testing.T) {
	base := autherr.Configuration("needs setup")
	days := 3
	base.DaysRemaining = &days

	withURL := base.WithURL("https://example.com/auth/magic/ABCD2345").WithTool("get_login_link")

	assert.Empty(t, base.URL)
	assert.Equal(t, "https://example.com/auth/magic/ABCD2345", withURL.URL)
	assert.Equal(t, "get_login_link", withURL.Tool)
	assert.Equal(t, 3, *withURL.DaysRemaining)
}
