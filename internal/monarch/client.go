// Package monarch exchanges Monarch Money account credentials for an API
// token and checks that a token still works.
package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
)

// DefaultBaseURL is the Monarch Money API root.
const DefaultBaseURL = "https://api.monarchmoney.com"

var (
	// ErrMFARequired means the account has multi-factor authentication and
	// no (or no valid) code was supplied.
	ErrMFARequired = errors.New("monarch: multi-factor code required")
	// ErrInvalidCredentials means Monarch rejected the email, password, or
	// token.
	ErrInvalidCredentials = errors.New("monarch: invalid credentials")
)

// Client talks to the Monarch Money API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client. An empty baseURL uses MONARCH_API_URL or
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MONARCH_API_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	SupportsMFA   bool   `json:"supports_mfa"`
	TrustedDevice bool   `json:"trusted_device"`
	TOTP          string `json:"totp,omitempty"`
}

type loginResponse struct {
	Token  string `json:"token"`
	Detail string `json:"detail"`
}

// Login exchanges email and password (plus mfaCode when the account requires
// one) for an API token. Rejections come back as autherr downstream errors
// wrapping ErrMFARequired or ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password, mfaCode string) (string, error) {
	if email == "" || password == "" {
		return "", autherr.Malformed("", "email and password are required")
	}

	body, err := json.Marshal(loginRequest{
		Username:    email,
		Password:    password,
		SupportsMFA: true,
		TOTP:        strings.TrimSpace(mfaCode),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Monarch: %w", err)
	}
	defer resp.Body.Close()

	var out loginResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusForbidden && mfaCode == "":
		return "", autherr.Downstream("multi-factor authentication code required", ErrMFARequired)
	case resp.StatusCode == http.StatusForbidden:
		return "", autherr.Downstream("multi-factor authentication code rejected", ErrMFARequired)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return "", autherr.Downstream("email or password rejected by Monarch", ErrInvalidCredentials)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status code from Monarch login: %d", resp.StatusCode)
	}

	if out.Token == "" {
		return "", errors.New("monarch login response did not include a token")
	}
	return out.Token, nil
}

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

const accountsQuery = `query GetAccounts { accounts { id } }`

// Ping verifies token by listing accounts and returns how many were found.
func (c *Client) Ping(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, autherr.Malformed("", "token required")
	}

	body, err := json.Marshal(graphQLRequest{
		OperationName: "GetAccounts",
		Query:         accountsQuery,
		Variables:     map[string]any{},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to Monarch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return 0, autherr.Downstream("Monarch rejected the stored token", ErrInvalidCredentials)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code from Monarch: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Accounts []struct {
				ID string `json:"id"`
			} `json:"accounts"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("monarch graphql error: %s", result.Errors[0].Message)
	}
	return len(result.Data.Accounts), nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Platform", "web")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
}
