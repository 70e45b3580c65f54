package config

import (
	"fmt"
	"os"
	"strings"
)

// Server holds HTTP server settings.
type Server struct {
	Addr             string
	BaseURL          string
	CookieName       string
	CookieSecure     bool
	EncryptionSecret string
	LogLevel         string
	LogFormat        string
}

// IdentityProvider selects and configures the upstream login.
type IdentityProvider struct {
	Kind         string
	ClientID     string
	ClientSecret string
	IssuerURL    string
	RedirectURL  string
}

// LoadServerConfig reads server settings. CREDENTIAL_ENCRYPTION_KEY is
// required.
func LoadServerConfig() (Server, error) {
	port := getenv("PORT", "8080")
	baseURL := strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	cfg := Server{
		Addr:             ":" + port,
		BaseURL:          baseURL,
		CookieName:       getenv("SESSION_COOKIE_NAME", "mcp_session"),
		CookieSecure:     parseBool(os.Getenv("COOKIE_SECURE"), strings.HasPrefix(baseURL, "https://")),
		EncryptionSecret: os.Getenv("CREDENTIAL_ENCRYPTION_KEY"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "json"),
	}
	if cfg.EncryptionSecret == "" {
		return Server{}, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	return cfg, nil
}

// LoadIdentityProvider reads IDP_* settings. The callback is always
// baseURL + /auth/callback.
func LoadIdentityProvider(baseURL string) (IdentityProvider, error) {
	cfg := IdentityProvider{
		Kind:         strings.ToLower(getenv("IDP_KIND", "github")),
		ClientID:     os.Getenv("IDP_CLIENT_ID"),
		ClientSecret: os.Getenv("IDP_CLIENT_SECRET"),
		IssuerURL:    os.Getenv("IDP_ISSUER_URL"),
		RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/callback",
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return IdentityProvider{}, fmt.Errorf("IDP_CLIENT_ID and IDP_CLIENT_SECRET are required")
	}
	switch cfg.Kind {
	case "github":
	case "oidc":
		if cfg.IssuerURL == "" {
			return IdentityProvider{}, fmt.Errorf("IDP_ISSUER_URL is required when IDP_KIND=oidc")
		}
	default:
		return IdentityProvider{}, fmt.Errorf("unknown IDP_KIND %q", cfg.Kind)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}
