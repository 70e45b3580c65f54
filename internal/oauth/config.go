package oauth

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DCR modes.
const (
	DCRModeOpen      = "open"
	DCRModeProtected = "protected"
)

// Config holds OAuth server settings.
type Config struct {
	Issuer              string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	AuthCodeTTL         time.Duration
	PendingTTL          time.Duration
	ClientTTL           time.Duration
	Scopes              []string
	RotateRefreshTokens bool
	DCRMode             string
	DCRAccessToken      string
}

// DefaultConfig returns the lifetimes every deployment starts from.
func DefaultConfig(issuer string) Config {
	return Config{
		Issuer:          strings.TrimRight(issuer, "/"),
		AccessTokenTTL:  7 * 24 * time.Hour,
		RefreshTokenTTL: 90 * 24 * time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		PendingTTL:      10 * time.Minute,
		ClientTTL:       365 * 24 * time.Hour,
		Scopes:          []string{"mcp"},
		DCRMode:         DCRModeOpen,
	}
}

// LoadConfigFromEnv loads OAuth config from environment variables. The
// issuer is OAUTH_ISSUER, then BASE_URL, then defaultIssuer.
func LoadConfigFromEnv(defaultIssuer string) (Config, error) {
	issuer := strings.TrimSpace(os.Getenv("OAUTH_ISSUER"))
	if issuer == "" {
		issuer = strings.TrimSpace(os.Getenv("BASE_URL"))
	}
	if issuer == "" {
		issuer = strings.TrimSpace(defaultIssuer)
	}
	if issuer == "" {
		return Config{}, fmt.Errorf("OAUTH_ISSUER or BASE_URL is required")
	}

	cfg := DefaultConfig(issuer)
	cfg.AccessTokenTTL = parseDurationEnv("OAUTH_ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = parseDurationEnv("OAUTH_REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL)
	cfg.AuthCodeTTL = parseDurationEnv("OAUTH_AUTH_CODE_TTL", cfg.AuthCodeTTL)
	cfg.RotateRefreshTokens = strings.EqualFold(os.Getenv("OAUTH_ROTATE_REFRESH_TOKENS"), "true")

	if scopes := strings.Fields(os.Getenv("OAUTH_SCOPES")); len(scopes) > 0 {
		cfg.Scopes = scopes
	}

	dcrMode := strings.ToLower(strings.TrimSpace(os.Getenv("OAUTH_DCR_MODE")))
	if dcrMode != "" {
		cfg.DCRMode = dcrMode
	}
	cfg.DCRAccessToken = os.Getenv("OAUTH_DCR_ACCESS_TOKEN")

	switch cfg.DCRMode {
	case DCRModeOpen:
	case DCRModeProtected:
		if cfg.DCRAccessToken == "" {
			return Config{}, fmt.Errorf("OAUTH_DCR_ACCESS_TOKEN is required when OAUTH_DCR_MODE=protected")
		}
	default:
		return Config{}, fmt.Errorf("unknown OAUTH_DCR_MODE %q", cfg.DCRMode)
	}

	return cfg, nil
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if dur, err := time.ParseDuration(val); err == nil {
			return dur
		}
	}
	return fallback
}
