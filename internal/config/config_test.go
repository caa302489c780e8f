package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-min-32-chars-for-testing-purposes"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("APP_ENV", "")
	t.Setenv("OMNI_CONTENT_PATH_ALLOWLIST", " /dashboards/a , ,/dashboards/b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.Equal(t, "session", cfg.SessionCookieName)
	assert.Equal(t, 24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, time.Hour, cfg.CSRFMaxAge)
	assert.Equal(t, "lax", cfg.SessionCookieSameSite)
	assert.False(t, cfg.SessionCookieSecure)
	assert.Equal(t, 5, cfg.RateLimitAttempts)
	assert.Equal(t, 300*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, RateLimitStoreMemory, cfg.RateLimitStore)
	assert.Equal(t, []string{"/dashboards/a", "/dashboards/b"}, cfg.OmniContentPathAllowlist)
}

func TestLoadProductionTurnsOnSecureCookie(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("APP_ENV", EnvProduction)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.SessionCookieSecure)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRedisRequirements(t *testing.T) {
	cfg := &Config{
		SessionSecret:         testSecret,
		SessionMaxAge:         time.Hour,
		CSRFMaxAge:            time.Hour,
		SessionCookieSameSite: "lax",
		RateLimitAttempts:     5,
		RateLimitWindow:       time.Minute,
		RateLimitStore:        RateLimitStoreRedis,
	}
	require.Error(t, cfg.Validate())

	cfg.RedisURL = "redis://127.0.0.1:6379/0"
	require.NoError(t, cfg.Validate())

	cfg.RateLimitStore = "memcached"
	require.Error(t, cfg.Validate())
}

func TestValidateSameSiteNoneRequiresSecure(t *testing.T) {
	cfg := &Config{
		SessionSecret:         testSecret,
		SessionMaxAge:         time.Hour,
		CSRFMaxAge:            time.Hour,
		SessionCookieSameSite: "none",
		RateLimitAttempts:     5,
		RateLimitWindow:       time.Minute,
		RateLimitStore:        RateLimitStoreMemory,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_COOKIE_SECURE")

	cfg.SessionCookieSecure = true
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsSameSiteNoneWithoutSecure(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("SESSION_COOKIE_SAMESITE", "None")
	t.Setenv("SESSION_COOKIE_SECURE", "false")

	_, err := Load()
	require.Error(t, err)
}

func TestOmniWarnings(t *testing.T) {
	cfg := &Config{}
	assert.Len(t, cfg.OmniWarnings(), 3)

	cfg.OmniBaseURL = "https://example.omniapp.co"
	cfg.OmniSecret = "s"
	cfg.OmniContentPathAllowlist = []string{"/dashboards/x"}
	assert.Empty(t, cfg.OmniWarnings())
}
