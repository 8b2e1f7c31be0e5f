package app

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := loadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.True(t, cfg.SalesOwnerOnly)
	assert.Equal(t, "DOM", cfg.SalesDefaultCategoryCode)
	assert.Equal(t, int64(1), cfg.SalesFallbackCategoryID)
	assert.Equal(t, 30*time.Minute, cfg.LocalizationCacheTTL)
	assert.Equal(t, "sq", cfg.LocalizationDefaultLanguage)
	assert.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	assert.False(t, cfg.TracingEnabled)
	assert.InDelta(t, 0.1, cfg.TracingSampleRatio, 1e-9)
	assert.False(t, cfg.IsProduction())

	loc, err := cfg.NumberingLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SALES_OWNER_ONLY", "false")
	t.Setenv("SALES_DEFAULT_CATEGORY_CODE", "EXP")
	t.Setenv("NUMBERING_TIMEZONE", "Europe/Tirane")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := loadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.SalesOwnerOnly)
	assert.Equal(t, "EXP", cfg.SalesDefaultCategoryCode)
	assert.True(t, cfg.TracingEnabled)

	loc, err := cfg.NumberingLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Tirane", loc.String())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Run("missing secrets", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "")
		t.Setenv("CSRF_SECRET", "")
		_, err := loadFromEnv()
		assert.Error(t, err)
	})
	t.Run("bad timezone", func(t *testing.T) {
		setRequired(t)
		t.Setenv("NUMBERING_TIMEZONE", "Mars/Olympus")
		_, err := loadFromEnv()
		assert.Error(t, err)
	})
	t.Run("fallback category", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SALES_FALLBACK_CATEGORY_ID", "0")
		_, err := loadFromEnv()
		assert.Error(t, err)
	})
}

func TestNilConfigHelpers(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
	loc, err := cfg.NumberingLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
