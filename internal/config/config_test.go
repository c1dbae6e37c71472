package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "PROFILE_TTL",
		"FALLBACK_AVERAGE_AMOUNT", "SCORE_TIMEOUT", "RATE_LIMIT_RPM",
		"ALLOWED_ORIGINS", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultProfileTTL, cfg.ProfileTTL)
	assert.Equal(t, DefaultFallbackAverage, cfg.FallbackAverage)
	assert.Equal(t, DefaultScoreTimeout, cfg.ScoreTimeout)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "production")
	setEnv(t, "PROFILE_TTL", "30m")
	setEnv(t, "FALLBACK_AVERAGE_AMOUNT", "250.5")
	setEnv(t, "SCORE_TIMEOUT", "2s")
	setEnv(t, "RATE_LIMIT_RPM", "600")
	setEnv(t, "ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Minute, cfg.ProfileTTL)
	assert.Equal(t, 250.5, cfg.FallbackAverage)
	assert.Equal(t, 2*time.Second, cfg.ScoreTimeout)
	assert.Equal(t, 600, cfg.RateLimitRPM)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setEnv(t, "PROFILE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultProfileTTL, cfg.ProfileTTL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero TTL", func(c *Config) { c.ProfileTTL = 0 }, "PROFILE_TTL"},
		{"negative fallback", func(c *Config) { c.FallbackAverage = -1 }, "FALLBACK_AVERAGE_AMOUNT"},
		{"zero timeout", func(c *Config) { c.ScoreTimeout = 0 }, "SCORE_TIMEOUT"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Port:            DefaultPort,
				Env:             DefaultEnv,
				ProfileTTL:      DefaultProfileTTL,
				FallbackAverage: DefaultFallbackAverage,
				ScoreTimeout:    DefaultScoreTimeout,
				RateLimitRPM:    DefaultRateLimit,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
