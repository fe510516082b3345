package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, onboarding.DefaultVerificationPath, cfg.GetVerificationPath())
	assert.Equal(t, 24*time.Hour, cfg.GetSelfRegTokenTTL())
	assert.Equal(t, 24*time.Hour, cfg.GetInvitedTokenTTL())
	assert.Equal(t, time.Hour, cfg.GetAppUserTokenTTL())
	assert.Equal(t, 10*time.Minute, cfg.GetOtpTTL())
	assert.Equal(t, 60*time.Second, cfg.GetOtpCooldown())
	assert.Equal(t, 60*time.Second, cfg.GetRateLimitCooldown())
	assert.Equal(t, onboarding.DefaultGroupPath, cfg.GetDefaultGroupPath())
	assert.Equal(t, 10*time.Second, cfg.GetDirectoryTimeout())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, time.Hour, cfg.Sweeper.PendingGrace)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ONBOARDING_FRONTEND_URL", "https://forum.example.com")
	t.Setenv("ONBOARDING_TOKENS_APP_USER_TTL", "30m")
	t.Setenv("ONBOARDING_DIRECTORY_TIMEOUT", "3s")
	t.Setenv("ONBOARDING_DATABASE_DRIVER", "postgres")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://forum.example.com", cfg.GetFrontendURL())
	assert.Equal(t, 30*time.Minute, cfg.GetAppUserTokenTTL())
	assert.Equal(t, 3*time.Second, cfg.GetDirectoryTimeout())
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onboarding.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
frontend:
  url: https://file.example.com
  verification_path: /confirm
otp:
  ttl: 5m
onboarding:
  default_group_path: /members/fresh
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.GetFrontendURL())
	assert.Equal(t, "/confirm", cfg.GetVerificationPath())
	assert.Equal(t, 5*time.Minute, cfg.GetOtpTTL())
	assert.Equal(t, "/members/fresh", cfg.GetDefaultGroupPath())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("ONBOARDING_DATABASE_DRIVER", "oracle")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "database.driver")
	})

	t.Run("auth0 needs credentials", func(t *testing.T) {
		t.Setenv("ONBOARDING_DIRECTORY_PROVIDER", "auth0")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "auth0.domain")
	})

	t.Run("production needs a password secret", func(t *testing.T) {
		t.Setenv("ONBOARDING_ENVIRONMENT", "production")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "password_secret")

		t.Setenv("ONBOARDING_SECURITY_PASSWORD_SECRET", "0123456789abcdef0123456789abcdef")
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})
}
