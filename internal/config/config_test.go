package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "CongoWallet", cfg.AppName)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.RequestTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 4, cfg.BulkConcurrency)
	assert.True(t, cfg.AutoMigrate)
	assert.True(t, cfg.IsDev())
}

func TestLoadRequiresStoresOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	_, err = Load()
	require.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDev())
}

func TestLoadDurationForms(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, time.Minute, cfg.IdempotencyTTL)
	assert.Zero(t, cfg.SweepInterval)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	for key, value := range map[string]string{
		"LOCK_TIMEOUT_MS":  "soon",
		"BULK_CONCURRENCY": "many",
		"AUTO_MIGRATE":     "perhaps",
		"LOG_FORMAT":       "xml",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadClaimTimeoutMustOutlastLockWaits(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LOCK_TIMEOUT_MS", "2000")
	t.Setenv("PAYMENT_REQUEST_CLAIM_TIMEOUT_SECONDS", "3")

	_, err := Load()
	require.ErrorContains(t, err, "PAYMENT_REQUEST_CLAIM_TIMEOUT")

	t.Setenv("PAYMENT_REQUEST_CLAIM_TIMEOUT_SECONDS", "30")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.ClaimTimeout)
}
