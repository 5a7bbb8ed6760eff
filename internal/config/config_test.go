package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	t.Setenv("LENDING_POLICY_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("WITHDRAWAL_DELAY", "")
	t.Setenv("WALLET_CURRENCY", "")
	t.Setenv("SEED_DEMO_DATA", "")
	t.Setenv("SMTP_HOST", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.True(t, cfg.SeedDemoData)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEqual(t, cfg.JWTSecret, cfg.RefreshSecret)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.WithdrawalDelay)
	assert.Equal(t, "NGN", cfg.Lending.Currency)
	assert.False(t, cfg.SMTPConfigured())
}

func TestFromEnvProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "REDIS_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestFromEnvParsesDurationsAndPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interest_rate: \"7.5\"\ncurrency: KES\n"), 0o600))

	t.Setenv("APP_ENV", "development")
	t.Setenv("WITHDRAWAL_DELAY", "250ms")
	t.Setenv("SHUTDOWN_TIMEOUT", "3")
	t.Setenv("PORT", ":9090")
	t.Setenv("LENDING_POLICY_FILE", path)
	t.Setenv("WALLET_CURRENCY", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.WithdrawalDelay)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "KES", cfg.Lending.Currency)
	assert.Equal(t, "7.5", cfg.Lending.InterestRate.String())
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("WITHDRAWAL_DELAY", "soon")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "many")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WITHDRAWAL_DELAY")
	assert.Contains(t, err.Error(), "OUTBOX_MAX_ATTEMPTS")
}
