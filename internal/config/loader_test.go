package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoEnv(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("APP_SERVICE_ID", "identity-core-test")
	t.Setenv("APP_ENV", "staging")
	t.Setenv("CB_FAILURE_THRESHOLD", "7")
	t.Setenv("CB_OPEN_TIMEOUT", "15s")
	t.Setenv("RETRY_MULTIPLIER", "3.5")
	t.Setenv("CRYPTO_NAMESPACE", "edge")
	t.Setenv("CRYPTO_FALLBACK_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "identity-core-test", cfg.App.ServiceID)
	assert.Equal(t, "staging", cfg.App.Env)
	assert.Equal(t, 7, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.CircuitBreaker.OpenTimeout)
	assert.Equal(t, 3.5, cfg.Retry.Multiplier)
	assert.Equal(t, "edge", cfg.Crypto.Namespace)
	assert.False(t, cfg.Crypto.FallbackEnabled)

	// Values not overridden keep their defaults.
	assert.Equal(t, DefaultConfig().CircuitBreaker.SuccessThreshold, cfg.CircuitBreaker.SuccessThreshold)
}

func TestLoad_InvalidEnvFailsStartup(t *testing.T) {
	t.Setenv("APP_ENV", "not-a-real-environment")

	_, err := Load()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
