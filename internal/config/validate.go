package config

import (
	"fmt"
	"strings"
)

// validAppEnvs defines the allowed values for APP_ENV.
var validAppEnvs = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// ValidationError holds multiple configuration validation errors, collected
// rather than failing on the first one so a misconfigured deployment sees
// every problem in a single startup failure.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// Is supports errors.Is() pattern for type checking.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// Validate checks configuration for required fields and valid ranges,
// returning a ValidationError with every problem found (spec §6: "invalid
// values cause startup to fail with a descriptive error").
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.CircuitBreaker.validate()...)
	errs = append(errs, c.Retry.validate()...)
	errs = append(errs, c.Cache.validate()...)
	errs = append(errs, c.Crypto.validate()...)
	errs = append(errs, c.JWKS.validate()...)
	errs = append(errs, c.JWT.validate()...)
	errs = append(errs, c.DPoP.validate()...)
	errs = append(errs, c.Refresh.validate()...)
	errs = append(errs, c.RateLimit.validate()...)
	errs = append(errs, c.Token.validate()...)
	errs = append(errs, c.SPIFFE.validate()...)
	errs = append(errs, c.CAEP.validate()...)
	errs = append(errs, c.Shutdown.validate()...)
	errs = append(errs, c.Redis.validate()...)
	errs = append(errs, c.Log.validate()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (c *Config) validateApp() []string {
	var errs []string
	if c.App.ServiceID == "" {
		errs = append(errs, "APP_SERVICE_ID is required")
	}
	if c.App.Env != "" && !validAppEnvs[c.App.Env] {
		errs = append(errs, "APP_ENV must be one of: development, staging, production")
	}
	return errs
}

func (c *CircuitBreakerConfig) validate() []string {
	var errs []string
	if c.FailureThreshold < 1 {
		errs = append(errs, "CB_FAILURE_THRESHOLD must be greater than 0")
	}
	if c.SuccessThreshold < 1 {
		errs = append(errs, "CB_SUCCESS_THRESHOLD must be greater than 0")
	}
	if c.OpenTimeout <= 0 {
		errs = append(errs, "CB_OPEN_TIMEOUT must be greater than 0")
	}
	if c.HalfOpenMaxInflight < 1 {
		errs = append(errs, "CB_HALF_OPEN_MAX_INFLIGHT must be greater than 0")
	}
	return errs
}

func (c *RetryConfig) validate() []string {
	var errs []string
	if c.MaxRetries < 0 {
		errs = append(errs, "RETRY_MAX_RETRIES must be >= 0")
	}
	if c.InitialDelay <= 0 {
		errs = append(errs, "RETRY_INITIAL_DELAY must be greater than 0")
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, "RETRY_MAX_DELAY must be >= RETRY_INITIAL_DELAY")
	}
	if c.Multiplier < 1.0 {
		errs = append(errs, "RETRY_MULTIPLIER must be >= 1.0")
	}
	return errs
}

func (c *CacheConfig) validate() []string {
	var errs []string
	if c.DefaultTTL <= 0 {
		errs = append(errs, "CACHE_DEFAULT_TTL must be greater than 0")
	}
	if c.SizeLimit < 1 {
		errs = append(errs, "CACHE_SIZE_LIMIT must be greater than 0")
	}
	return errs
}

func (c *CryptoConfig) validate() []string {
	var errs []string
	if c.Namespace == "" {
		errs = append(errs, "CRYPTO_NAMESPACE is required")
	}
	if c.RotationWindow <= 0 {
		errs = append(errs, "CRYPTO_ROTATION_WINDOW must be greater than 0")
	}
	if c.LocalFallbackKeyHex != "" && len(c.LocalFallbackKeyHex) != 64 {
		errs = append(errs, "CRYPTO_LOCAL_FALLBACK_KEY_HEX must be 64 hex characters (32 bytes)")
	}
	return errs
}

func (c *JWKSConfig) validate() []string {
	var errs []string
	if c.TTL <= 0 {
		errs = append(errs, "JWKS_TTL must be greater than 0")
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, "JWKS_FETCH_TIMEOUT must be greater than 0")
	}
	return errs
}

func (c *JWTConfig) validate() []string {
	var errs []string
	if c.ClockSkew < 0 {
		errs = append(errs, "JWT_CLOCK_SKEW must be >= 0")
	}
	if len(c.RequiredClaims) == 0 {
		errs = append(errs, "JWT_REQUIRED_CLAIMS must not be empty")
	}
	return errs
}

func (c *DPoPConfig) validate() []string {
	var errs []string
	if c.ClockSkew < 0 {
		errs = append(errs, "DPOP_CLOCK_SKEW must be >= 0")
	}
	if c.JTITTL <= 0 {
		errs = append(errs, "DPOP_JTI_TTL must be greater than 0")
	}
	return errs
}

func (c *RefreshConfig) validate() []string {
	var errs []string
	if c.TTL <= 0 {
		errs = append(errs, "REFRESH_TTL must be greater than 0")
	}
	return errs
}

func (c *RateLimitConfig) validate() []string {
	var errs []string
	if c.WindowSize <= 0 {
		errs = append(errs, "RATELIMIT_WINDOW_SIZE must be greater than 0")
	}
	if c.UnknownLimit < 0 || c.SuspiciousLimit < 0 || c.NormalLimit < 0 || c.TrustedLimit < 0 {
		errs = append(errs, "RATELIMIT_*_LIMIT values must be >= 0")
	}
	if c.ViolationsToDemote < 1 {
		errs = append(errs, "RATELIMIT_VIOLATIONS_TO_DEMOTE must be greater than 0")
	}
	if c.LoadReductionFactor <= 0 || c.LoadReductionFactor > 1 {
		errs = append(errs, "RATELIMIT_LOAD_REDUCTION_FACTOR must be in (0, 1]")
	}
	return errs
}

func (c *TokenConfig) validate() []string {
	var errs []string
	if c.Issuer == "" {
		errs = append(errs, "TOKEN_ISSUER must not be empty")
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, "TOKEN_ACCESS_TTL must be greater than 0")
	}
	if c.DefaultRefreshTTL <= 0 {
		errs = append(errs, "TOKEN_DEFAULT_REFRESH_TTL must be greater than 0")
	}
	return errs
}

func (c *SPIFFEConfig) validate() []string {
	return nil
}

func (c *CAEPConfig) validate() []string {
	var errs []string
	if c.ExpectedAudience == "" {
		errs = append(errs, "CAEP_EXPECTED_AUDIENCE must not be empty")
	}
	return errs
}

func (c *ShutdownConfig) validate() []string {
	var errs []string
	if c.Timeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be greater than 0")
	}
	return errs
}

func (c *RedisConfig) validate() []string {
	var errs []string
	if c.Addr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, "REDIS_DIAL_TIMEOUT must be greater than 0")
	}
	if c.PoolSize < 1 {
		errs = append(errs, "REDIS_POOL_SIZE must be greater than 0")
	}
	return errs
}

func (c *LogConfig) validate() []string {
	var errs []string
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, "LOG_FORMAT must be one of: json, console")
	}
	if c.BatchSize < 1 {
		errs = append(errs, "LOG_BATCH_SIZE must be greater than 0")
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, "LOG_FLUSH_INTERVAL must be greater than 0")
	}
	return errs
}
