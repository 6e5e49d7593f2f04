// Package config defines the platform's typed configuration surface and
// loads it strictly from environment variables (spec §6: "Environment
// variables recognised... Parsing is strict: invalid values cause startup
// to fail with a descriptive error"). File-based configuration is out of
// scope for this module.
package config

import "time"

// Config aggregates every subsystem's configuration.
type Config struct {
	App            AppConfig            `koanf:"app"`
	CircuitBreaker CircuitBreakerConfig `koanf:"cb"`
	Retry          RetryConfig          `koanf:"retry"`
	Cache          CacheConfig          `koanf:"cache"`
	Crypto         CryptoConfig         `koanf:"crypto"`
	JWKS           JWKSConfig           `koanf:"jwks"`
	JWT            JWTConfig            `koanf:"jwt"`
	DPoP           DPoPConfig           `koanf:"dpop"`
	Refresh        RefreshConfig        `koanf:"refresh"`
	RateLimit      RateLimitConfig      `koanf:"ratelimit"`
	Token          TokenConfig          `koanf:"token"`
	SPIFFE         SPIFFEConfig         `koanf:"spiffe"`
	CAEP           CAEPConfig           `koanf:"caep"`
	Shutdown       ShutdownConfig       `koanf:"shutdown"`
	Log            LogConfig            `koanf:"log"`
	Redis          RedisConfig          `koanf:"redis"`
}

// AppConfig holds process-wide identity.
type AppConfig struct {
	ServiceID string `koanf:"service_id"`
	Env       string `koanf:"env"` // development, staging, production
}

// CircuitBreakerConfig configures the circuit breaker guarding every
// outbound dependency call (spec §4.1). Every breaker instance in the
// process (crypto client, JWKS fetch, redis backend, CAEP delivery) is
// constructed from its own copy of this shape.
type CircuitBreakerConfig struct {
	FailureThreshold    int           `koanf:"failure_threshold"`
	SuccessThreshold    int           `koanf:"success_threshold"`
	OpenTimeout         time.Duration `koanf:"open_timeout"`
	HalfOpenMaxInflight int           `koanf:"half_open_max_inflight"`
}

// RetryConfig configures the exponential-backoff retry policy (spec §4.2).
type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	Jitter       bool          `koanf:"jitter"`
}

// CacheConfig configures the namespaced encrypted cache (spec §4.3).
type CacheConfig struct {
	DefaultTTL time.Duration `koanf:"default_ttl"`
	SizeLimit  int           `koanf:"size_limit"`
}

// CryptoConfig configures the crypto client and key manager (spec §4.4,
// §4.5).
type CryptoConfig struct {
	Namespace           string        `koanf:"namespace"`
	FallbackEnabled     bool          `koanf:"fallback_enabled"`
	RotationWindow      time.Duration `koanf:"rotation_window"`
	LocalFallbackKeyHex string        `koanf:"local_fallback_key_hex"`
}

// JWKSConfig configures the JWKS single-flight cache (spec §4.6).
type JWKSConfig struct {
	TTL          time.Duration `koanf:"ttl"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// JWTConfig configures the JWT type-state validator (spec §4.7).
type JWTConfig struct {
	ClockSkew      time.Duration `koanf:"clock_skew"`
	RequiredClaims []string      `koanf:"required_claims"`
}

// DPoPConfig configures DPoP proof validation (spec §4.8).
type DPoPConfig struct {
	ClockSkew time.Duration `koanf:"clock_skew"`
	JTITTL    time.Duration `koanf:"jti_ttl"`
}

// RefreshConfig configures refresh-token rotation (spec §4.9).
type RefreshConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// RateLimitConfig configures the adaptive rate limiter (spec §4.10).
type RateLimitConfig struct {
	WindowSize          time.Duration `koanf:"window_size"`
	UnknownLimit        int           `koanf:"unknown_limit"`
	SuspiciousLimit     int           `koanf:"suspicious_limit"`
	NormalLimit         int           `koanf:"normal_limit"`
	TrustedLimit        int           `koanf:"trusted_limit"`
	ViolationsToDemote  int           `koanf:"violations_to_demote"`
	LoadThreshold       float64       `koanf:"load_threshold"`
	LoadReductionFactor float64       `koanf:"load_reduction_factor"`
}

// TokenConfig configures the Token Service façade (spec §4.11): the
// signed-token issuer identity and default lifetimes.
type TokenConfig struct {
	Issuer            string        `koanf:"issuer"`
	AccessTTL         time.Duration `koanf:"access_ttl"`
	DefaultRefreshTTL time.Duration `koanf:"default_refresh_ttl"`
}

// SPIFFEConfig configures the SPIFFE ID parser's trust-domain allowlist
// (spec §4.12).
type SPIFFEConfig struct {
	TrustDomainAllowlist []string `koanf:"trust_domain_allowlist"`
}

// CAEPConfig configures the Receiver half of the CAEP pipeline (spec
// §4.13): the expected issuer is this process's own Token.Issuer, since the
// same platform both transmits and receives its own security events.
type CAEPConfig struct {
	ExpectedAudience string `koanf:"expected_audience"`
}

// ShutdownConfig configures the graceful-shutdown coordinator (§5).
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig configures the structured log shipper (spec §6).
type LogConfig struct {
	Level         string        `koanf:"level"`
	Format        string        `koanf:"format"` // json, console
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	// Endpoint is the remote log sink's URL. Empty means the shipper has no
	// remote destination and every record goes straight to the local logger.
	Endpoint string `koanf:"endpoint"`
}

// RedisConfig configures the shared Redis backend the cache and rate
// limiter use for cross-instance state (spec §4.3, §4.10).
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}
