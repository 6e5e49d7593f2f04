package config

import "time"

// DefaultConfig returns the configuration used when an environment variable
// is not set. Load() starts from this value and merges environment
// overrides on top of it.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{
			ServiceID: "identity-core",
			Env:       "development",
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			OpenTimeout:         30 * time.Second,
			HalfOpenMaxInflight: 1,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
			SizeLimit:  10_000,
		},
		Crypto: CryptoConfig{
			Namespace:       "identity-core",
			FallbackEnabled: true,
			RotationWindow:  time.Hour,
		},
		JWKS: JWKSConfig{
			TTL:          10 * time.Minute,
			FetchTimeout: 5 * time.Second,
		},
		JWT: JWTConfig{
			ClockSkew:      60 * time.Second,
			RequiredClaims: []string{"iss", "sub", "aud", "exp", "iat", "jti"},
		},
		DPoP: DPoPConfig{
			ClockSkew: 60 * time.Second,
			JTITTL:    5 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			WindowSize:          time.Minute,
			UnknownLimit:        90,
			SuspiciousLimit:     30,
			NormalLimit:         120,
			TrustedLimit:        240,
			ViolationsToDemote:  3,
			LoadThreshold:       0.8,
			LoadReductionFactor: 0.5,
		},
		Token: TokenConfig{
			Issuer:            "https://identity.lattice.example.com",
			AccessTTL:         15 * time.Minute,
			DefaultRefreshTTL: 24 * time.Hour,
		},
		CAEP: CAEPConfig{
			ExpectedAudience: "identity-core-receiver",
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "json",
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
	}
}
