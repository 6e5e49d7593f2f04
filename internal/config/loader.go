package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envPrefixes maps environment variable prefixes to config paths.
var envPrefixes = map[string]string{
	"APP_":       "app",
	"CB_":        "cb",
	"RETRY_":     "retry",
	"CACHE_":     "cache",
	"CRYPTO_":    "crypto",
	"JWKS_":      "jwks",
	"JWT_":       "jwt",
	"DPOP_":      "dpop",
	"REFRESH_":   "refresh",
	"RATELIMIT_": "ratelimit",
	"TOKEN_":     "token",
	"SPIFFE_":    "spiffe",
	"CAEP_":      "caep",
	"SHUTDOWN_":  "shutdown",
	"LOG_":       "log",
	"REDIS_":     "redis",
}

// Load builds configuration strictly from environment variables, starting
// from DefaultConfig and overriding any field whose environment variable
// is set. There is no file-based configuration path (spec §6 covers only
// environment variables). Invalid values fail startup with a descriptive
// error, per spec §6's strict-parsing requirement.
func Load() (*Config, error) {
	k := koanf.New(".")

	for prefix, path := range envPrefixes {
		if err := loadEnvPrefix(k, prefix, path); err != nil {
			return nil, fmt.Errorf("config: loading %s*: %w", prefix, err)
		}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// loadEnvPrefix loads environment variables with the given prefix into the
// koanf tree under path, lowercasing the remainder of the variable name.
func loadEnvPrefix(k *koanf.Koanf, prefix, path string) error {
	return k.Load(env.Provider(prefix, ".", func(s string) string {
		return path + "." + strings.ToLower(strings.TrimPrefix(s, prefix))
	}), nil)
}
