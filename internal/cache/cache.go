// Package cache implements the namespaced encrypted cache (spec §4.3): a
// thin layer over internal/infra/redis.Backend that encrypts every value
// through internal/crypto before it touches storage and decrypts it on the
// way back out, so namespace isolation and at-rest encryption both hold
// regardless of which backend (Redis or its in-memory fallback) actually
// served the call.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/crypto"
	"github.com/lattice-id/identity-core/internal/domain"
)

// Backend is the storage dependency the cache needs; internal/infra/redis.Backend
// satisfies it.
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

// Cache is a namespaced, encrypted cache. A Cache is scoped to a single
// namespace: two Caches constructed with different namespaces never see
// each other's keys, even when they share a Backend (spec §8 property 9,
// "namespace isolation").
type Cache struct {
	namespace string
	backend   Backend
	crypto    *crypto.Client
	ttl       time.Duration
}

// New constructs a Cache scoped to namespace, storing entries in backend
// encrypted via cryptoClient, with cfg.DefaultTTL used whenever Set is
// called without an explicit TTL.
func New(namespace string, backend Backend, cryptoClient *crypto.Client, cfg config.CacheConfig) *Cache {
	return &Cache{namespace: namespace, backend: backend, crypto: cryptoClient, ttl: cfg.DefaultTTL}
}

// Get retrieves and decrypts the value stored at key. ok is false if the
// key is absent or its entry has expired.
func (c *Cache) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	raw, ok, err := c.backend.Get(ctx, c.namespace, key)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindUnavailable, "cache backend get failed", err)
	}
	if !ok {
		return nil, false, nil
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindDecryptionFailed, "cache entry is corrupt", err)
	}
	if entry.Expired(time.Now()) {
		return nil, false, nil
	}

	plaintext, err := c.crypto.Decrypt(ctx, entry.Artifact, c.namespace)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// Set encrypts value and stores it under key with ttl. A zero ttl uses the
// Cache's configured default TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	artifact, err := c.crypto.Encrypt(ctx, c.namespace, value)
	if err != nil {
		return err
	}

	entry := domain.CacheEntry{
		Namespace: c.namespace,
		Key:       key,
		Artifact:  artifact,
		ExpiresAt: time.Now().Add(ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.KindEncryptionFailed, "cache entry encoding failed", err)
	}

	if err := c.backend.Set(ctx, c.namespace, key, raw, ttl); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "cache backend set failed", err)
	}
	return nil
}

// Delete removes key from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, c.namespace, key); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "cache backend delete failed", err)
	}
	return nil
}
