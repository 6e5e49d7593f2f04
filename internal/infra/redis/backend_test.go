package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespacedKey(t *testing.T) {
	assert.Equal(t, "cache:foo", namespacedKey("cache", "foo"))
}

func TestBackend_FallbackSetGet(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}
	b.fallbackSet("ns:key", []byte("value"), time.Minute)

	v, ok, err := b.fallbackGet("ns:key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), v)
}

func TestBackend_FallbackGetExpired(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}
	b.fallbackSet("ns:key", []byte("value"), -time.Second)

	_, ok, err := b.fallbackGet("ns:key")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_FallbackGetMissing(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}
	_, ok, err := b.fallbackGet("ns:missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_FallbackIncr(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}

	assert.Equal(t, int64(1), b.fallbackIncr("ns:counter", time.Minute))
	assert.Equal(t, int64(2), b.fallbackIncr("ns:counter", time.Minute))
	assert.Equal(t, int64(3), b.fallbackIncr("ns:counter", time.Minute))
}

func TestBackend_FallbackIncrResetsAfterWindow(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}

	b.counters["ns:counter"] = fallbackCounter{count: 5, expiresAt: time.Now().Add(-time.Second)}
	assert.Equal(t, int64(1), b.fallbackIncr("ns:counter", time.Minute))
}

func TestBackend_FallbackCheckAndStoreDetectsReplay(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}

	assert.False(t, b.fallbackCheckAndStore("ns:jti-1", time.Minute))
	assert.True(t, b.fallbackCheckAndStore("ns:jti-1", time.Minute))
}

func TestBackend_FallbackCheckAndStoreAllowsReuseAfterExpiry(t *testing.T) {
	b := &Backend{fallback: make(map[string]fallbackEntry), counters: make(map[string]fallbackCounter)}

	assert.False(t, b.fallbackCheckAndStore("ns:jti-1", -time.Second))
	assert.False(t, b.fallbackCheckAndStore("ns:jti-1", time.Minute))
}
