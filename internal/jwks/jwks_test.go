package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
)

type fakeFetcher struct {
	mu        sync.Mutex
	set       *jose.JSONWebKeySet
	err       error
	calls     int32
	fetchGate chan struct{}
}

func (f *fakeFetcher) FetchJWKS(ctx context.Context, issuer string) (*jose.JSONWebKeySet, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set, f.err
}

func testRSAKeySet(t *testing.T, kid string) *jose.JSONWebKeySet {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
}

func TestCache_GetKeyFetchesWhenMissing(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1")}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Minute})

	key, err := c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCache_GetKeyServesFromCacheWithoutRefetch(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1")}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Minute})

	_, err := c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)
	_, err = c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCache_GetKeyUnknownKidAfterRefreshFails(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1")}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Minute})

	_, err := c.GetKey(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindKeyNotFound))
}

func TestCache_StaleEntryTriggersRefetch(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1")}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Millisecond})

	_, err := c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))
}

func TestCache_SingleFlightCollapsesConcurrentRefreshes(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1"), fetchGate: make(chan struct{})}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Minute})

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.GetKey(context.Background(), "kid-1")
			results[i] = err
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(fetcher.fetchGate)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls), "concurrent GetKey calls must collapse into a single fetch")
}

func TestCache_SkipsUnsupportedKeyType(t *testing.T) {
	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: "not-a-real-key", KeyID: "bad-kid"}}}
	fetcher := &fakeFetcher{set: set}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Minute})

	_, err := c.GetKey(context.Background(), "bad-kid")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindKeyNotFound))
}

func TestCache_RetainsPreviousCacheOnFailedRefresh(t *testing.T) {
	fetcher := &fakeFetcher{set: testRSAKeySet(t, "kid-1")}
	c := New("issuer", fetcher, config.JWKSConfig{TTL: time.Millisecond})

	_, err := c.GetKey(context.Background(), "kid-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	fetcher.mu.Lock()
	fetcher.err = assert.AnError
	fetcher.mu.Unlock()

	_, err = c.GetKey(context.Background(), "kid-1")
	require.Error(t, err)

	c.mu.RLock()
	_, ok := c.entry.Keys["kid-1"]
	c.mu.RUnlock()
	assert.True(t, ok, "a failed refresh must retain the previous cache contents")
}
