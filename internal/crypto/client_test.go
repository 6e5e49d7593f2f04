package crypto

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
	"github.com/lattice-id/identity-core/internal/ratelimit"
)

func testLocalKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func testCryptoConfig() config.CryptoConfig {
	return config.CryptoConfig{Namespace: "cache", FallbackEnabled: true, RotationWindow: time.Hour}
}

// fakeRemote is an in-memory RemoteCrypto used to exercise the remote path
// and its failure modes without a real KMS/Vault dependency.
type fakeRemote struct {
	mu      sync.Mutex
	failNext bool
	stored  map[string][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{stored: make(map[string][]byte)}
}

func (f *fakeRemote) Encrypt(ctx context.Context, keyID domain.KeyID, plaintext, aad []byte) ([]byte, [12]byte, [16]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, [12]byte{}, [16]byte{}, errors.New("remote unavailable")
	}
	token := keyID.String()
	f.stored[token] = append(append([]byte{}, plaintext...), aad...)
	return []byte(token), [12]byte{1}, [16]byte{2}, nil
}

func (f *fakeRemote) Decrypt(ctx context.Context, keyID domain.KeyID, ciphertext, iv, tag, aad []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.stored[string(ciphertext)]
	if !ok {
		return nil, errors.New("not found")
	}
	plaintext := stored[:len(stored)-len(aad)]
	storedAAD := stored[len(stored)-len(aad):]
	if string(storedAAD) != string(aad) {
		return nil, errors.New("aad mismatch")
	}
	return plaintext, nil
}

func TestClient_LocalFallbackRoundTrip(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	c := NewClient(testCryptoConfig(), keys, testLocalKey())

	artifact, err := c.Encrypt(context.Background(), "sessions", []byte("secret payload"))
	require.NoError(t, err)
	assert.True(t, artifact.IsLocalFallback())

	plaintext, err := c.Decrypt(context.Background(), artifact, "sessions")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), plaintext)
}

func TestClient_LocalFallbackAADMismatchFails(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	c := NewClient(testCryptoConfig(), keys, testLocalKey())

	artifact, err := c.Encrypt(context.Background(), "sessions", []byte("secret payload"))
	require.NoError(t, err)

	_, err = c.Decrypt(context.Background(), artifact, "other-logical-name")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDecryptionFailed))
}

func TestClient_RemoteRoundTrip(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	keys.Activate("sessions")
	remote := newFakeRemote()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithRemote(remote))

	artifact, err := c.Encrypt(context.Background(), "sessions", []byte("secret payload"))
	require.NoError(t, err)
	assert.False(t, artifact.IsLocalFallback())

	plaintext, err := c.Decrypt(context.Background(), artifact, "sessions")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), plaintext)
}

func TestClient_FallsBackToLocalWhenRemoteFails(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	keys.Activate("sessions")
	remote := newFakeRemote()
	remote.failNext = true
	metrics := NoopMetrics()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithRemote(remote), WithMetrics(metrics))

	artifact, err := c.Encrypt(context.Background(), "sessions", []byte("secret payload"))
	require.NoError(t, err)
	assert.True(t, artifact.IsLocalFallback())

	plaintext, err := c.Decrypt(context.Background(), artifact, "sessions")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), plaintext)
}

func TestClient_RemoteFailureWithFallbackDisabledReturnsError(t *testing.T) {
	cfg := testCryptoConfig()
	cfg.FallbackEnabled = false
	keys := NewKeyManager("cache", time.Hour)
	keys.Activate("sessions")
	remote := newFakeRemote()
	remote.failNext = true
	c := NewClient(cfg, keys, testLocalKey(), WithRemote(remote))

	_, err := c.Encrypt(context.Background(), "sessions", []byte("secret payload"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindEncryptionFailed))
}

func TestClient_DecryptRemoteArtifactWithoutRemoteConfiguredFails(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	artifact := domain.EncryptedArtifact{
		KeyID:     domain.KeyID{Namespace: "cache", ID: "sessions", Version: 1},
		Algorithm: domain.AlgorithmAES256GCM,
	}
	c := NewClient(testCryptoConfig(), keys, testLocalKey())

	_, err := c.Decrypt(context.Background(), artifact, "sessions")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDecryptionFailed))
}

// fakeSigner is an in-memory RemoteSigner used to exercise the sign/verify/
// generate-key/rotate-key/get-key-metadata remote path without a real KMS.
type fakeSigner struct {
	mu       sync.Mutex
	failNext bool
	metadata map[string]domain.KeyMetadata
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{metadata: make(map[string]domain.KeyMetadata)}
}

func (f *fakeSigner) GenerateKey(ctx context.Context, keyID domain.KeyID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("kms unavailable")
	}
	f.metadata[keyID.String()] = domain.KeyMetadata{ID: keyID, State: domain.KeyStateActive}
	return []byte("pub:" + keyID.String()), nil
}

func (f *fakeSigner) RotateKey(ctx context.Context, oldKeyID, newKeyID domain.KeyID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("kms unavailable")
	}
	if rec, ok := f.metadata[oldKeyID.String()]; ok {
		rec.State = domain.KeyStateDeprecated
		f.metadata[oldKeyID.String()] = rec
	}
	f.metadata[newKeyID.String()] = domain.KeyMetadata{ID: newKeyID, State: domain.KeyStateActive}
	return []byte("pub:" + newKeyID.String()), nil
}

func (f *fakeSigner) Sign(ctx context.Context, keyID domain.KeyID, digest []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("kms unavailable")
	}
	return append([]byte("sig:"+keyID.String()+":"), digest...), nil
}

func (f *fakeSigner) Verify(ctx context.Context, keyID domain.KeyID, digest, signature []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return false, errors.New("kms unavailable")
	}
	want := append([]byte("sig:"+keyID.String()+":"), digest...)
	return string(want) == string(signature), nil
}

func (f *fakeSigner) GetKeyMetadata(ctx context.Context, keyID domain.KeyID) (domain.KeyMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return domain.KeyMetadata{}, errors.New("kms unavailable")
	}
	meta, ok := f.metadata[keyID.String()]
	if !ok {
		return domain.KeyMetadata{}, errors.New("not found")
	}
	return meta, nil
}

func TestClient_SignVerifyRemoteRoundTrip(t *testing.T) {
	keys := NewKeyManager("tokens", time.Hour)
	signer := newFakeSigner()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithSigner(signer))

	keyID, _, err := c.GenerateKey(context.Background(), "access-token")
	require.NoError(t, err)

	sig, signedWith, err := c.Sign(context.Background(), "access-token", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, signedWith.Equal(keyID))

	ok, err := c.Verify(context.Background(), signedWith, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_SignFallsBackToLocalWhenRemoteFails(t *testing.T) {
	keys := NewKeyManager("tokens", time.Hour)
	signer := newFakeSigner()
	metrics := NoopMetrics()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithSigner(signer), WithMetrics(metrics))

	_, _, err := c.GenerateKey(context.Background(), "access-token")
	require.NoError(t, err)

	signer.mu.Lock()
	signer.failNext = true
	signer.mu.Unlock()

	sig, keyID, err := c.Sign(context.Background(), "access-token", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, keyID.IsLocalFallback())

	ok, err := c.Verify(context.Background(), keyID, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_SignRejectsNonActiveKey(t *testing.T) {
	keys := NewKeyManager("tokens", time.Hour)
	c := NewClient(testCryptoConfig(), keys, testLocalKey())

	keys.Activate("access-token")
	keys.Rotate("access-token") // demotes v1 to deprecated, activates v2

	// Force the active pointer back to the now-deprecated version to
	// exercise the state≠active rejection (spec §4.5 step 4).
	keys.mu.Lock()
	keys.activeByLogicalName["access-token"] = domain.KeyID{Namespace: "tokens", ID: "access-token", Version: 1}
	keys.mu.Unlock()

	_, _, err := c.Sign(context.Background(), "access-token", []byte("payload"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindKeyInvalidState))
}

func TestClient_RotateKeyFailsOutrightWhenRemoteUnavailable(t *testing.T) {
	keys := NewKeyManager("tokens", time.Hour)
	signer := newFakeSigner()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithSigner(signer))

	_, _, err := c.GenerateKey(context.Background(), "access-token")
	require.NoError(t, err)

	signer.mu.Lock()
	signer.failNext = true
	signer.mu.Unlock()

	_, _, err = c.RotateKey(context.Background(), "access-token")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUnavailable))
}

func TestClient_GetKeyMetadataFallsBackToLocalView(t *testing.T) {
	keys := NewKeyManager("tokens", time.Hour)
	signer := newFakeSigner()
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithSigner(signer))

	keyID, _, err := c.GenerateKey(context.Background(), "access-token")
	require.NoError(t, err)

	signer.mu.Lock()
	signer.failNext = true
	signer.mu.Unlock()

	meta, err := c.GetKeyMetadata(context.Background(), keyID)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyStateActive, meta.State)
}

// fakeRateLimitStore is an in-memory ratelimit.Store for wiring a Limiter
// into Client tests without a real Redis backend.
type fakeRateLimitStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeRateLimitStore) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[namespace+":"+key]
	return v, ok, nil
}

func (f *fakeRateLimitStore) Set(_ context.Context, namespace, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[namespace+":"+key] = value
	return nil
}

func TestClient_RateLimiterDeniesOperations(t *testing.T) {
	keys := NewKeyManager("cache", time.Hour)
	store := &fakeRateLimitStore{data: make(map[string][]byte)}
	limiter := ratelimit.New(store, config.RateLimitConfig{
		WindowSize:   time.Minute,
		UnknownLimit: 1,
	})
	c := NewClient(testCryptoConfig(), keys, testLocalKey(), WithRateLimiter(limiter))

	_, err := c.Encrypt(context.Background(), "sessions", []byte("first"))
	require.NoError(t, err)

	_, err = c.Encrypt(context.Background(), "sessions", []byte("second"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindRateLimited))
}
