package dpop

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
)

type fakeReplayStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeReplayStore() *fakeReplayStore { return &fakeReplayStore{seen: make(map[string]bool)} }

func (f *fakeReplayStore) CheckAndStore(ctx context.Context, namespace, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fullKey := namespace + ":" + key
	if f.seen[fullKey] {
		return true, nil
	}
	f.seen[fullKey] = true
	return false, nil
}

func mintProof(t *testing.T, jti, htm, htu string, iat time.Time, ath string) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := jose.JSONWebKey{Key: &key.PublicKey, Algorithm: "ES256"}
	jwkMap, err := jwk.MarshalJSON()
	require.NoError(t, err)
	var jwkAny map[string]any
	require.NoError(t, json.Unmarshal(jwkMap, &jwkAny))

	claims := jwt.MapClaims{
		"jti": jti,
		"htm": htm,
		"htu": htu,
		"iat": float64(iat.Unix()),
	}
	if ath != "" {
		claims["ath"] = ath
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwkAny

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed, key
}

func TestParseAndVerify_ValidProof(t *testing.T) {
	raw, _ := mintProof(t, "jti-1", "POST", "https://api.example.com/token", time.Now(), "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", proof.claims.ID)
}

func TestParseAndVerify_RejectsWrongTyp(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	jwk := jose.JSONWebKey{Key: &key.PublicKey, Algorithm: "ES256"}
	jwkMap, err := jwk.MarshalJSON()
	require.NoError(t, err)
	var jwkAny map[string]any
	require.NoError(t, json.Unmarshal(jwkMap, &jwkAny))

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"jti": "jti-1", "htm": "POST", "htu": "https://x", "iat": float64(time.Now().Unix()),
	})
	token.Header["typ"] = "JWT"
	token.Header["jwk"] = jwkAny
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = ParseAndVerify(signed)
	require.Error(t, err)
}

func TestValidator_FullSuccess(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-2", "POST", "https://api.example.com/token", now, "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	thumb, err := v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", nil, now)
	require.NoError(t, err)
	assert.NotEmpty(t, thumb)
}

func TestValidator_HTMMismatch(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-3", "POST", "https://api.example.com/token", now, "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	_, err = v.Validate(context.Background(), proof, "GET", "https://api.example.com/token", nil, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDPoPHTMMismatch))
}

func TestValidator_HTUNormalization(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-4", "POST", "https://API.example.com/token/", now, "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", nil, now)
	require.NoError(t, err)
}

func TestValidator_IATOutOfWindow(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-5", "POST", "https://api.example.com/token", now.Add(-time.Hour), "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", nil, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDPoPIATOutOfWindow))
}

func TestValidator_ReplayDetected(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-6", "POST", "https://api.example.com/token", now, "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	store := newFakeReplayStore()
	v := New(store, config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})

	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", nil, now)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", nil, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDPoPReplay))
}

func TestValidator_ATHMismatch(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-7", "POST", "https://api.example.com/token", now, "wrong-hash")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	token := "the-access-token"
	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", &token, now)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDPoPATHMismatch))
}

func TestValidator_ATHMatch(t *testing.T) {
	now := time.Now()
	token := "the-access-token"
	sum := sha256.Sum256([]byte(token))
	ath := base64.RawURLEncoding.EncodeToString(sum[:])

	raw, _ := mintProof(t, "jti-8", "POST", "https://api.example.com/token", now, ath)
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	v := New(newFakeReplayStore(), config.DPoPConfig{ClockSkew: 60 * time.Second, JTITTL: 5 * time.Minute})
	_, err = v.Validate(context.Background(), proof, "POST", "https://api.example.com/token", &token, now)
	require.NoError(t, err)
}

func TestValidateTokenBinding(t *testing.T) {
	now := time.Now()
	raw, _ := mintProof(t, "jti-9", "POST", "https://api.example.com/token", now, "")
	proof, err := ParseAndVerify(raw)
	require.NoError(t, err)

	thumb, err := Thumbprint(proof.jwk)
	require.NoError(t, err)

	ok, err := ValidateTokenBinding(proof, thumb)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ValidateTokenBinding(proof, "wrong-thumbprint-wrong-thumbprint-xx")
	require.NoError(t, err)
	assert.False(t, ok)
}
