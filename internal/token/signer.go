// Package token implements the Token Service façade (spec §4.11): token
// pair issuance, refresh rotation, revocation, and JWKS publication,
// composing internal/jwt, internal/crypto, internal/refresh, and
// internal/dpop.
package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/crypto"
	"github.com/lattice-id/identity-core/internal/domain"
)

// signingAlgorithm is the JWT signing algorithm used for every key this
// publisher mints. ES256 matches the DPoP proof algorithm set
// (internal/dpop) and keeps key material small for JWKS distribution.
const signingAlgorithm = "ES256"

// signingLogicalName is the logical key name the Token Service's signing
// key is tracked under in the crypto client's namespace.
const signingLogicalName = "token-signing"

// signingKey pairs a KeyID with the public key material the Publisher
// advertises through JWKS for it. The private half never lives here: every
// signature is produced by calling into the crypto client (spec §2: "the
// Token Service...call[s]...the crypto client; the crypto client reaches a
// remote KMS through a circuit breaker, falling back to local AES-GCM on
// trip").
type signingKey struct {
	id        domain.KeyID
	publicKey *ecdsa.PublicKey
}

func (k signingKey) publicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.publicKey,
		KeyID:     k.id.String(),
		Algorithm: signingAlgorithm,
		Use:       "sig",
	}
}

// Publisher holds the active signing key and, after a rotation, the
// previous one, so in-flight tokens signed before a rotation keep
// validating (spec §4.11: "JWKS publisher retains current and one
// previous key set"). Every signature and every key mint routes through
// client rather than touching private key material directly.
type Publisher struct {
	mu       sync.RWMutex
	client   *crypto.Client
	current  signingKey
	previous *signingKey
}

// NewPublisher provisions the Token Service's signing key through client
// (spec §4.11's IssueTokenPair: "sign via crypto client with active
// signing key") and constructs a Publisher around it.
func NewPublisher(ctx context.Context, client *crypto.Client) (*Publisher, error) {
	id, der, err := client.GenerateKey(ctx, signingLogicalName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenInvalid, "could not provision signing key", err)
	}
	pub, err := parseECDSAPublicKeyDER(der)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, current: signingKey{id: id, publicKey: pub}}, nil
}

func parseECDSAPublicKeyDER(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenInvalid, "could not parse signing public key", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "signing public key is not ECDSA")
	}
	return pub, nil
}

// Sign signs claims with the active signing key and returns the compact
// JWT together with the kid it was signed with. Since the crypto client
// may transparently fall back to a different key than the one predicted
// (spec §4.5's remote-then-local-fallback path), the protected header's
// kid is built optimistically and corrected with one re-sign if the
// prediction and the actual signing key disagree.
func (p *Publisher) Sign(ctx context.Context, claims jwt.MapClaims) (string, string, error) {
	predicted, err := p.client.PredictSigningKeyID(signingLogicalName)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.KindTokenInvalid, "could not resolve signing key", err)
	}

	signed, actual, err := p.signWithKID(ctx, claims, predicted)
	if err != nil {
		return "", "", err
	}
	if !actual.Equal(predicted) {
		signed, actual, err = p.signWithKID(ctx, claims, actual)
		if err != nil {
			return "", "", err
		}
	}
	return signed, actual.String(), nil
}

// signWithKID builds the compact JWT under kid, signs the result via the
// crypto client, and reports the KeyID that actually produced the
// signature (which may differ from kid if the client fell back mid-call).
func (p *Publisher) signWithKID(ctx context.Context, claims jwt.MapClaims, kid domain.KeyID) (string, domain.KeyID, error) {
	header := map[string]any{"alg": signingAlgorithm, "typ": "JWT", "kid": kid.String()}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", domain.KeyID{}, apperrors.Wrap(apperrors.KindTokenInvalid, "could not encode token header", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", domain.KeyID{}, apperrors.Wrap(apperrors.KindTokenInvalid, "could not encode token claims", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	sig, actual, err := p.client.Sign(ctx, signingLogicalName, []byte(signingInput))
	if err != nil {
		return "", domain.KeyID{}, apperrors.Wrap(apperrors.KindTokenInvalid, "token signing failed", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), actual, nil
}

// Rotate generates a new signing key via the crypto client, publishes it
// as current, and demotes the previous current key to previous (spec
// §4.11 RotateSigningKey: "generate a new key via crypto client").
func (p *Publisher) Rotate(ctx context.Context) error {
	id, der, err := p.client.RotateKey(ctx, signingLogicalName)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTokenInvalid, "signing key rotation failed", err)
	}
	pub, err := parseECDSAPublicKeyDER(der)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.current
	p.previous = &prev
	p.current = signingKey{id: id, publicKey: pub}
	return nil
}

// JWKS returns the current-plus-previous public key set (spec §4.11
// GetJWKS).
func (p *Publisher) JWKS() jose.JSONWebKeySet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := []jose.JSONWebKey{p.current.publicJWK()}
	if p.previous != nil {
		keys = append(keys, p.previous.publicJWK())
	}
	return jose.JSONWebKeySet{Keys: keys}
}

// GetKey resolves kid against this process's own current/previous signing
// keys, satisfying internal/jwt.KeyProvider for self-issued token
// validation paths that don't need to round-trip through an external JWKS
// endpoint.
func (p *Publisher) GetKey(_ context.Context, kid string) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current.id.String() == kid {
		return p.current.publicKey, nil
	}
	if p.previous != nil && p.previous.id.String() == kid {
		return p.previous.publicKey, nil
	}
	return nil, apperrors.New(apperrors.KindKeyNotFound, "signing key not found for kid")
}
