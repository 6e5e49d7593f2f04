// Package dpop implements DPoP (RFC 9449) proof validation (spec §4.8):
// parsing and self-signature verification of a DPoP proof JWT, htm/htu/iat
// checks, jti replay detection, access-token-hash binding, and RFC 7638 JWK
// thumbprint computation for token binding.
package dpop

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
)

// ReplayStore performs the atomic check-and-store required for jti replay
// detection (spec §4.8 step 4). internal/infra/redis.Backend satisfies
// this.
type ReplayStore interface {
	CheckAndStore(ctx context.Context, namespace, key string, ttl time.Duration) (alreadyPresent bool, err error)
}

// replayNamespace is the cache namespace DPoP jtis are stored under (spec
// §4.8: "store... under key dpop_jti:<jti>").
const replayNamespace = "dpop_jti"

// allowedProofAlgorithms is the algorithm set DPoP proofs may use (spec
// §4.8: "ES256 or RS256").
var allowedProofAlgorithms = []string{"ES256", "RS256"}

// Proof is a parsed and signature-verified DPoP proof.
type Proof struct {
	header domain.DPoPProofHeader
	claims domain.DPoPProofClaims
	jwk    jose.JSONWebKey
}

// ParseAndVerify parses raw as a DPoP proof JWT and verifies its signature
// against the public key embedded in its own "jwk" header — DPoP proofs are
// self-signed, there is no external key source.
func ParseAndVerify(raw string) (*Proof, error) {
	parser := jwt.NewParser(jwt.WithValidMethods(allowedProofAlgorithms), jwt.WithoutClaimsValidation())

	unverified, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "dpop proof is not well-formed", err)
	}

	typ, _ := unverified.Header["typ"].(string)
	if typ != domain.DPoPTypHeader {
		return nil, apperrors.New(apperrors.KindTokenInvalid, fmt.Sprintf("dpop proof typ must be %q", domain.DPoPTypHeader))
	}

	jwkRaw, ok := unverified.Header["jwk"]
	if !ok {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "dpop proof is missing jwk header")
	}
	jwkBytes, err := json.Marshal(jwkRaw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "dpop proof jwk header is not well-formed", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(jwkBytes); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "dpop proof jwk header could not be decoded", err)
	}

	token, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		switch jwk.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			return jwk.Key, nil
		default:
			return nil, apperrors.New(apperrors.KindTokenInvalid, "dpop proof jwk is not an RSA or EC public key")
		}
	})
	if err != nil || !token.Valid {
		return nil, apperrors.Wrap(apperrors.KindTokenInvalid, "dpop proof signature verification failed", err)
	}

	claims, err := mapClaimsToProofClaims(token.Claims.(jwt.MapClaims))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "dpop proof claims are not well-formed", err)
	}

	header := domain.DPoPProofHeader{Type: typ, Algorithm: fmt.Sprint(unverified.Header["alg"])}
	return &Proof{header: header, claims: claims, jwk: jwk}, nil
}

func mapClaimsToProofClaims(mc jwt.MapClaims) (domain.DPoPProofClaims, error) {
	var c domain.DPoPProofClaims
	c.ID, _ = mc["jti"].(string)
	c.HTTPMethod, _ = mc["htm"].(string)
	c.HTTPURI, _ = mc["htu"].(string)
	c.AccessTokenHash, _ = mc["ath"].(string)
	c.Nonce, _ = mc["nonce"].(string)
	switch iat := mc["iat"].(type) {
	case float64:
		c.IssuedAt = int64(iat)
	case int64:
		c.IssuedAt = iat
	}
	if c.HTTPMethod == "" || c.HTTPURI == "" {
		return c, fmt.Errorf("dpop proof missing htm/htu")
	}
	return c, nil
}

// Validator performs the runtime checks of spec §4.8 steps 1-5 against an
// already signature-verified Proof.
type Validator struct {
	replay ReplayStore
	cfg    config.DPoPConfig
}

// New constructs a Validator.
func New(replay ReplayStore, cfg config.DPoPConfig) *Validator {
	return &Validator{replay: replay, cfg: cfg}
}

// Validate runs spec §4.8 steps 1-5 and returns the RFC 7638 thumbprint of
// the proof's JWK (step 6) on success. A failed check short-circuits the
// rest. Step 4 is the only step that mutates the replay cache: it stores the
// jti when no replay is found, so a proof that then fails the ath check
// (step 5) has already consumed its jti.
func (v *Validator) Validate(ctx context.Context, proof *Proof, expectedMethod, expectedURI string, accessToken *string, now time.Time) (string, error) {
	if !strings.EqualFold(proof.claims.HTTPMethod, expectedMethod) {
		return "", apperrors.New(apperrors.KindDPoPHTMMismatch, "dpop proof htm does not match the request method")
	}

	if normalizeURI(proof.claims.HTTPURI) != normalizeURI(expectedURI) {
		return "", apperrors.New(apperrors.KindDPoPHTUMismatch, "dpop proof htu does not match the request URI")
	}

	iat := time.Unix(proof.claims.IssuedAt, 0).UTC()
	lowerBound := now.Add(-v.cfg.ClockSkew - v.cfg.JTITTL)
	upperBound := now.Add(v.cfg.ClockSkew)
	if iat.Before(lowerBound) || iat.After(upperBound) {
		return "", apperrors.New(apperrors.KindDPoPIATOutOfWindow, "dpop proof iat is outside the permitted window")
	}

	replayed, err := v.replay.CheckAndStore(ctx, replayNamespace, proof.claims.ID, v.cfg.JTITTL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindUnavailable, "dpop replay check failed", err)
	}
	if replayed {
		return "", apperrors.New(apperrors.KindDPoPReplay, "dpop proof jti has already been used")
	}

	if accessToken != nil && proof.claims.AccessTokenHash != "" {
		sum := sha256.Sum256([]byte(*accessToken))
		expectedAth := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(expectedAth), []byte(proof.claims.AccessTokenHash)) != 1 {
			return "", apperrors.New(apperrors.KindDPoPATHMismatch, "dpop proof ath does not match the presented access token")
		}
	}

	return Thumbprint(proof.jwk)
}

// normalizeURI trims a trailing slash and lowercases, per spec §4.8 step 2.
func normalizeURI(uri string) string {
	return strings.ToLower(strings.TrimSuffix(uri, "/"))
}

// Thumbprint computes the RFC 7638 thumbprint of jwk using go-jose's
// canonical-JSON implementation (strict lexicographic member ordering:
// EC -> crv,kty,x,y; RSA -> e,kty,n).
func Thumbprint(jwk jose.JSONWebKey) (string, error) {
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDPoPThumbprintMismatch, "could not compute jwk thumbprint", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// Thumbprint returns the RFC 7638 thumbprint of the key proof was signed
// with, for callers (e.g. token issuance) that only need cnf.jkt and not
// the full runtime Validate checks.
func (p *Proof) Thumbprint() (string, error) {
	return Thumbprint(p.jwk)
}

// ValidateTokenBinding recomputes proof's thumbprint and compares it in
// constant time against tokenJKT, the thumbprint carried in a token's cnf
// claim.
func ValidateTokenBinding(proof *Proof, tokenJKT string) (bool, error) {
	thumb, err := Thumbprint(proof.jwk)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(thumb), []byte(tokenJKT)) == 1, nil
}
