package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
)

// KeyProvider resolves a decoding key by kid. internal/jwks.Cache satisfies
// this.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (any, error)
}

// SignatureValidated is a token whose signature has been verified against
// an allowlisted algorithm and a JWKS-resolved key. Its claims are still
// not safe to act on: exp/nbf/clock-skew/required-claims remain unchecked.
type SignatureValidated struct {
	claims    domain.Claims
	algorithm string
}

// Validated is a token that has passed every check in spec §4.7. Only at
// this phase may business logic read claims.
type Validated struct {
	claims domain.Claims
}

// Claims returns the fully validated claims.
func (v *Validated) Claims() domain.Claims { return v.claims }

// Validator performs phase transitions Unvalidated -> SignatureValidated ->
// Validated.
type Validator struct {
	keys KeyProvider
	cfg  config.JWTConfig
}

// New constructs a Validator resolving keys via keys.
func New(keys KeyProvider, cfg config.JWTConfig) *Validator {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 60 * time.Second
	}
	return &Validator{keys: keys, cfg: cfg}
}

// ValidateSignature verifies u's signature against the allowlisted
// algorithms and a JWKS-resolved key matching its kid and header alg (spec
// §4.7 phase 2). The key resolved for kid must pass checkKeyStrength, and
// golang-jwt's verifier for the header's alg rejects a key whose Go type
// does not belong to that alg family, so an RSA key cannot verify an ES*
// token or the reverse.
func (val *Validator) ValidateSignature(ctx context.Context, u *Unvalidated) (*SignatureValidated, error) {
	alg := u.Algorithm()
	if isNoneAlgorithm(alg) {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "alg \"none\" is never accepted")
	}
	if !isAllowedAlgorithm(alg) {
		return nil, apperrors.New(apperrors.KindTokenInvalid, fmt.Sprintf("algorithm %q is not allowlisted", alg))
	}

	var resolveErr error
	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := val.keys.GetKey(ctx, kid)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		if err := checkKeyStrength(key); err != nil {
			resolveErr = err
			return nil, err
		}
		return key, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods(AllowedAlgorithms), jwt.WithoutClaimsValidation())
	token, err := parser.Parse(u.raw, keyFunc)
	if err != nil || !token.Valid {
		if resolveErr != nil {
			return nil, apperrors.Wrap(apperrors.KindKeyNotFound, "could not resolve a verification key", resolveErr)
		}
		return nil, apperrors.Wrap(apperrors.KindTokenInvalid, "signature verification failed", err)
	}

	claims, err := mapClaimsToDomain(token.Claims.(jwt.MapClaims))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "token claims are not well-formed", err)
	}

	return &SignatureValidated{claims: claims, algorithm: alg}, nil
}

// checkKeyStrength enforces spec §4.7's minimum key strength: RSA >= 2048
// bits, EC in {P-256, P-384, P-521}.
func checkKeyStrength(key any) error {
	switch k := key.(type) {
	case *rsa.PublicKey:
		if k.N.BitLen() < 2048 {
			return apperrors.New(apperrors.KindTokenInvalid, "RSA key is weaker than the minimum 2048 bits")
		}
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256(), elliptic.P384(), elliptic.P521():
		default:
			return apperrors.New(apperrors.KindTokenInvalid, "EC key curve is not one of P-256/P-384/P-521")
		}
	}
	return nil
}

// Validate performs phase 3 (spec §4.7): exp/nbf/clock-skew and required
// claims. It does not look at the cnf claim; pairing a DPoP-bound token
// with its proof is internal/dpop's job once this phase succeeds.
// Validate checks claims against the configured clock skew and required
// claims. extraRequired names additional claims a particular caller needs
// beyond the statically configured set (spec §4.12 ValidateToken's
// per-call required_claims); IntrospectToken-style callers pass none.
func (val *Validator) Validate(sv *SignatureValidated, now time.Time, extraRequired ...string) (*Validated, error) {
	c := sv.claims

	if err := c.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindClaimsInvalid, "claims fail structural validation", err)
	}

	skew := val.cfg.ClockSkew
	if c.ExpiresAtTime().Add(skew).Before(now) {
		return nil, apperrors.New(apperrors.KindTokenExpired, "token has expired")
	}
	if c.NotBefore != 0 && time.Unix(c.NotBefore, 0).UTC().After(now.Add(skew)) {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "token is not yet valid")
	}

	for _, required := range val.cfg.RequiredClaims {
		if !claimPresent(c, required) {
			return nil, apperrors.New(apperrors.KindClaimsInvalid, fmt.Sprintf("required claim %q is missing or empty", required))
		}
	}
	for _, required := range extraRequired {
		if !claimPresent(c, required) {
			return nil, apperrors.New(apperrors.KindClaimsInvalid, fmt.Sprintf("required claim %q is missing or empty", required))
		}
	}

	return &Validated{claims: c}, nil
}

func claimPresent(c domain.Claims, name string) bool {
	switch name {
	case "iss":
		return c.Issuer != ""
	case "sub":
		return c.Subject != ""
	case "jti":
		return c.ID != ""
	case "aud":
		return len(c.Audience) > 0
	case "scopes":
		return len(c.Scopes) > 0
	case "session_id":
		return c.SessionID != ""
	default:
		v, ok := c.Extra[name]
		return ok && v != ""
	}
}
