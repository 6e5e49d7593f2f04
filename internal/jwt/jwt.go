// Package jwt implements the JWT type-state validator (spec §4.7): an
// Unvalidated token only admits peeking at its header/claims, a
// SignatureValidated token proves the signature checked out against an
// allowlisted algorithm, and only a Validated token may have its claims
// read by business logic.
package jwt

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/domain"
)

// AllowedAlgorithms is the fixed algorithm allowlist (spec §4.7). "none" in
// any casing is never in this list and is therefore always rejected.
var AllowedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"PS256", "PS384", "PS512",
}

// Unvalidated wraps a parsed-but-untrusted token: its header and claims are
// available to peek at, but must not be acted upon until the token has been
// signature-validated and then fully validated.
type Unvalidated struct {
	raw    string
	header map[string]any
	claims domain.Claims
}

// Parse decodes raw's header and payload without verifying its signature.
func Parse(raw string) (*Unvalidated, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "token is not well-formed", err)
	}

	claims, err := mapClaimsToDomain(token.Claims.(jwt.MapClaims))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTokenMalformed, "token claims are not well-formed", err)
	}

	return &Unvalidated{raw: raw, header: token.Header, claims: claims}, nil
}

// Kid returns the token header's key id, if present.
func (u *Unvalidated) Kid() (string, bool) {
	kid, ok := u.header["kid"].(string)
	return kid, ok
}

// Algorithm returns the token header's algorithm, unverified.
func (u *Unvalidated) Algorithm() string {
	alg, _ := u.header["alg"].(string)
	return alg
}

// PeekClaims returns the unverified claims. Callers must not treat these as
// trustworthy; they exist for logging and routing decisions only.
func (u *Unvalidated) PeekClaims() domain.Claims {
	return u.claims
}

func isNoneAlgorithm(alg string) bool {
	return strings.EqualFold(alg, "none")
}

func isAllowedAlgorithm(alg string) bool {
	for _, a := range AllowedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// mapClaimsToDomain extracts domain.Claims from a jwt.MapClaims directly,
// rather than round-tripping through encoding/json: jwt/v5 decodes numeric
// claims (exp, iat, nbf, auth_time) as float64, and JSON's integer decoder
// rejects a float64-formatted literal like "1.7e+09" when the destination
// field is an int64, so the conversion has to go through float64 explicitly.
func mapClaimsToDomain(mc jwt.MapClaims) (domain.Claims, error) {
	var claims domain.Claims

	claims.Issuer = asString(mc["iss"])
	claims.Subject = asString(mc["sub"])
	claims.Audience = asStringSlice(mc["aud"])
	claims.ExpiresAt = asInt64(mc["exp"])
	claims.IssuedAt = asInt64(mc["iat"])
	claims.NotBefore = asInt64(mc["nbf"])
	claims.ID = asString(mc["jti"])

	claims.Nonce = asString(mc["nonce"])
	claims.AuthTime = asInt64(mc["auth_time"])
	claims.ACR = asString(mc["acr"])
	claims.AMR = asStringSlice(mc["amr"])
	claims.AZP = asString(mc["azp"])

	claims.SessionID = asString(mc["session_id"])
	claims.Scopes = asStringSlice(mc["scopes"])

	if cnf, ok := mc["cnf"].(map[string]any); ok {
		if jkt := asString(cnf["jkt"]); jkt != "" {
			claims.Confirmation = &domain.Confirmation{JKT: jkt}
		}
	}

	if ext, ok := mc["ext"].(map[string]any); ok {
		claims.Extra = make(map[string]string, len(ext))
		for k, v := range ext {
			claims.Extra[k] = asString(v)
		}
	}

	return claims, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch vals := v.(type) {
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vals}
	default:
		return nil
	}
}
