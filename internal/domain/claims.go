package domain

import (
	"errors"
	"time"
)

// Confirmation carries DPoP (RFC 9449) token-binding material embedded in a
// JWT's "cnf" claim.
type Confirmation struct {
	// JKT is the base64url SHA-256 RFC 7638 thumbprint of the JWK the token
	// is bound to.
	JKT string `json:"jkt"`
}

// Claims is the full set of standard JWT, OIDC, and DPoP-extension claims
// this platform issues and validates (spec §3 "Claims").
type Claims struct {
	Issuer    string   `json:"iss"`
	Subject   string   `json:"sub"`
	Audience  []string `json:"aud,omitempty"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf,omitempty"`
	ID        string   `json:"jti"`

	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	ACR      string `json:"acr,omitempty"`
	AMR      []string `json:"amr,omitempty"`
	AZP      string `json:"azp,omitempty"`

	Confirmation *Confirmation `json:"cnf,omitempty"`

	SessionID string   `json:"session_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`

	Extra map[string]string `json:"ext,omitempty"`
}

// ErrInvalidClaims is returned by Validate when a structural invariant from
// spec §3 is violated.
var ErrInvalidClaims = errors.New("claims: invariant violation")

// Validate checks the structural invariants from spec §3: exp > iat, and
// nbf <= iat when present. jti uniqueness and cnf/DPoP pairing are
// cross-cutting checks enforced by the stores/validators that hold more
// context than a single Claims value, not here.
func (c Claims) Validate() error {
	if c.ExpiresAt <= c.IssuedAt {
		return errors.Join(ErrInvalidClaims, errors.New("exp must be greater than iat"))
	}
	if c.NotBefore != 0 && c.NotBefore > c.IssuedAt {
		return errors.Join(ErrInvalidClaims, errors.New("nbf must not be after iat"))
	}
	return nil
}

// IsDPoPBound reports whether the claims carry a DPoP confirmation and thus
// must only be accepted alongside a matching DPoP proof.
func (c Claims) IsDPoPBound() bool {
	return c.Confirmation != nil && c.Confirmation.JKT != ""
}

// ExpiresAtTime returns ExpiresAt as a time.Time in UTC.
func (c Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// IssuedAtTime returns IssuedAt as a time.Time in UTC.
func (c Claims) IssuedAtTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}
