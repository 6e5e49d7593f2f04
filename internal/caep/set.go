package caep

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/domain"
)

// Event is a single security event destined for one or more streams (spec
// §4.13 "SET builder"): a CAEP event-type URI paired with its
// event-specific payload.
type Event struct {
	Type    string
	Payload map[string]any
}

// FromEvent wraps a single event as a SET (spec §4.13: "from_event(event,
// issuer, audience)").
func FromEvent(event Event, issuer string, audience []string, now time.Time) domain.SET {
	return domain.SET{
		Issuer:   issuer,
		IssuedAt: now.Unix(),
		ID:       uuid.NewString(),
		Audience: audience,
		Events:   map[string]map[string]any{event.Type: event.Payload},
	}
}

// BuildCombined packs multiple events into a single SET (spec §4.13:
// "build_combined(events)").
func BuildCombined(events []Event, issuer string, audience []string, now time.Time) domain.SET {
	combined := make(map[string]map[string]any, len(events))
	for _, e := range events {
		combined[e.Type] = e.Payload
	}
	return domain.SET{
		Issuer:   issuer,
		IssuedAt: now.Unix(),
		ID:       uuid.NewString(),
		Audience: audience,
		Events:   combined,
	}
}

// Signer signs SETs, defaulting to ES256 with its own key pair (spec
// §4.13: "signing defaults to ES256; other algorithms accepted only
// through sign_with_algorithm"). Grounded on internal/token.Publisher's
// ECDSA key-material shape, generalized to a single stable key rather than
// a rotating current/previous pair since a transmitter signs with one
// identity for its lifetime.
type Signer struct {
	key *ecdsa.PrivateKey
	kid string
}

// NewSigner generates a fresh P-256 signing key.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSETInvalid, "could not generate SET signing key", err)
	}
	return &Signer{key: key, kid: uuid.NewString()}, nil
}

// PublicKey returns the signer's public key, for publishing to a JWKS a
// receiver can resolve kid against.
func (s *Signer) PublicKey() *ecdsa.PublicKey { return &s.key.PublicKey }

// KeyID returns the kid this signer stamps into every SET it signs.
func (s *Signer) KeyID() string { return s.kid }

// Sign signs set with the default ES256 algorithm and the signer's own key.
func (s *Signer) Sign(set domain.SET) (string, error) {
	return s.sign(set, jwt.SigningMethodES256, s.key, s.kid)
}

// SignWithAlgorithm signs set with an explicitly chosen algorithm and key,
// overriding the ES256 default (spec §4.13 "sign_with_algorithm"). key must
// be a type golang-jwt's method accepts for signing (e.g. *ecdsa.PrivateKey
// for ES*, *rsa.PrivateKey for RS*/PS*).
func (s *Signer) SignWithAlgorithm(set domain.SET, alg string, key crypto.Signer, kid string) (string, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", apperrors.New(apperrors.KindSETInvalid, "unsupported signing algorithm: "+alg)
	}
	return s.sign(set, method, key, kid)
}

func (s *Signer) sign(set domain.SET, method jwt.SigningMethod, key any, kid string) (string, error) {
	claims := jwt.MapClaims{
		"iss":    set.Issuer,
		"iat":    set.IssuedAt,
		"jti":    set.ID,
		"aud":    set.Audience,
		"events": set.Events,
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["typ"] = "secevent+jwt"
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindSETInvalid, "SET signing failed", err)
	}
	return signed, nil
}
