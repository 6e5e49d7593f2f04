// Package edge implements the Edge Validator Façade (spec §4.12): token
// validation and introspection for resource-server edges, and SPIFFE
// service-identity extraction for mTLS peers.
package edge

import (
	"context"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/ctxutil"
	"github.com/lattice-id/identity-core/internal/domain"
	identjwt "github.com/lattice-id/identity-core/internal/jwt"
	"github.com/lattice-id/identity-core/internal/ratelimit"
	"github.com/lattice-id/identity-core/internal/spiffeid"
)

// ValidationResult is the outcome of ValidateToken/IntrospectToken (spec
// §4.12).
type ValidationResult struct {
	Valid        bool
	Active       bool
	Subject      string
	ClaimsMap    map[string]string
	ErrorCode    string
	ErrorMessage string
}

// ServiceIdentity is the outcome of GetServiceIdentity (spec §4.12).
type ServiceIdentity struct {
	SpiffeID    string
	ServiceName string
	Valid       bool
}

// Validator is the Edge Validator façade: it wraps internal/jwt's validator,
// a SPIFFE trust-domain allowlist, an error sanitizer and an optional rate
// limiter.
type Validator struct {
	validator *identjwt.Validator
	allowlist spiffeid.Allowlist
	sanitizer apperrors.Sanitizer
	limiter   *ratelimit.Limiter
}

// Option configures optional Validator behavior.
type Option func(*Validator)

// WithRateLimiter attaches a per-client rate limiter that gates every call
// into validate() before the token's signature is even checked, keyed by
// the token's unverified subject claim (spec §2: edges sit in the request
// hot path alongside the same per-client throttling the rest of the
// system applies).
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(v *Validator) { v.limiter = limiter }
}

// New constructs a Validator wrapping jwtValidator for token checks and
// allowlist for SPIFFE trust-domain enforcement.
func New(jwtValidator *identjwt.Validator, allowlist spiffeid.Allowlist, opts ...Option) *Validator {
	v := &Validator{validator: jwtValidator, allowlist: allowlist, sanitizer: apperrors.NewSanitizer()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateToken runs the type-state validator end to end and enforces
// requiredClaims on top of whatever the validator was already configured
// with (spec §4.12 ValidateToken's per-call required_claims). On failure
// the returned ErrorMessage is sanitized and carries the error's
// correlation id, if any.
func (v *Validator) ValidateToken(ctx context.Context, token string, requiredClaims []string, correlationID string) ValidationResult {
	claims, err := v.validate(ctx, token, requiredClaims...)
	if err != nil {
		return v.failureResult(ctx, err, correlationID)
	}
	return ValidationResult{Valid: true, Subject: claims.Subject, ClaimsMap: claimsMap(claims)}
}

// IntrospectToken validates token without enforcing any required claims
// beyond the validator's static configuration, and reports RFC 7662-style
// active/inactive status (spec §4.12 IntrospectToken).
func (v *Validator) IntrospectToken(ctx context.Context, token string, correlationID string) ValidationResult {
	claims, err := v.validate(ctx, token)
	if err != nil {
		if apperrors.Is(err, apperrors.KindTokenExpired) {
			return ValidationResult{Valid: true, Active: false}
		}
		return v.failureResult(ctx, err, correlationID)
	}
	return ValidationResult{Valid: true, Active: true, Subject: claims.Subject, ClaimsMap: claimsMap(claims)}
}

func (v *Validator) validate(ctx context.Context, token string, requiredClaims ...string) (domain.Claims, error) {
	unvalidated, err := identjwt.Parse(token)
	if err != nil {
		return domain.Claims{}, err
	}
	if err := v.checkRateLimit(ctx, unvalidated); err != nil {
		return domain.Claims{}, err
	}
	sv, err := v.validator.ValidateSignature(ctx, unvalidated)
	if err != nil {
		return domain.Claims{}, err
	}
	validated, err := v.validator.Validate(sv, time.Now(), requiredClaims...)
	if err != nil {
		return domain.Claims{}, err
	}
	return validated.Claims(), nil
}

// checkRateLimit throttles by the token's unverified subject claim, ahead
// of signature verification: a denied or replayed caller is rejected
// before the validator does any cryptographic work on their behalf.
func (v *Validator) checkRateLimit(ctx context.Context, unvalidated *identjwt.Unvalidated) error {
	if v.limiter == nil {
		return nil
	}
	clientID := unvalidated.PeekClaims().Subject
	decision, err := v.limiter.Check(ctx, clientID, time.Now())
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apperrors.WithRetryAfter(
			apperrors.New(apperrors.KindRateLimited, "edge validator rate limit exceeded"),
			decision.RetryAfter)
	}
	return nil
}

// failureResult sanitizes err and stamps it with a correlation id: the
// explicit per-call correlationID takes precedence, falling back to
// whatever id ctxutil finds on ctx (spec §6: "all return a correlation id
// in error status messages").
func (v *Validator) failureResult(ctx context.Context, err error, correlationID string) ValidationResult {
	if correlationID == "" {
		correlationID = ctxutil.CorrelationIDFromContext(ctx)
	}
	kind, _ := apperrors.KindOf(err)
	message := v.sanitizer.Sanitize(err.Error())
	if correlationID != "" {
		message = message + " [" + correlationID + "]"
	}
	return ValidationResult{Valid: false, ErrorCode: string(kind), ErrorMessage: message}
}

// claimsMap flattens the claims a resource server typically needs into a
// string map (spec §4.12's "claims_map").
func claimsMap(c domain.Claims) map[string]string {
	m := map[string]string{
		"sub":        c.Subject,
		"iss":        c.Issuer,
		"jti":        c.ID,
		"session_id": c.SessionID,
	}
	for k, val := range c.Extra {
		m[k] = val
	}
	return m
}

// GetServiceIdentity parses a SPIFFE URI out of certPEM's SAN list and
// checks it against the configured trust-domain allowlist (spec §4.12
// GetServiceIdentity).
func (v *Validator) GetServiceIdentity(certPEM []byte) (ServiceIdentity, error) {
	id, err := spiffeid.FromCertificatePEM(certPEM)
	if err != nil {
		return ServiceIdentity{}, err
	}
	return ServiceIdentity{
		SpiffeID:    id.String(),
		ServiceName: id.ServiceName(),
		Valid:       v.allowlist.Allows(id),
	}, nil
}
