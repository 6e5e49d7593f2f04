package caep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/domain"
	identjwt "github.com/lattice-id/identity-core/internal/jwt"
	"github.com/lattice-id/identity-core/internal/observability"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// KeyProvider resolves a decoding key by kid. internal/jwks.Cache and
// internal/token.Publisher both satisfy this.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (any, error)
}

// Subject is a parsed RFC 9493 subject identifier (spec §4.13 step 5).
// Only the formats this platform's events actually carry are supported;
// anything else is rejected rather than silently passed through.
type Subject struct {
	Format string
	ID     string
}

var supportedSubjectFormats = map[string]bool{
	"opaque":     true,
	"email":      true,
	"iss_sub":    true,
	"phone_number": true,
}

// parseSubject extracts a Subject from an event payload's "subject" field
// (spec §4.13 step 5: "if subject format unsupported -> invalid-SET").
func parseSubject(payload map[string]any) (Subject, error) {
	raw, ok := payload["subject"].(map[string]any)
	if !ok {
		return Subject{}, apperrors.New(apperrors.KindSubjectInvalid, "event payload carries no subject identifier")
	}
	format, _ := raw["format"].(string)
	if !supportedSubjectFormats[format] {
		return Subject{}, apperrors.New(apperrors.KindSubjectInvalid, fmt.Sprintf("unsupported subject format %q", format))
	}

	switch format {
	case "email":
		id, _ := raw["email"].(string)
		return Subject{Format: format, ID: id}, subjectErrIfEmpty(format, id)
	case "phone_number":
		id, _ := raw["phone_number"].(string)
		return Subject{Format: format, ID: id}, subjectErrIfEmpty(format, id)
	case "iss_sub":
		iss, _ := raw["iss"].(string)
		sub, _ := raw["sub"].(string)
		if iss == "" || sub == "" {
			return Subject{}, apperrors.New(apperrors.KindSubjectInvalid, "iss_sub subject requires both iss and sub")
		}
		return Subject{Format: format, ID: iss + "|" + sub}, nil
	default: // opaque
		id, _ := raw["id"].(string)
		return Subject{Format: format, ID: id}, subjectErrIfEmpty(format, id)
	}
}

func subjectErrIfEmpty(format, id string) error {
	if id == "" {
		return apperrors.New(apperrors.KindSubjectInvalid, fmt.Sprintf("%s subject is missing its identifier field", format))
	}
	return nil
}

// Handler processes one dispatched event. Returning an error triggers the
// receiver's retry policy (spec §4.13 step 6, spec §4.2).
type Handler func(ctx context.Context, eventType string, subject Subject, payload map[string]any) error

// ProcessResult is the outcome of ProcessSET (spec §4.13 step 6).
type ProcessResult struct {
	EventID        string
	EventType      string
	Processed      bool
	ProcessingTime time.Duration
}

// Receiver validates and dispatches incoming SETs (spec §4.13 "Receiver").
type Receiver struct {
	keys             KeyProvider
	expectedIssuer   string
	expectedAudience string

	retrier *resilience.Retrier
	metrics *Metrics
	logger  observability.Logger

	handlers map[string][]Handler
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverRetrier overrides the retry policy guarding handler dispatch.
func WithReceiverRetrier(r *resilience.Retrier) ReceiverOption {
	return func(rc *Receiver) { rc.retrier = r }
}

// WithReceiverMetrics attaches Prometheus metrics.
func WithReceiverMetrics(m *Metrics) ReceiverOption { return func(rc *Receiver) { rc.metrics = m } }

// WithReceiverLogger attaches a logger.
func WithReceiverLogger(l observability.Logger) ReceiverOption {
	return func(rc *Receiver) {
		if l != nil {
			rc.logger = l
		}
	}
}

// NewReceiver constructs a Receiver that only accepts SETs issued by
// expectedIssuer and addressed to expectedAudience, resolving verification
// keys through keys.
func NewReceiver(keys KeyProvider, expectedIssuer, expectedAudience string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		keys:             keys,
		expectedIssuer:   expectedIssuer,
		expectedAudience: expectedAudience,
		logger:           observability.NewNopLoggerInterface(),
		handlers:         make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHandler adds h to the handlers dispatched for eventType.
func (r *Receiver) RegisterHandler(eventType string, h Handler) {
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// ProcessSET runs the six-step validation and dispatch pipeline (spec
// §4.13 "process_set(jwt)").
func (r *Receiver) ProcessSET(ctx context.Context, token string) (ProcessResult, error) {
	start := time.Now()

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		r.metrics.recordReceived("unknown", "malformed")
		return ProcessResult{}, apperrors.Wrap(apperrors.KindSETInvalid, "SET is not well-formed", err)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		r.metrics.recordReceived("unknown", "missing-kid")
		return ProcessResult{}, apperrors.New(apperrors.KindSETInvalid, "SET header carries no kid")
	}
	alg, _ := unverified.Header["alg"].(string)
	if !isAllowedSETAlgorithm(alg) {
		r.metrics.recordReceived("unknown", "alg-not-allowed")
		return ProcessResult{}, apperrors.New(apperrors.KindSETInvalid, fmt.Sprintf("algorithm %q is not allowlisted", alg))
	}

	var resolveErr error
	keyFunc := func(t *jwt.Token) (any, error) {
		key, err := r.keys.GetKey(ctx, kid)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		return key, nil
	}
	verified, err := jwt.NewParser(jwt.WithValidMethods([]string{alg}), jwt.WithoutClaimsValidation()).Parse(token, keyFunc)
	if err != nil || !verified.Valid {
		r.metrics.recordReceived("unknown", "signature-invalid")
		if resolveErr != nil {
			r.logger.Warn("could not resolve SET verification key", observability.String("kid", kid), observability.Err(resolveErr))
			return ProcessResult{}, apperrors.Wrap(apperrors.KindKeyNotFound, "could not resolve a verification key for SET", resolveErr)
		}
		return ProcessResult{}, apperrors.Wrap(apperrors.KindSETInvalid, "SET signature verification failed", err)
	}

	claims := verified.Claims.(jwt.MapClaims)
	issuer, _ := claims["iss"].(string)
	if issuer != r.expectedIssuer {
		r.metrics.recordReceived("unknown", "issuer-mismatch")
		return ProcessResult{}, apperrors.New(apperrors.KindSETInvalid, "SET issuer does not match the expected transmitter")
	}
	if !audienceContains(claims["aud"], r.expectedAudience) {
		r.metrics.recordReceived("unknown", "audience-mismatch")
		return ProcessResult{}, apperrors.New(apperrors.KindSETInvalid, "SET audience does not include this receiver")
	}

	jti, _ := claims["jti"].(string)
	events, _ := claims["events"].(map[string]any)
	eventType, payload, err := firstEvent(events)
	if err != nil {
		r.metrics.recordReceived("unknown", "unknown-event-type")
		return ProcessResult{}, err
	}

	subject, err := parseSubject(payload)
	if err != nil {
		r.metrics.recordReceived(eventType, "subject-invalid")
		return ProcessResult{}, err
	}

	processed := false
	for _, h := range r.handlers[eventType] {
		dispatch := func(ctx context.Context) error { return h(ctx, eventType, subject, payload) }
		run := dispatch
		if r.retrier != nil {
			run = func(ctx context.Context) error { return r.retrier.Do(ctx, dispatch) }
		}
		if err := run(ctx); err != nil {
			r.metrics.recordReceived(eventType, "handler-failed")
			return ProcessResult{EventID: jti, EventType: eventType}, apperrors.Wrap(apperrors.KindUnavailable, "event handler failed", err)
		}
		processed = true
	}

	r.metrics.recordReceived(eventType, "processed")
	return ProcessResult{
		EventID:        jti,
		EventType:      eventType,
		Processed:      processed,
		ProcessingTime: time.Since(start),
	}, nil
}

func isAllowedSETAlgorithm(alg string) bool {
	for _, a := range identjwt.AllowedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// firstEvent maps the lexicographically first event URI in events to its
// payload, rejecting anything outside the CAEP namespace (spec §4.13 step
// 4). Map iteration order is unspecified, so the URIs are sorted first:
// with more than one event in a SET, picking one deterministically matters
// for reproducible rejection/audit behavior across identical inputs.
func firstEvent(events map[string]any) (string, map[string]any, error) {
	if len(events) == 0 {
		return "", nil, apperrors.New(apperrors.KindSETInvalid, "SET carries no events")
	}
	uris := make([]string, 0, len(events))
	for uri := range events {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	uri := uris[0]
	if !strings.HasPrefix(uri, domain.CAEPEventURIPrefix) {
		return "", nil, apperrors.New(apperrors.KindUnknownEventType, fmt.Sprintf("event type %q is not a recognized CAEP event", uri))
	}
	p, _ := events[uri].(map[string]any)
	return uri, p, nil
}

func audienceContains(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}
