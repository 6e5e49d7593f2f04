package caep

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
	"github.com/lattice-id/identity-core/internal/infra/wrapper"
	"github.com/lattice-id/identity-core/internal/observability"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// secEventContentType is the RFC 8417 transport content type for a pushed
// SET (spec §4.13).
const secEventContentType = "application/secevent+jwt"

// HTTPDoer is the narrow surface Transmitter needs from an HTTP client for
// push delivery.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeliveryResult is the outcome of one stream's delivery attempt for a
// single Emit call.
type DeliveryResult struct {
	StreamID  string
	Delivered bool
	Err       error
	Latency   time.Duration
}

// Transmitter delivers signed SETs to registered streams by push or poll
// (spec §4.13 "Transmitter"). Grounded on internal/jwks.Cache's
// mutex-guarded-map-plus-circuit-breaker-plus-retrier shape, generalized
// from a single cached document to a registry of independently-tracked
// streams.
type Transmitter struct {
	issuer string
	signer *Signer

	client  HTTPDoer
	breaker *resilience.CircuitBreaker
	retrier *resilience.Retrier
	metrics *Metrics
	logger  observability.Logger

	mu         sync.Mutex
	streams    map[string]*domain.Stream
	pollQueues map[string][]string
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithHTTPClient overrides the push-delivery HTTP client.
func WithHTTPClient(c HTTPDoer) Option { return func(t *Transmitter) { t.client = c } }

// WithBreaker overrides the circuit breaker guarding push delivery.
func WithBreaker(cb *resilience.CircuitBreaker) Option { return func(t *Transmitter) { t.breaker = cb } }

// WithRetrier overrides the retry policy guarding push delivery.
func WithRetrier(r *resilience.Retrier) Option { return func(t *Transmitter) { t.retrier = r } }

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(t *Transmitter) { t.metrics = m } }

// WithLogger attaches a logger.
func WithLogger(l observability.Logger) Option {
	return func(t *Transmitter) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransmitter constructs a Transmitter that signs as issuer using signer.
func NewTransmitter(issuer string, signer *Signer, opts ...Option) *Transmitter {
	t := &Transmitter{
		issuer: issuer,
		signer: signer,
		client: http.DefaultClient,
		breaker: resilience.NewCircuitBreaker("caep-transmitter", config.CircuitBreakerConfig{
			FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxInflight: 1,
		}),
		logger:     observability.NewNopLoggerInterface(),
		streams:    make(map[string]*domain.Stream),
		pollQueues: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterStream registers cfg and returns the new stream's id (spec §4.13
// "register_stream(config) -> stream_id").
func (t *Transmitter) RegisterStream(cfg domain.StreamConfig) (string, error) {
	if cfg.Delivery == domain.StreamDeliveryPush && cfg.EndpointURL == "" {
		return "", apperrors.New(apperrors.KindInvalidConfig, "push delivery requires an endpoint_url")
	}
	if len(cfg.EventsRequested) == 0 {
		return "", apperrors.New(apperrors.KindInvalidConfig, "events_requested must not be empty")
	}

	now := time.Now().UTC()
	stream := &domain.Stream{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    domain.StreamStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.streams[stream.ID] = stream
	t.mu.Unlock()

	t.metrics.setStreamStatus(stream.ID, string(stream.Status))
	return stream.ID, nil
}

// Stream returns a snapshot of the registered stream, for inspection.
func (t *Transmitter) Stream(streamID string) (domain.Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[streamID]
	if !ok {
		return domain.Stream{}, false
	}
	return *s, true
}

// PauseStream, ResumeStream, DisableStream drive the stream state machine
// (spec §4.13 "active -> paused -> active", "active -> disabled").
func (t *Transmitter) PauseStream(streamID string) error {
	return t.transition(streamID, func(s *domain.Stream) { s.Pause(time.Now().UTC()) })
}

func (t *Transmitter) ResumeStream(streamID string) error {
	return t.transition(streamID, func(s *domain.Stream) { s.Resume(time.Now().UTC()) })
}

func (t *Transmitter) DisableStream(streamID string) error {
	return t.transition(streamID, func(s *domain.Stream) { s.Disable(time.Now().UTC()) })
}

func (t *Transmitter) transition(streamID string, apply func(*domain.Stream)) error {
	t.mu.Lock()
	s, ok := t.streams[streamID]
	if !ok {
		t.mu.Unlock()
		return apperrors.New(apperrors.KindInvalidConfig, "unknown stream id")
	}
	apply(s)
	status := string(s.Status)
	t.mu.Unlock()

	t.metrics.setStreamStatus(streamID, status)
	return nil
}

// Emit selects every active stream requesting event's type, builds and
// signs a per-stream SET, and delivers it (spec §4.13 "emit(event)"). Each
// stream's health is updated under the transmitter's lock with its own
// delivery outcome. Streams are delivered one after another in the calling
// goroutine, so a slow push endpoint delays the deliveries that follow it.
func (t *Transmitter) Emit(ctx context.Context, event Event) []DeliveryResult {
	candidates := t.activeStreamsFor(event.Type)
	results := make([]DeliveryResult, 0, len(candidates))
	for _, stream := range candidates {
		results = append(results, t.deliverToStream(ctx, stream, event))
	}
	return results
}

func (t *Transmitter) activeStreamsFor(eventType string) []domain.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Stream
	for _, s := range t.streams {
		if s.Status != domain.StreamStatusActive {
			continue
		}
		for _, requested := range s.Config.EventsRequested {
			if requested == eventType {
				out = append(out, *s)
				break
			}
		}
	}
	return out
}

func (t *Transmitter) deliverToStream(ctx context.Context, stream domain.Stream, event Event) DeliveryResult {
	set := FromEvent(event, t.issuer, []string{stream.Config.Audience}, time.Now().UTC())
	signed, err := t.signer.Sign(set)
	if err != nil {
		t.recordOutcome(stream.ID, false, err.Error())
		t.metrics.recordDelivery(stream.ID, string(stream.Config.Delivery), "sign-failed")
		return DeliveryResult{StreamID: stream.ID, Err: err}
	}

	start := time.Now()
	var deliverErr error
	switch stream.Config.Delivery {
	case domain.StreamDeliveryPoll:
		t.enqueuePoll(stream.ID, signed)
	default:
		deliverErr = t.push(ctx, stream.Config.EndpointURL, signed)
	}
	latency := time.Since(start)

	if deliverErr != nil {
		t.logger.Warn("SET delivery failed", observability.String("stream_id", stream.ID), observability.Err(deliverErr))
	}
	t.recordOutcome(stream.ID, deliverErr == nil, errString(deliverErr))
	outcome := "delivered"
	if deliverErr != nil {
		outcome = "failed"
	}
	t.metrics.recordDelivery(stream.ID, string(stream.Config.Delivery), outcome)
	t.metrics.observeDeliveryLatency(stream.ID, latency.Seconds())

	return DeliveryResult{StreamID: stream.ID, Delivered: deliverErr == nil, Err: deliverErr, Latency: latency}
}

func (t *Transmitter) push(ctx context.Context, endpoint, signed string) error {
	do := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(signed))
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransport, "could not build delivery request", err)
		}
		req.Header.Set("Content-Type", secEventContentType)

		resp, err := wrapper.DoRequestWithClient(ctx, t.client, req)
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransport, "delivery request failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperrors.New(apperrors.KindTransport, "delivery endpoint returned a non-2xx status")
		}
		return nil
	}

	run := do
	if t.retrier != nil {
		run = func(ctx context.Context) error { return t.retrier.Do(ctx, do) }
	}
	if err := t.breaker.Execute(ctx, run); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "SET delivery failed", err)
	}
	return nil
}

func (t *Transmitter) enqueuePoll(streamID, signed string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pollQueues[streamID] = append(t.pollQueues[streamID], signed)
}

// Poll drains and returns every SET queued for streamID since the last
// poll (spec §4.13 "poll delivery stores the SET for later fetch").
func (t *Transmitter) Poll(streamID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.pollQueues[streamID]
	delete(t.pollQueues, streamID)
	return pending
}

func (t *Transmitter) recordOutcome(streamID string, success bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[streamID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if success {
		s.RecordDelivery(now, 0)
	} else {
		s.RecordFailure(now, errMsg)
	}
}

// EmitSessionRevoked satisfies internal/refresh.EventEmitter: the rotator
// calls this on refresh-token replay detection so every stream
// subscribed to session-revoked learns about it without the refresh
// package importing caep directly (spec §4.9 step 5, §4.13).
func (t *Transmitter) EmitSessionRevoked(ctx context.Context, familyID, userID, reason string) error {
	event := Event{
		Type: domain.EventTypeSessionRevoked,
		Payload: map[string]any{
			"subject": map[string]any{"format": "opaque", "id": userID},
			"reason":  reason,
			"session": map[string]any{"family_id": familyID},
		},
	}
	for _, result := range t.Emit(ctx, event) {
		if result.Err != nil {
			t.logger.Warn("session-revoked delivery failed", observability.String("stream_id", result.StreamID), observability.Err(result.Err))
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
