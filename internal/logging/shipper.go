// Package logging implements the batched log shipper (spec §6 "Structured
// logs"): it buffers structured records locally and flushes them to a
// remote log endpoint in batches, guarded by a circuit breaker, falling
// back to the local logger whenever that endpoint is unreachable. Grounded
// on internal/caep.Transmitter's breaker-wrapped-delivery shape; the flush
// loop is a background goroutine driven by a ticker and stopped through
// stop/done channels.
package logging

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/ctxutil"
	"github.com/lattice-id/identity-core/internal/observability"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// Record is one structured log entry, matching the wire schema the remote
// log endpoint expects (spec §6 "Structured logs": timestamp, level,
// service_id, message, correlation_id?, trace_id?, span_id?, metadata).
type Record struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         string         `json:"level"`
	ServiceID     string         `json:"service_id"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	SpanID        string         `json:"span_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Sink delivers one flushed batch of records to a remote log endpoint.
type Sink interface {
	Ship(ctx context.Context, batch []Record) error
}

// Shipper buffers Records and flushes them in batches of cfg.BatchSize or
// every cfg.FlushInterval, whichever comes first. A flush that fails (no
// sink configured, breaker open, or the sink call itself erroring) writes
// the batch straight to the local logger instead, so a record is never
// silently dropped.
type Shipper struct {
	cfg       config.LogConfig
	serviceID string
	sink      Sink
	breaker   *resilience.CircuitBreaker
	local     observability.Logger
	metrics   *Metrics

	mu  sync.Mutex
	buf []Record

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Shipper.
type Option func(*Shipper)

// WithBreaker overrides the circuit breaker guarding sink delivery.
func WithBreaker(cb *resilience.CircuitBreaker) Option { return func(s *Shipper) { s.breaker = cb } }

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(s *Shipper) { s.metrics = m } }

// New constructs a Shipper that batches records per cfg and, when sink is
// non-nil, delivers them to it. The background flush loop starts
// immediately; callers must call Close to stop it and flush any remainder.
func New(cfg config.LogConfig, serviceID string, sink Sink, local observability.Logger, opts ...Option) *Shipper {
	if local == nil {
		local = observability.NewNopLoggerInterface()
	}
	s := &Shipper{
		cfg:       cfg,
		serviceID: serviceID,
		sink:      sink,
		local:     local,
		breaker: resilience.NewCircuitBreaker("log-shipper", config.CircuitBreakerConfig{
			FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxInflight: 1,
		}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Record buffers one structured log entry, stamping it with serviceID and
// whatever correlation/trace/span id ctxutil finds on ctx, and flushes
// immediately once the buffer reaches cfg.BatchSize.
func (s *Shipper) Record(ctx context.Context, level, message string, metadata map[string]any) {
	rec := Record{
		Timestamp:     time.Now().UTC(),
		Level:         level,
		ServiceID:     s.serviceID,
		Message:       message,
		CorrelationID: ctxutil.CorrelationIDFromContext(ctx),
		TraceID:       ctxutil.TraceIDFromContext(ctx),
		SpanID:        ctxutil.SpanIDFromContext(ctx),
		Metadata:      metadata,
	}

	s.mu.Lock()
	s.buf = append(s.buf, rec)
	full := len(s.buf) >= s.cfg.BatchSize
	s.metrics.setBuffered(len(s.buf))
	s.mu.Unlock()

	if full {
		s.flush(ctx)
	}
}

func (s *Shipper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.stop:
			s.flush(context.Background())
			return
		}
	}
}

// flush swaps out the current buffer and attempts delivery through sink,
// guarded by breaker. Any failure falls back to writing every record in
// the batch to the local logger.
func (s *Shipper) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.metrics.setBuffered(0)
	s.mu.Unlock()

	if s.sink == nil {
		s.writeLocal(batch, nil)
		return
	}

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.Ship(ctx, batch)
	})
	if err != nil {
		s.metrics.recordFlush("failed", len(batch))
		s.writeLocal(batch, err)
		return
	}
	s.metrics.recordFlush("delivered", len(batch))
}

func (s *Shipper) writeLocal(batch []Record, cause error) {
	if cause != nil {
		s.local.Warn("log shipper falling back to local output",
			observability.Int("records", len(batch)),
			observability.Err(cause),
		)
	}
	for _, rec := range batch {
		fields := []observability.Field{
			observability.String("service_id", rec.ServiceID),
			observability.String("correlation_id", rec.CorrelationID),
			observability.String("trace_id", rec.TraceID),
			observability.String("span_id", rec.SpanID),
		}
		if rec.Metadata != nil {
			fields = append(fields, observability.Any("metadata", rec.Metadata))
		}
		switch rec.Level {
		case "debug":
			s.local.Debug(rec.Message, fields...)
		case "warn":
			s.local.Warn(rec.Message, fields...)
		case "error":
			s.local.Error(rec.Message, fields...)
		default:
			s.local.Info(rec.Message, fields...)
		}
	}
}

// Close stops the background flush loop and flushes any remaining buffered
// records before returning.
func (s *Shipper) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.local.Sync()
}
