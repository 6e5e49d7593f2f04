package domain

import "time"

// StreamStatus is the lifecycle state of a CAEP event stream (spec §3
// "Stream").
type StreamStatus string

const (
	StreamStatusActive   StreamStatus = "active"
	StreamStatusPaused   StreamStatus = "paused"
	StreamStatusFailed   StreamStatus = "failed"
	StreamStatusDisabled StreamStatus = "disabled"
)

// StreamDelivery is the transport a receiver has configured for a stream.
type StreamDelivery string

const (
	StreamDeliveryPush StreamDelivery = "push"
	StreamDeliveryPoll StreamDelivery = "poll"
)

// StreamConfig is the receiver-negotiated configuration of a stream.
type StreamConfig struct {
	Audience        string
	Delivery        StreamDelivery
	EndpointURL     string // set when Delivery == push
	EventsRequested []string
	Format          string
}

// autoFailThreshold and autoFailWindow implement the spec §3 rule: a stream
// auto-transitions to failed after 5 consecutive failures within 5 minutes.
const (
	autoFailThreshold = 5
	autoFailWindow    = 5 * time.Minute
)

// StreamHealth tracks delivery outcomes for a stream (spec §3, §12
// supplemented: precise consecutive-failure counter rather than the
// last_delivery_at approximation).
type StreamHealth struct {
	Delivered           int64
	Failed              int64
	ConsecutiveFailed   int
	FirstFailureInBurst *time.Time
	LastDeliveryAt      *time.Time
	LastError           string
	AvgLatency          time.Duration
	P99Latency          time.Duration
}

// SuccessRate returns delivered/(delivered+failed), with identity 1.0 when
// no deliveries have been attempted yet.
func (h StreamHealth) SuccessRate() float64 {
	total := h.Delivered + h.Failed
	if total == 0 {
		return 1.0
	}
	return float64(h.Delivered) / float64(total)
}

// Healthy reports whether the stream's success rate is above the platform
// threshold (spec §4.13: healthy iff success rate > 0.95).
func (h StreamHealth) Healthy() bool {
	return h.SuccessRate() > 0.95
}

// Stream is a receiver's subscription to CAEP security event delivery.
type Stream struct {
	ID        string
	Config    StreamConfig
	Status    StreamStatus
	Health    StreamHealth
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pause transitions an active stream to paused, halting delivery attempts
// without discarding the subscription (spec §12 supplemented feature).
func (s *Stream) Pause(now time.Time) {
	if s.Status != StreamStatusActive {
		return
	}
	s.Status = StreamStatusPaused
	s.UpdatedAt = now
}

// Resume transitions a paused stream back to active.
func (s *Stream) Resume(now time.Time) {
	if s.Status != StreamStatusPaused {
		return
	}
	s.Status = StreamStatusActive
	s.UpdatedAt = now
}

// Disable permanently deactivates the stream. Disabled streams cannot be
// resumed; a receiver must establish a new stream.
func (s *Stream) Disable(now time.Time) {
	if s.Status == StreamStatusDisabled {
		return
	}
	s.Status = StreamStatusDisabled
	s.UpdatedAt = now
}

// RecordDelivery records a successful delivery, resetting the consecutive
// failure burst.
func (s *Stream) RecordDelivery(at time.Time, latency time.Duration) {
	s.Health.Delivered++
	s.Health.ConsecutiveFailed = 0
	s.Health.FirstFailureInBurst = nil
	s.Health.LastDeliveryAt = &at
	s.Health.AvgLatency = latency
	s.UpdatedAt = at
}

// RecordFailure records a failed delivery attempt and auto-transitions the
// stream to failed once 5 consecutive failures land within a 5-minute
// window (spec §3).
func (s *Stream) RecordFailure(at time.Time, err string) {
	s.Health.Failed++
	s.Health.LastError = err
	if s.Health.FirstFailureInBurst == nil || at.Sub(*s.Health.FirstFailureInBurst) > autoFailWindow {
		s.Health.FirstFailureInBurst = &at
		s.Health.ConsecutiveFailed = 0
	}
	s.Health.ConsecutiveFailed++
	s.UpdatedAt = at
	if s.Health.ConsecutiveFailed >= autoFailThreshold && s.Status == StreamStatusActive {
		s.Status = StreamStatusFailed
	}
}
