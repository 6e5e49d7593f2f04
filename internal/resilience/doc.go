// Package resilience implements the fault-tolerance primitives every
// outbound dependency call and the process lifecycle build on.
//
// CircuitBreaker is a hand-rolled closed/open/half-open state machine
// (spec §4.1): failure_threshold and success_threshold are independently
// configurable, and half_open_max_inflight caps concurrent probes without
// being tied to the success count needed to close again — a shape
// off-the-shelf breakers like gobreaker collapse into a single
// MaxRequests knob.
//
// Retrier wraps github.com/sethvargo/go-retry with a custom Backoff
// implementing the exact delay formula from spec §4.2:
// min(initial_delay * multiplier^n, max_delay), optionally scaled by a
// uniform jitter factor in [1, 1.25].
//
// ShutdownCoordinator counts in-flight operations that callers register
// with it and waits for them to drain on shutdown (spec §5); the Token
// Service and Edge Validator façades do not register with it.
package resilience
