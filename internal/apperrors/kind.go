// Package apperrors defines the platform's error taxonomy (spec §7):
// a closed set of Kinds, each with a fixed retryability and a surfaced
// status, independent of any particular transport.
package apperrors

// Kind is a stable classification of a failure. Kinds are never renamed or
// removed once published; see errors.go's DomainError for the wrapper type
// carrying one.
type Kind string

const (
	KindTokenMissing  Kind = "token-missing"
	KindTokenInvalid  Kind = "token-invalid"
	KindTokenExpired  Kind = "token-expired"
	KindTokenMalformed Kind = "token-malformed"

	KindClaimsInvalid Kind = "claims-invalid"

	KindSPIFFEInvalid      Kind = "spiffe-invalid"
	KindCertificateInvalid Kind = "certificate-invalid"

	KindRefreshInvalid  Kind = "refresh-invalid"
	KindRefreshReplay   Kind = "refresh-replay"
	KindFamilyRevoked   Kind = "family-revoked"
	KindRefreshInternal Kind = "refresh-internal"

	KindDPoPHTMMismatch     Kind = "dpop-htm-mismatch"
	KindDPoPHTUMismatch     Kind = "dpop-htu-mismatch"
	KindDPoPIATOutOfWindow  Kind = "dpop-iat"
	KindDPoPReplay          Kind = "dpop-replay"
	KindDPoPATHMismatch     Kind = "dpop-ath-mismatch"
	KindDPoPThumbprintMismatch Kind = "dpop-thumbprint-mismatch"

	KindKeyNotFound      Kind = "key-not-found"
	KindKeyInvalidState  Kind = "key-invalid-state"

	KindEncryptionFailed Kind = "encryption-failed"
	KindDecryptionFailed Kind = "decryption-failed"

	KindRateLimited        Kind = "rate-limited"
	KindRateLimitInternal  Kind = "rate-limit-internal"

	KindSETInvalid        Kind = "set-invalid"
	KindUnknownEventType  Kind = "unknown-event-type"
	KindSubjectInvalid    Kind = "subject-invalid"
	KindStreamNotActive   Kind = "stream-not-active"

	KindTimeout Kind = "timeout"

	KindUnavailable Kind = "unavailable"
	KindTransport   Kind = "transport"

	KindCircuitOpen Kind = "circuit-open"

	KindInvalidConfig Kind = "invalid-config"
)

// Status is the surfaced error category (spec §7's "Surfaced as" column),
// transport-agnostic but shaped after gRPC status codes since the Token
// Service and Edge Validator are proto-defined RPC services (spec §6).
type Status string

const (
	StatusUnauthenticated   Status = "unauthenticated"
	StatusPermissionDenied  Status = "permission-denied"
	StatusInternal          Status = "internal"
	StatusResourceExhausted Status = "resource-exhausted"
	StatusDeadlineExceeded  Status = "deadline-exceeded"
	StatusUnavailable       Status = "unavailable"
	StatusStartupFailure    Status = "startup-failure"
)

// retryable records, per Kind, whether a caller may retry the operation.
var retryable = map[Kind]bool{
	KindRateLimited: true,
	KindTimeout:     true,
	KindUnavailable: true,
	KindTransport:   true,
	KindCircuitOpen: true,
}

// status maps each Kind to the status surfaced to callers (spec §7 table).
// Kinds absent from this map default to StatusInternal.
var status = map[Kind]Status{
	KindTokenMissing:   StatusUnauthenticated,
	KindTokenInvalid:   StatusUnauthenticated,
	KindTokenExpired:   StatusUnauthenticated,
	KindTokenMalformed: StatusUnauthenticated,

	KindClaimsInvalid: StatusPermissionDenied,

	KindSPIFFEInvalid:      StatusUnauthenticated,
	KindCertificateInvalid: StatusUnauthenticated,

	KindRefreshInvalid: StatusUnauthenticated,
	KindRefreshReplay:  StatusUnauthenticated,
	KindFamilyRevoked:  StatusUnauthenticated,

	KindDPoPHTMMismatch:        StatusUnauthenticated,
	KindDPoPHTUMismatch:        StatusUnauthenticated,
	KindDPoPIATOutOfWindow:     StatusUnauthenticated,
	KindDPoPReplay:             StatusUnauthenticated,
	KindDPoPATHMismatch:        StatusUnauthenticated,
	KindDPoPThumbprintMismatch: StatusUnauthenticated,

	KindKeyNotFound:     StatusInternal,
	KindKeyInvalidState: StatusPermissionDenied,

	KindEncryptionFailed: StatusInternal,
	KindDecryptionFailed: StatusInternal,

	KindRateLimited: StatusResourceExhausted,

	KindSETInvalid:       StatusPermissionDenied,
	KindUnknownEventType: StatusPermissionDenied,
	KindSubjectInvalid:   StatusPermissionDenied,
	KindStreamNotActive:  StatusPermissionDenied,

	KindTimeout: StatusDeadlineExceeded,

	KindUnavailable: StatusUnavailable,
	KindTransport:   StatusUnavailable,

	KindCircuitOpen: StatusUnavailable,

	KindInvalidConfig: StatusStartupFailure,
}

// Retryable reports whether the given Kind permits client-driven retry.
func (k Kind) Retryable() bool {
	return retryable[k]
}

// Status returns the status surfaced to callers for this Kind.
func (k Kind) Status() Status {
	if s, ok := status[k]; ok {
		return s
	}
	return StatusInternal
}

// HasRetryAfter reports whether the surfaced status should carry a
// retry-after hint (spec §7: rate-limited and circuit-open do).
func (k Kind) HasRetryAfter() bool {
	return k == KindRateLimited || k == KindCircuitOpen
}
