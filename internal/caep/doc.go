// Package caep implements the SET builder, Transmitter, and Receiver of
// the CAEP security-event pipeline (spec §4.13): wrapping domain events as
// RFC 8417 Security Event Tokens, delivering them to registered streams by
// push or poll, and validating + dispatching SETs received from upstream
// transmitters.
package caep
