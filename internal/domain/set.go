package domain

// SET is a Security Event Token (RFC 8417, spec §3 "SET").
type SET struct {
	Issuer   string                     `json:"iss"`
	IssuedAt int64                      `json:"iat"`
	ID       string                     `json:"jti"`
	Audience []string                   `json:"aud"`
	Events   map[string]map[string]any  `json:"events"`
}

// CAEPEventURIPrefix is the OpenID CAEP event-type URI namespace (spec §6).
const CAEPEventURIPrefix = "https://schemas.openid.net/secevent/caep/event-type/"

// Well-known CAEP event types this platform emits and consumes.
const (
	EventTypeSessionRevoked   = CAEPEventURIPrefix + "session-revoked"
	EventTypeCredentialChange = CAEPEventURIPrefix + "credential-change"
	EventTypeTokenClaimsChange = CAEPEventURIPrefix + "token-claims-change"
)
