package caep

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEvent_WrapsSingleEvent(t *testing.T) {
	now := time.Now()
	set := FromEvent(Event{Type: "https://schemas.openid.net/secevent/caep/event-type/session-revoked", Payload: map[string]any{"reason": "replay"}}, "https://issuer.example.com", []string{"aud-1"}, now)

	assert.Equal(t, "https://issuer.example.com", set.Issuer)
	assert.Equal(t, []string{"aud-1"}, set.Audience)
	assert.Len(t, set.Events, 1)
	assert.NotEmpty(t, set.ID)
}

func TestBuildCombined_PacksMultipleEvents(t *testing.T) {
	events := []Event{
		{Type: "type-a", Payload: map[string]any{"k": "a"}},
		{Type: "type-b", Payload: map[string]any{"k": "b"}},
	}
	set := BuildCombined(events, "issuer", []string{"aud"}, time.Now())
	assert.Len(t, set.Events, 2)
	assert.Equal(t, map[string]any{"k": "a"}, set.Events["type-a"])
}

func TestSigner_SignProducesVerifiableES256Token(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	set := FromEvent(Event{Type: "type-a", Payload: map[string]any{"k": "v"}}, "issuer", []string{"aud"}, time.Now())
	token, err := signer.Sign(set)
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) { return signer.PublicKey(), nil }, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, signer.KeyID(), parsed.Header["kid"])
	assert.Equal(t, "secevent+jwt", parsed.Header["typ"])
}

func TestSigner_SignWithAlgorithmRejectsUnknownAlgorithm(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	set := FromEvent(Event{Type: "type-a"}, "issuer", nil, time.Now())

	_, err = signer.SignWithAlgorithm(set, "not-an-alg", nil, "kid")
	require.Error(t, err)
}
