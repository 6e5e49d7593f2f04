package caep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/domain"
)

func newTestTransmitter(t *testing.T, opts ...Option) *Transmitter {
	t.Helper()
	signer, err := NewSigner()
	require.NoError(t, err)
	return NewTransmitter("https://issuer.test.example.com", signer, opts...)
}

func TestTransmitter_RegisterStreamRejectsPushWithoutEndpoint(t *testing.T) {
	tr := newTestTransmitter(t)
	_, err := tr.RegisterStream(domain.StreamConfig{Delivery: domain.StreamDeliveryPush, EventsRequested: []string{"x"}})
	require.Error(t, err)
}

func TestTransmitter_RegisterStreamRejectsEmptyEventsRequested(t *testing.T) {
	tr := newTestTransmitter(t)
	_, err := tr.RegisterStream(domain.StreamConfig{Delivery: domain.StreamDeliveryPoll})
	require.Error(t, err)
}

func TestTransmitter_EmitDeliversToPollStream(t *testing.T) {
	tr := newTestTransmitter(t)
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPoll,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
		Audience:        "aud-1",
	})
	require.NoError(t, err)

	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked, Payload: map[string]any{"reason": "test"}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Delivered)

	pending := tr.Poll(id)
	assert.Len(t, pending, 1)

	assert.Empty(t, tr.Poll(id))
}

func TestTransmitter_EmitSkipsStreamsNotRequestingEventType(t *testing.T) {
	tr := newTestTransmitter(t)
	_, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPoll,
		EventsRequested: []string{domain.EventTypeCredentialChange},
	})
	require.NoError(t, err)

	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked})
	assert.Empty(t, results)
}

func TestTransmitter_EmitPushesAndRecordsSuccess(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, secEventContentType, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := newTestTransmitter(t, WithHTTPClient(server.Client()))
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPush,
		EndpointURL:     server.URL,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked, Payload: map[string]any{}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Delivered)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	stream, ok := tr.Stream(id)
	require.True(t, ok)
	assert.Equal(t, int64(1), stream.Health.Delivered)
}

func TestTransmitter_EmitRecordsPushFailureOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := newTestTransmitter(t, WithHTTPClient(server.Client()))
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPush,
		EndpointURL:     server.URL,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked, Payload: map[string]any{}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Delivered)

	stream, ok := tr.Stream(id)
	require.True(t, ok)
	assert.Equal(t, int64(1), stream.Health.Failed)
}

func TestTransmitter_StreamAutoFailsAfterFiveConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := newTestTransmitter(t, WithHTTPClient(server.Client()))
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPush,
		EndpointURL:     server.URL,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked, Payload: map[string]any{}})
	}

	stream, ok := tr.Stream(id)
	require.True(t, ok)
	assert.Equal(t, domain.StreamStatusFailed, stream.Status)

	// a failed stream drops further events.
	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked, Payload: map[string]any{}})
	assert.Empty(t, results)
}

func TestTransmitter_PauseAndResumeStream(t *testing.T) {
	tr := newTestTransmitter(t)
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPoll,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	require.NoError(t, tr.PauseStream(id))
	stream, _ := tr.Stream(id)
	assert.Equal(t, domain.StreamStatusPaused, stream.Status)

	results := tr.Emit(context.Background(), Event{Type: domain.EventTypeSessionRevoked})
	assert.Empty(t, results)

	require.NoError(t, tr.ResumeStream(id))
	stream, _ = tr.Stream(id)
	assert.Equal(t, domain.StreamStatusActive, stream.Status)
}

func TestTransmitter_DisableStream(t *testing.T) {
	tr := newTestTransmitter(t)
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPoll,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	require.NoError(t, tr.DisableStream(id))
	stream, _ := tr.Stream(id)
	assert.Equal(t, domain.StreamStatusDisabled, stream.Status)
}

func TestTransmitter_EmitSessionRevokedDeliversToSubscribedStreams(t *testing.T) {
	tr := newTestTransmitter(t)
	id, err := tr.RegisterStream(domain.StreamConfig{
		Delivery:        domain.StreamDeliveryPoll,
		EventsRequested: []string{domain.EventTypeSessionRevoked},
	})
	require.NoError(t, err)

	require.NoError(t, tr.EmitSessionRevoked(context.Background(), "family-1", "user-1", "replay"))
	assert.Len(t, tr.Poll(id), 1)
}
