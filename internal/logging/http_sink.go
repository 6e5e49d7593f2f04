package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/infra/wrapper"
)

const batchContentType = "application/json"

// HTTPDoer is the narrow surface HTTPSink needs from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSink ships a batch to a remote log-collection endpoint over HTTP,
// grounded on internal/caep.Transmitter's push-delivery shape.
type HTTPSink struct {
	endpoint string
	client   HTTPDoer
}

// NewHTTPSink constructs an HTTPSink posting batches to endpoint. A nil
// client defaults to http.DefaultClient.
func NewHTTPSink(endpoint string, client HTTPDoer) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

// Ship implements Sink.
func (h *HTTPSink) Ship(ctx context.Context, batch []Record) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvalidConfig, "could not encode log batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransport, "could not build log shipping request", err)
	}
	req.Header.Set("Content-Type", batchContentType)

	resp, err := wrapper.DoRequestWithClient(ctx, h.client, req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransport, "log shipping request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.New(apperrors.KindTransport, "log endpoint returned a non-2xx status")
	}
	return nil
}
