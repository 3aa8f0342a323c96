package driftq

import (
	"context"
	"net/http"
)

// Produce publishes one message. When the envelope carries an idempotency
// key it is mirrored into the Idempotency-Key header, which also marks the
// POST safe for transparent transport retries; without one the call is
// attempted exactly once.
func (c *Client) Produce(ctx context.Context, req ProduceRequest) (ProduceResponse, error) {
	var out ProduceResponse

	hdr := make(http.Header)
	if req.Envelope != nil {
		if k := req.Envelope.IdempotencyKey; k != "" {
			hdr.Set("Idempotency-Key", k)
		}
	}

	err := c.doJSONWithHeaders(ctx, http.MethodPost, "/v1/produce", nil, hdr, req, &out)
	return out, err
}
