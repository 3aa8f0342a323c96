package driftq

import (
	"context"
	"net/http"
)

// Ack finalizes a leased delivery. The broker forgets it and moves the
// group's cursor; there is no undo.
func (c *Client) Ack(ctx context.Context, req AckRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/ack", nil, req, nil)
}

// Nack reports a failed delivery. The broker redelivers it after the lease
// expires; Reason is recorded as the delivery's last_error.
func (c *Client) Nack(ctx context.Context, req NackRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/nack", nil, req, nil)
}
