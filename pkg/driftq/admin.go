package driftq

import (
	"context"
	"net/http"
)

// Admin wraps admin operations (topics, groups, etc.)
type Admin struct{ c *Client }

// ListTopics returns the broker's topics.
func (a *Admin) ListTopics(ctx context.Context) (*TopicsListResponse, error) {
	var out TopicsListResponse
	if err := a.c.doJSON(ctx, http.MethodGet, "/v1/topics", nil, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateTopic creates a topic. Partitions <= 0 lets the broker choose.
func (a *Admin) CreateTopic(ctx context.Context, req TopicsCreateRequest) (*TopicsCreateResponse, error) {
	var out TopicsCreateResponse
	if err := a.c.doJSON(ctx, http.MethodPost, "/v1/topics", nil, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
