package driftq

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultUserAgent = "driftq-go/0.1.0"

// Placeholder for future TLS options.
type TLSConfig struct {
	// TODO: add fields (CA, cert/key, InsecureSkipVerify, etc.)
}

// Config holds client connection options.
type Config struct {
	// BaseURL is the broker's HTTP base URL, e.g. "http://localhost:8080".
	BaseURL string

	TLS *TLSConfig

	// Timeout bounds request/response calls, including any transparent
	// retries. The streaming consume call is exempt: its lifetime is
	// controlled by ctx cancellation. Zero means 10s, negative disables
	// the default entirely.
	Timeout time.Duration

	// Retry controls transparent retries of transient failures.
	Retry RetryConfig

	// Tracing controls trace-context propagation on outgoing requests.
	Tracing TracingConfig

	// UserAgent identifies this client on every request. Empty means the
	// package default.
	UserAgent string

	// Logger receives client diagnostics (skipped stream records, worker
	// errors). Nil means a quiet JSON logger at warn level.
	Logger Logger

	// Transport is the base RoundTripper the middleware chain wraps.
	// Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// Client is a handle to a DriftQ broker over its HTTP surface.
type Client struct {
	baseURL   string
	userAgent string
	httpc     *http.Client
	logger    Logger
}

// Dial creates a client. No network I/O happens here; the first RPC opens
// the first connection.
func Dial(_ context.Context, cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("driftq: Config.BaseURL is required")
	}

	timeout := cfg.Timeout
	switch {
	case timeout == 0:
		timeout = 10 * time.Second
	case timeout < 0:
		timeout = 0
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	rt := ChainTransport(cfg.Transport,
		TracingMiddleware(cfg.Tracing),
		DeadlineMiddleware(timeout),
		RetryMiddleware(cfg.Retry),
	)

	return &Client{
		baseURL:   base,
		userAgent: ua,
		httpc:     &http.Client{Transport: rt},
		logger:    logger,
	}, nil
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}

// Producer returns a producer bound to a topic.
func (c *Client) Producer(topic string) *Producer {
	return &Producer{topic: topic, c: c}
}

// Consumer returns a consumer bound to a topic/group.
func (c *Client) Consumer(topic, group string) *Consumer {
	return &Consumer{topic: topic, group: group, c: c}
}

// Admin returns an admin client wrapper.
func (c *Client) Admin() *Admin { return &Admin{c: c} }
