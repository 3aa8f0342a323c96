package driftq

import "errors"

var (
	// These are some common typed errors (expand as real APIs land)
	ErrTopicNotFound     = errors.New("topic not found")
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrDeadlineExceeded marks a delivery whose envelope deadline passed
	// before the handler ran, or elapsed while it was running.
	ErrDeadlineExceeded = errors.New("message deadline exceeded")
)
