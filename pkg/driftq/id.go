package driftq

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// DefaultOwner returns a reasonably unique consumer identity of the form
// "<hostname>-<8 hex chars>". Owners must stay stable for the lifetime of a
// worker, so call it once at startup, not per request.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "driftq"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// NewIdempotencyKey returns a fresh key for Envelope.IdempotencyKey, making
// the produce call safe for the transport to retry.
func NewIdempotencyKey() string { return uuid.NewString() }
