package driftq

import (
	"encoding/json"
	"time"
)

// RetryPolicy is a broker-side redelivery hint carried inside an Envelope.
// Zero fields mean "unset"; only non-zero fields go on the wire. This is
// unrelated to the client transport's own RetryConfig.
type RetryPolicy struct {
	MaxAttempts  int   `json:"max_attempts,omitempty"`
	BackoffMs    int64 `json:"backoff_ms,omitempty"`
	MaxBackoffMs int64 `json:"max_backoff_ms,omitempty"`
}

// Envelope is cross-cutting delivery metadata, orthogonal to the payload.
type Envelope struct {
	RunID             string       `json:"run_id,omitempty"`
	StepID            string       `json:"step_id,omitempty"`
	ParentStepID      string       `json:"parent_step_id,omitempty"`
	TenantID          string       `json:"tenant_id,omitempty"`
	IdempotencyKey    string       `json:"idempotency_key,omitempty"`
	TargetTopic       string       `json:"target_topic,omitempty"`
	Deadline          *time.Time   `json:"deadline,omitempty"`
	PartitionOverride *int         `json:"partition_override,omitempty"`
	RetryPolicy       *RetryPolicy `json:"retry_policy,omitempty"`
}

// MarshalJSON normalizes the deadline to UTC and drops an all-zero retry
// policy, so the wire form only ever carries meaningful fields.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type envelope Envelope
	v := envelope(*e)

	if v.Deadline != nil {
		utc := v.Deadline.UTC()
		v.Deadline = &utc
	}
	if v.RetryPolicy != nil && *v.RetryPolicy == (RetryPolicy{}) {
		v.RetryPolicy = nil
	}

	return json.Marshal(v)
}

type ProduceRequest struct {
	Topic    string    `json:"topic"`
	Key      string    `json:"key,omitempty"`
	Value    string    `json:"value"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

type ProduceResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
}

type AckRequest struct {
	Topic     string `json:"topic"`
	Group     string `json:"group"`
	Owner     string `json:"owner"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

type NackRequest struct {
	Topic     string `json:"topic"`
	Group     string `json:"group"`
	Owner     string `json:"owner"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Reason    string `json:"reason,omitempty"`
}
