package driftq

// Routing labels a delivery for downstream dispatch decisions.
type Routing struct {
	Label string            `json:"label"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// ConsumeMessage is one leased delivery. Partition, Offset, and Attempts
// are broker-owned identifiers; the client echoes them back on ack/nack and
// never derives or mutates them.
type ConsumeMessage struct {
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Attempts  int       `json:"attempts"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	LastError string    `json:"last_error,omitempty"`
	Routing   *Routing  `json:"routing,omitempty"`
	Envelope  *Envelope `json:"envelope,omitempty"`
}

type ConsumeOptions struct {
	Topic   string
	Group   string
	Owner   string
	LeaseMS int64 // optional; 0 = server default
}
