package driftq

import "context"

// Message is the producer-side payload plus optional envelope metadata.
type Message struct {
	Key      string
	Value    []byte
	Envelope *Envelope
}

// Producer sends messages to a single topic.
type Producer struct {
	topic string
	c     *Client
}

// Send publishes one message to the producer's topic.
func (p *Producer) Send(ctx context.Context, msg Message) (ProduceResponse, error) {
	return p.c.Produce(ctx, ProduceRequest{
		Topic:    p.topic,
		Key:      msg.Key,
		Value:    string(msg.Value),
		Envelope: msg.Envelope,
	})
}
