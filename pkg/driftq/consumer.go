package driftq

import "context"

// Consumer receives messages from a topic/group.
type Consumer struct {
	topic string
	group string
	c     *Client
}

// Stream opens the consume stream for the given owner. leaseMS == 0 lets
// the broker pick its default lease.
func (co *Consumer) Stream(ctx context.Context, owner string, leaseMS int64) (<-chan ConsumeMessage, <-chan error, error) {
	return co.c.ConsumeStream(ctx, ConsumeOptions{
		Topic:   co.topic,
		Group:   co.group,
		Owner:   owner,
		LeaseMS: leaseMS,
	})
}

// Ack finalizes a delivery held by owner.
func (co *Consumer) Ack(ctx context.Context, owner string, msg ConsumeMessage) error {
	return co.c.Ack(ctx, AckRequest{
		Topic:     co.topic,
		Group:     co.group,
		Owner:     owner,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Nack hands a delivery back for redelivery after its lease expires.
func (co *Consumer) Nack(ctx context.Context, owner string, msg ConsumeMessage, reason string) error {
	return co.c.Nack(ctx, NackRequest{
		Topic:     co.topic,
		Group:     co.group,
		Owner:     owner,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Reason:    reason,
	})
}
