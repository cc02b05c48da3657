package contracts

import (
	"context"
)

// JobQueue is the durable hand-off between envelope intake and the image
// worker, backed by a consumer-group stream.
type JobQueue interface {
	// PublishToStream appends one job payload to the topic stream.
	PublishToStream(ctx context.Context, topic string, payload []byte) error
	// SubscribeToStream blocks reading the stream on behalf of a consumer
	// group and hands each entry to the handler.
	SubscribeToStream(ctx context.Context, topic string, group string, handler func(ctx context.Context, messageID string, data []byte) error) error
	// AcknowledgeMessage marks a stream entry as handled for the group.
	AcknowledgeMessage(ctx context.Context, topic, group, msgID string) error
	// DeleteMessage removes an acknowledged entry from the stream.
	DeleteMessage(ctx context.Context, topic, msgID string) error
}
