package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisJobQueue is a consumer-group stream. Entries survive consumer crashes
// until they are acknowledged.
type RedisJobQueue struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisJobQueue(log *slog.Logger, rdb *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{rdb: rdb, log: log}
}

func (q *RedisJobQueue) PublishToStream(ctx context.Context, topic string, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: 1000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

func (q *RedisJobQueue) SubscribeToStream(
	ctx context.Context,
	topic string,
	group string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) error {
	// Create group if not exists
	err := q.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				// Read new messages (">")
				res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    group,
					Consumer: consumerName,
					Streams:  []string{topic, ">"},
					Count:    1,
					Block:    2 * time.Second,
				}).Result()
				if err != nil {
					if err != redis.Nil && ctx.Err() == nil {
						q.log.Warn("job queue - subscribe - stream read error", "topic", topic, "err", err)
					}
					continue
				}
				for _, stream := range res {
					for _, msg := range stream.Messages {
						raw, ok := msg.Values["data"].(string)
						if !ok {
							continue
						}
						if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
							q.log.Error("job queue - subscribe - handler failed", "topic", topic, "entry_id", msg.ID, "err", err)
						}
					}
				}
			}
		}
	}()
	return nil
}

func (q *RedisJobQueue) AcknowledgeMessage(ctx context.Context, topic, group, msgID string) error {
	return q.rdb.XAck(ctx, topic, group, msgID).Err()
}

func (q *RedisJobQueue) DeleteMessage(ctx context.Context, topic, msgID string) error {
	return q.rdb.XDel(ctx, topic, msgID).Err()
}
