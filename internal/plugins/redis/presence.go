package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:clients"

// RedisPresenceStore keeps one ZSet of connected client ids scored by their
// last check-in time, so any node can answer who is online.
type RedisPresenceStore struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisPresenceStore(rdb *redis.Client, window time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb:    rdb,
		window: window,
	}
}

// CheckIn adds/updates the client in the ZSet with the current timestamp.
func (p *RedisPresenceStore) CheckIn(
	ctx context.Context,
	clientID string,
	ttl time.Duration,
) error {
	now := time.Now().Unix()

	err := p.rdb.ZAdd(ctx, presenceKey, redis.Z{
		Score:  float64(now),
		Member: clientID,
	}).Err()
	if err != nil {
		return err
	}

	// Expire the whole ZSet so it doesn't leak memory when the service
	// stops checking in.
	return p.rdb.Expire(ctx, presenceKey, ttl*2).Err()
}

// OnlineClients returns the clients that checked in within the window.
func (p *RedisPresenceStore) OnlineClients(ctx context.Context) ([]string, error) {
	threshold := time.Now().Add(-p.window).Unix()

	// Remove stale members first (self-cleaning)
	p.rdb.ZRemRangeByScore(ctx, presenceKey, "-inf", strconv.FormatInt(threshold, 10))

	return p.rdb.ZRange(ctx, presenceKey, 0, -1).Result()
}

// Remove drops the client marker right away, ahead of the score pruning.
func (p *RedisPresenceStore) Remove(ctx context.Context, clientID string) error {
	return p.rdb.ZRem(ctx, presenceKey, clientID).Err()
}
