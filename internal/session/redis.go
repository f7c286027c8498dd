package session

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/config"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "signet:session:"

// NewRedis builds the session redis client, or nil when no address is
// configured. A nil client simply drops the redis tier from the store.
func NewRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

type redisBackend struct {
	client *redis.Client
}

func newRedisBackend(client *redis.Client) *redisBackend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Name() string { return "redis" }

func (b *redisBackend) Probe(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) Set(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error {
	return b.client.Set(ctx, redisKeyPrefix+sessionID, payload, ttl).Err()
}

func (b *redisBackend) Get(ctx context.Context, sessionID string) ([]byte, error) {
	payload, err := b.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

func (b *redisBackend) Delete(ctx context.Context, sessionID string) error {
	return b.client.Del(ctx, redisKeyPrefix+sessionID).Err()
}

func (b *redisBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := b.client.Exists(ctx, redisKeyPrefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
