package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coinpulse/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisCooldown keeps cooldown entries in redis so they survive restarts.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown connects to redis, retrying the initial ping with
// exponential backoff for up to maxWait.
func NewRedisCooldown(ctx context.Context, cfg config.RedisConfig, maxWait time.Duration, logger *zap.Logger) (*RedisCooldown, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait
	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("redis not ready, retrying", zap.String("addr", cfg.Addr), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "coinpulse:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisCooldown{client: client, prefix: prefix}, nil
}

func (r *RedisCooldown) key(alertID int64) string {
	return r.prefix + "cooldown:" + strconv.FormatInt(alertID, 10)
}

func (r *RedisCooldown) Active(ctx context.Context, alertID int64) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(alertID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisCooldown) Mark(ctx context.Context, alertID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(alertID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (r *RedisCooldown) Close() error {
	return r.client.Close()
}
