package store

import (
	"context"
	"errors"
	"os"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is the production backend. Any orchestrator instance pointed at the
// same Redis resolves any other instance's writes.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backend from a client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Write(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *Redis) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Ping verifies connectivity for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// NewAuto selects a backend: Redis when an address is configured (flag value
// first, REDIS_ADDR as override), memory otherwise.
func NewAuto(addr string) Backend {
	if env := os.Getenv("REDIS_ADDR"); env != "" {
		addr = env
	}
	if addr == "" {
		log.Info().Msg("No Redis address configured, using in-memory scan state store")
		return NewMemory()
	}

	log.Info().Str("addr", addr).Msg("Using Redis scan state store")
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
}
