// Package flags provides runtime feature flag lookup for the gateway.
package flags

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source answers yes/no runtime flag queries. Lookup failures are treated
// as "off" by callers; flags gate optional enforcement, never liveness.
type Source interface {
	Fetch(ctx context.Context, key string) (bool, error)
}

// RedisSource reads flags from Redis so they can be flipped without a
// redeploy.
type RedisSource struct {
	client *redis.Client
	prefix string
}

func NewRedisSource(redisURL string) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisSource{client: client, prefix: "flag:"}, nil
}

// NewRedisSourceWithClient creates a source from an existing Redis client.
func NewRedisSourceWithClient(client *redis.Client) *RedisSource {
	return &RedisSource{client: client, prefix: "flag:"}
}

func (s *RedisSource) key(flag string) string {
	return s.prefix + flag
}

// Fetch returns the flag value; an unset flag is false.
func (s *RedisSource) Fetch(ctx context.Context, flag string) (bool, error) {
	value, err := s.client.Get(ctx, s.key(flag)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch flag %s: %w", flag, err)
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("flag %s has non-boolean value %q", flag, value)
	}
	return parsed, nil
}

// Set writes a flag value. Operators normally flip flags out of band; the
// setter exists for bootstrap wiring and tests.
func (s *RedisSource) Set(ctx context.Context, flag string, value bool) error {
	if err := s.client.Set(ctx, s.key(flag), strconv.FormatBool(value), 0).Err(); err != nil {
		return fmt.Errorf("set flag %s: %w", flag, err)
	}
	return nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Static is an in-memory Source used when no Redis is configured.
type Static struct {
	mu    sync.RWMutex
	flags map[string]bool
}

func NewStatic(flags map[string]bool) *Static {
	copied := make(map[string]bool, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	return &Static{flags: copied}
}

func (s *Static) Fetch(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[key], nil
}

func (s *Static) Set(key string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags == nil {
		s.flags = map[string]bool{}
	}
	s.flags[key] = value
}
