package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/justersync/internal/prefs"
)

// HashKV stores preferences as fields of a single Redis hash.
type HashKV struct {
	rdb  *redis.Client
	hash string
}

// NewHashKV creates a HashKV on the hash "prefs" in c's namespace.
func NewHashKV(c *Client) *HashKV {
	return &HashKV{rdb: c.Underlying(), hash: c.Key("prefs")}
}

func (kv *HashKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := kv.rdb.HGet(ctx, kv.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: hget %s: %w", key, err)
	}
	return v, true, nil
}

func (kv *HashKV) Set(ctx context.Context, key, value string) error {
	if err := kv.rdb.HSet(ctx, kv.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis: hset %s: %w", key, err)
	}
	return nil
}

func (kv *HashKV) Delete(ctx context.Context, key string) error {
	if err := kv.rdb.HDel(ctx, kv.hash, key).Err(); err != nil {
		return fmt.Errorf("redis: hdel %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ prefs.KV = (*HashKV)(nil)
