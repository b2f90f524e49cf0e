package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// The entry store holds the opaque value for a key. It knows nothing about
// tags; the engine pairs it with the indexes inside one pipeline.

func writeEntry(ctx context.Context, pipe redis.Pipeliner, entryKey string, value []byte, ttl time.Duration) {
	pipe.Set(ctx, entryKey, value, ttl)
}

func readEntry(ctx context.Context, c redis.Cmdable, entryKey string) ([]byte, bool, error) {
	val, err := c.Get(ctx, entryKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func deleteEntry(ctx context.Context, pipe redis.Pipeliner, entryKey string) {
	pipe.Del(ctx, entryKey)
}
