package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/tagcache/internal/namespace"
)

// Forward index: cache:<tenant>:<key>:tags, the authoritative set of tags on
// a key. It is replaced wholesale on every write and carries the entry's TTL.

func replaceForward(ctx context.Context, pipe redis.Pipeliner, entryKey string, tags []string, ttl time.Duration) {
	fwd := namespace.ForwardKey(entryKey)
	pipe.Del(ctx, fwd)
	if len(tags) == 0 {
		return
	}
	members := make([]interface{}, len(tags))
	for i, t := range tags {
		members[i] = t
	}
	pipe.SAdd(ctx, fwd, members...)
	if ttl > 0 {
		pipe.PExpire(ctx, fwd, ttl)
	}
}

func checkForward(ctx context.Context, pipe redis.Pipeliner, entryKey, tag string) *redis.BoolCmd {
	return pipe.SIsMember(ctx, namespace.ForwardKey(entryKey), tag)
}

func deleteForward(ctx context.Context, pipe redis.Pipeliner, entryKey string) {
	pipe.Del(ctx, namespace.ForwardKey(entryKey))
}

// Reverse index: tag:<tenant>:<tag>, an advisory set of entry keys that were
// tagged at some point. Members are never removed individually and the set
// never expires, since it is shared by keys with unrelated lifetimes.

func addReverse(ctx context.Context, pipe redis.Pipeliner, tenant, entryKey string, tags []string) {
	for _, tag := range tags {
		pipe.SAdd(ctx, namespace.TagKey(tenant, tag), entryKey)
	}
}

func deleteReverse(ctx context.Context, pipe redis.Pipeliner, tagKey string) {
	pipe.Del(ctx, tagKey)
}
