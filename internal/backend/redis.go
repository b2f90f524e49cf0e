// Package backend builds the process-wide Redis client the cache engine runs on.
package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/config"
	"github.com/wudi/tagcache/internal/logging"
)

// NewClient creates the Redis client described by cfg. One address yields a
// single-node client, several yield a cluster client, and a master name
// yields a sentinel-backed failover client.
func NewClient(cfg config.RedisConfig) redis.UniversalClient {
	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewUniversalClient(opts)
}

// WaitReady pings client until it answers or timeout elapses. It is only
// used at startup; cache operations themselves are never retried.
func WaitReady(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logging.Warn("Redis not ready, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("redis not ready after %d attempts: %w", attempt, err)
	}
	return nil
}
