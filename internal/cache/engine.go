// Package cache implements a tag-indexed cache on top of Redis.
//
// Every entry lives at cache:<tenant>:<key>. Entries written with tags also
// get a forward index (cache:<tenant>:<key>:tags, the authoritative tag set,
// expiring with the entry) and a membership in one reverse index per tag
// (tag:<tenant>:<tag>, advisory, never expiring). PurgeByTag walks the reverse
// index, keeps only members whose forward index still lists the tag, deletes
// them and then drops the reverse index.
//
// Operations are plain pipelines, not transactions. Concurrent writers race
// per command and the last write wins. The engine keeps no local state,
// takes no locks and never retries.
//
// Expire refreshes the TTL of the entry only. A forward index therefore keeps
// the TTL of the last Set, and once it lapses the entry is treated as
// untagged by later purges.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/errors"
	"github.com/wudi/tagcache/internal/logging"
	"github.com/wudi/tagcache/internal/metrics"
	"github.com/wudi/tagcache/internal/namespace"
)

// NoExpiration is returned by TTL for an entry that never expires.
const NoExpiration time.Duration = -1

// DefaultScanCount is the SSCAN COUNT hint used when enumerating a tag.
const DefaultScanCount = 100

// Operation names, used for errors, metrics and spans.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpExpire = "expire"
	OpTTL    = "ttl"
	OpPurge  = "purge"
)

// SetOptions controls how Set stores an entry.
type SetOptions struct {
	// TTL is the lifetime of the entry. Zero means no expiration.
	TTL time.Duration
	// Tags replace any tags previously applied to the key. Empty means untagged.
	Tags []string
}

// EngineConfig holds the optional collaborators of an Engine.
type EngineConfig struct {
	ScanCount int64
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
}

// Engine is the tag-indexed cache. It is safe for concurrent use.
type Engine struct {
	client    redis.UniversalClient
	scanCount int64
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// NewEngine creates an Engine on client. The client is shared and owned by
// the caller.
func NewEngine(client redis.UniversalClient, cfg EngineConfig) *Engine {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultScanCount
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Engine{
		client:    client,
		scanCount: cfg.ScanCount,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
}

// Ping checks that Redis is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return errors.Backend("ping", err)
	}
	return nil
}

// Get returns the value stored for key. A missing or expired entry is
// reported as (nil, false, nil).
func (e *Engine) Get(ctx context.Context, tenant, key string) (value []byte, found bool, err error) {
	ctx, op := e.begin(ctx, OpGet, tenant, attribute.String("cache.key", key))
	defer func() { op.end(err, found) }()

	if err := validateKey(OpGet, tenant, key); err != nil {
		return nil, false, err
	}

	value, found, err = readEntry(ctx, e.client, namespace.EntryKey(tenant, key))
	if err != nil {
		return nil, false, classify(OpGet, err)
	}
	if found {
		e.metrics.RecordHit()
	} else {
		e.metrics.RecordMiss()
	}
	return value, found, nil
}

// Set stores value under key in one pipeline. With tags, the forward index is
// replaced by exactly opts.Tags and the key is added to each tag's reverse
// index; without tags, any forward index is removed. It reports true only if
// every command in the batch was acknowledged as expected.
func (e *Engine) Set(ctx context.Context, tenant, key string, value []byte, opts SetOptions) (ok bool, err error) {
	ctx, op := e.begin(ctx, OpSet, tenant,
		attribute.String("cache.key", key),
		attribute.Int("cache.tags", len(opts.Tags)),
	)
	defer func() { op.end(err, true) }()

	if err := validateKey(OpSet, tenant, key); err != nil {
		return false, err
	}
	if opts.TTL < 0 {
		return false, errors.InvalidInput(OpSet, "ttl must not be negative")
	}
	tags, err := normalizeTags(opts.Tags)
	if err != nil {
		return false, err
	}

	entryKey := namespace.EntryKey(tenant, key)
	pipe := e.client.Pipeline()
	writeEntry(ctx, pipe, entryKey, value, opts.TTL)
	replaceForward(ctx, pipe, entryKey, tags, opts.TTL)
	addReverse(ctx, pipe, tenant, entryKey, tags)

	cmds, err := execPipeline(ctx, OpSet, pipe)
	if err != nil {
		return false, err
	}
	if err := checkAcks(OpSet, cmds); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry for key. Its forward index and reverse index
// memberships are left for the next purge of the relevant tags. It reports
// whether Redis removed a key.
func (e *Engine) Delete(ctx context.Context, tenant, key string) (deleted bool, err error) {
	ctx, op := e.begin(ctx, OpDelete, tenant, attribute.String("cache.key", key))
	defer func() { op.end(err, true) }()

	if err := validateKey(OpDelete, tenant, key); err != nil {
		return false, err
	}

	n, err := e.client.Del(ctx, namespace.EntryKey(tenant, key)).Result()
	if err != nil {
		return false, classify(OpDelete, err)
	}
	return n > 0, nil
}

// Expire sets a new TTL on the entry for key. The forward index keeps its
// own TTL. It reports whether the entry existed.
func (e *Engine) Expire(ctx context.Context, tenant, key string, ttl time.Duration) (updated bool, err error) {
	ctx, op := e.begin(ctx, OpExpire, tenant, attribute.String("cache.key", key))
	defer func() { op.end(err, true) }()

	if err := validateKey(OpExpire, tenant, key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, errors.InvalidInput(OpExpire, "ttl must be positive")
	}

	updated, err = e.client.PExpire(ctx, namespace.EntryKey(tenant, key), ttl).Result()
	if err != nil {
		return false, classify(OpExpire, err)
	}
	return updated, nil
}

// TTL returns the remaining lifetime of the entry for key. An entry without
// expiration reports NoExpiration; a missing entry reports found == false.
func (e *Engine) TTL(ctx context.Context, tenant, key string) (ttl time.Duration, found bool, err error) {
	ctx, op := e.begin(ctx, OpTTL, tenant, attribute.String("cache.key", key))
	defer func() { op.end(err, found) }()

	if err := validateKey(OpTTL, tenant, key); err != nil {
		return 0, false, err
	}

	d, err := e.client.PTTL(ctx, namespace.EntryKey(tenant, key)).Result()
	if err != nil {
		return 0, false, classify(OpTTL, err)
	}
	switch {
	case d == -2:
		return 0, false, nil
	case d < 0:
		return NoExpiration, true, nil
	}
	return d, true, nil
}

// PurgeByTag deletes every entry currently tagged with tag and returns their
// keys. Reverse index members whose forward index no longer lists the tag
// are stale: they are dropped from the index but their entries are kept.
// The reverse index is removed entirely once the purge succeeds.
func (e *Engine) PurgeByTag(ctx context.Context, tenant, tag string) (purged []string, err error) {
	ctx, op := e.begin(ctx, OpPurge, tenant, attribute.String("cache.tag", tag))
	defer func() { op.end(err, true) }()

	if tenant == "" {
		return nil, errors.InvalidInput(OpPurge, "tenant is required")
	}
	if tag == "" {
		return nil, errors.InvalidInput(OpPurge, "tag is required")
	}

	tagKey := namespace.TagKey(tenant, tag)

	// 1. Enumerate candidates from the reverse index.
	seen := make(map[string]struct{})
	var candidates []string
	stale := 0
	for member, err := range e.reverseMembers(ctx, tagKey) {
		if err != nil {
			return nil, classify(OpPurge, err)
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		if _, ok := namespace.LogicalKey(tenant, member); !ok {
			stale++
			continue
		}
		candidates = append(candidates, member)
	}
	if len(candidates) == 0 && stale == 0 {
		return []string{}, nil
	}

	// 2. Validate each candidate against its forward index.
	var valid []string
	if len(candidates) > 0 {
		pipe := e.client.Pipeline()
		checks := make([]*redis.BoolCmd, len(candidates))
		for i, member := range candidates {
			checks[i] = checkForward(ctx, pipe, member, tag)
		}
		if _, err := execPipeline(ctx, OpPurge, pipe); err != nil {
			return nil, err
		}
		for i, cmd := range checks {
			if err := cmd.Err(); err != nil {
				return nil, errors.Command(OpPurge, cmd.Name(), err)
			}
			if cmd.Val() {
				valid = append(valid, candidates[i])
			} else {
				stale++
			}
		}
	}

	// 3. Delete validated entries, their forward indexes and the reverse index.
	pipe := e.client.Pipeline()
	for _, member := range valid {
		deleteEntry(ctx, pipe, member)
		deleteForward(ctx, pipe, member)
	}
	deleteReverse(ctx, pipe, tagKey)
	cmds, err := execPipeline(ctx, OpPurge, pipe)
	if err != nil {
		return nil, err
	}
	if err := checkAcks(OpPurge, cmds); err != nil {
		return nil, err
	}

	purged = make([]string, 0, len(valid))
	for _, member := range valid {
		key, _ := namespace.LogicalKey(tenant, member)
		purged = append(purged, key)
	}

	e.metrics.RecordPurge(len(purged), stale)
	if stale > 0 {
		logging.Debug("Discarded stale reverse index members",
			zap.String("tenant", tenant),
			zap.String("tag", tag),
			zap.Int("stale", stale),
		)
	}
	logging.Info("Purged cache tag",
		zap.String("tenant", tenant),
		zap.String("tag", tag),
		zap.Int("purged", len(purged)),
	)
	return purged, nil
}

// opSpan tracks one engine call for tracing and metrics.
type opSpan struct {
	e      *Engine
	name   string
	tenant string
	span   trace.Span
	start  time.Time
}

func (e *Engine) begin(ctx context.Context, name, tenant string, attrs ...attribute.KeyValue) (context.Context, *opSpan) {
	attrs = append(attrs, attribute.String("cache.tenant", tenant))
	ctx, span := e.tracer.Start(ctx, "cache."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &opSpan{e: e, name: name, tenant: tenant, span: span, start: time.Now()}
}

// end finishes the span. found distinguishes hits from misses on lookups.
func (o *opSpan) end(err error, found bool) {
	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultError
		if ce, ok := errors.As(err); ok && ce.Kind == errors.KindInvalidInput {
			result = metrics.ResultInvalid
		} else {
			logging.Warn("Cache operation failed",
				zap.String("op", o.name),
				zap.String("tenant", o.tenant),
				zap.Error(err),
			)
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	case !found:
		result = metrics.ResultMiss
	}
	o.span.SetAttributes(attribute.String("cache.result", result))
	o.span.End()
	o.e.metrics.RecordOperation(o.name, result, time.Since(o.start))
}

func validateKey(op, tenant, key string) error {
	if tenant == "" {
		return errors.InvalidInput(op, "tenant is required")
	}
	if key == "" {
		return errors.InvalidInput(op, "key is required")
	}
	return nil
}

// normalizeTags drops duplicate tags, keeping first-seen order.
func normalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			return nil, errors.InvalidInput(OpSet, "tags must not be empty strings")
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
