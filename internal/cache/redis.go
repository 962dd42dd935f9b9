package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// keyPrefix namespaces script-cache keys in a shared Redis instance.
const keyPrefix = "tollgate:scripts:"

// Redis is a ScriptCache backed by Redis, for deployments running more than
// one storefront instance: an invalidation issued by any instance evicts the
// entry every instance reads.
//
// Same contract as Memory: the TTL is enforced server-side via SET EX, a
// miss reads through to the source, and any Redis or source failure degrades
// to zero rules rather than failing the request.
type Redis struct {
	client *redis.Client
	source ScriptSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache over the given source.
func NewRedis(addr string, source ScriptSource, logger *slog.Logger, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Redis{client: rdb, source: source, ttl: ttl, logger: logger}
}

// ActiveScripts returns the tenant's cached script set, reading through to
// the source on a miss. The populated entry carries the TTL, so expiry needs
// no clock on this side.
func (r *Redis) ActiveScripts(ctx context.Context, tenantID string) rules.ScriptSet {
	key := keyPrefix + tenantID

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var set rules.ScriptSet
		if err := json.Unmarshal(raw, &set); err == nil {
			return set
		}
		// A corrupt entry falls through to a fresh source read.
		r.logger.Warn("script cache: corrupt redis entry", "tenant_id", tenantID)
	} else if err != redis.Nil {
		r.logger.Error("script cache: redis read failed", "tenant_id", tenantID, "error", err)
	}

	set, err := r.source.ActiveScriptsByTrigger(ctx, tenantID)
	if err != nil {
		r.logger.Error("script cache: source read failed, serving zero rules",
			"tenant_id", tenantID, "error", err)
		return rules.ScriptSet{}
	}

	if raw, err := json.Marshal(set); err == nil {
		if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
			r.logger.Warn("script cache: redis populate failed", "tenant_id", tenantID, "error", err)
		}
	}

	return set
}

// Invalidate deletes one tenant's entry. Delete failures are logged and
// otherwise ignored: the entry still expires at the TTL.
func (r *Redis) Invalidate(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Del(ctx, keyPrefix+tenantID).Err(); err != nil {
		r.logger.Warn("script cache: redis invalidate failed", "tenant_id", tenantID, "error", err)
	}
}

// InvalidateAll deletes every script-cache key via SCAN, so a shared Redis
// instance is never flushed wholesale.
func (r *Redis) InvalidateAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("script cache: redis invalidate failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("script cache: redis scan failed", "error", err)
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
