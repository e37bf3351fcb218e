// Package statuscache implements the optional secondary status cache
// (C9): a read-through cache of StatusSummary projections for external
// observability consumers that poll rather than subscribe to
// workflow.status. The registry remains the source of truth; this cache
// is populated opportunistically after a snapshot() read and is never
// consulted on the scheduler's hot completion path.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gebz97/dyno/internal/config"
	"github.com/gebz97/dyno/internal/domain"
)

// TTL bounds how long a cached summary is trusted before a poller should
// treat it as stale; a workflow's terminal summary is written once with
// this TTL rather than held indefinitely.
const TTL = 5 * time.Minute

// Cache wraps a redis client scoped to StatusSummary projections.
type Cache struct {
	client *redis.Client
}

// New connects to the status cache's Redis instance. Returns an error if
// the initial ping fails; callers in the coordinator's startup path treat
// that as non-fatal when status_cache.enabled is true but Redis is
// unreachable (the cache is observability sugar, never a gate).
func New(cfg config.StatusCacheConfig) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing status cache redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to status cache redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Put writes summary under workflow_id with TTL expiry. Errors are
// returned for the caller to log; a failed write never blocks scheduling.
func (c *Cache) Put(ctx context.Context, summary domain.StatusSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling status summary: %w", err)
	}
	return c.client.Set(ctx, cacheKey(summary.WorkflowID), data, TTL).Err()
}

// Get returns the cached summary for workflowID, or (zero, false, nil) on
// a cache miss. Any transport error is returned for the caller to log and
// fall back to the registry's live snapshot.
func (c *Cache) Get(ctx context.Context, workflowID string) (domain.StatusSummary, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(workflowID)).Bytes()
	if err == redis.Nil {
		return domain.StatusSummary{}, false, nil
	}
	if err != nil {
		return domain.StatusSummary{}, false, fmt.Errorf("reading status cache: %w", err)
	}

	var summary domain.StatusSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.StatusSummary{}, false, fmt.Errorf("decoding cached status summary: %w", err)
	}
	return summary, true, nil
}

func cacheKey(workflowID string) string {
	return "dyno:status:" + workflowID
}
