package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	graphCachePrefix  = "flowgraph:"
	defaultGraphTTL   = time.Minute
	flushScanPageSize = 100
)

type cachedGraph struct {
	ActivationID string          `json:"activation_id"`
	Graph        json.RawMessage `json:"graph"`
}

// GraphCache is a read-through cache in front of another graph source.
// Redis failures degrade to the wrapped source.
type GraphCache struct {
	client *Client
	source domain.GraphSource
	ttl    time.Duration
}

// NewGraphCache wraps source; ttl <= 0 uses one minute
func NewGraphCache(client *Client, source domain.GraphSource, ttl time.Duration) *GraphCache {
	if ttl <= 0 {
		ttl = defaultGraphTTL
	}
	return &GraphCache{client: client, source: source, ttl: ttl}
}

func graphKey(tenantID string) string {
	return graphCachePrefix + tenantID
}

// ActiveGraph serves the tenant's graph from cache, loading it on a miss
func (c *GraphCache) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	if g, ok := c.get(ctx, tenantID); ok {
		return g, nil
	}

	active, err := c.source.ActiveGraph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, active)
	return active, nil
}

func (c *GraphCache) get(ctx context.Context, tenantID string) (*domain.ActiveGraph, bool) {
	data, err := c.client.rdb.Get(ctx, graphKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Graph cache read failed")
		}
		return nil, false
	}

	var entry cachedGraph
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Discarding corrupt graph cache entry")
		return nil, false
	}
	graph, err := domain.ParseGraph(entry.Graph)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Discarding corrupt graph cache entry")
		return nil, false
	}
	return &domain.ActiveGraph{ActivationID: entry.ActivationID, TenantID: tenantID, Graph: graph}, true
}

func (c *GraphCache) set(ctx context.Context, active *domain.ActiveGraph) {
	raw, err := json.Marshal(active.Graph)
	if err != nil {
		return
	}
	data, err := json.Marshal(cachedGraph{ActivationID: active.ActivationID, Graph: raw})
	if err != nil {
		return
	}
	if err := c.client.rdb.Set(ctx, graphKey(active.TenantID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", active.TenantID).Msg("Graph cache write failed")
	}
}

// Invalidate drops the cached graph of a tenant
func (c *GraphCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.rdb.Del(ctx, graphKey(tenantID)).Err()
}

// FlushAll removes every cached graph
func (c *GraphCache) FlushAll(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, graphCachePrefix+"*", flushScanPageSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
