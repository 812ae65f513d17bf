package store

import (
	"context"
	"log/slog"
	"time"

	platformredis "custodia/internal/platform/redis"
	id "custodia/pkg/domain"
)

// tailTTL bounds staleness if an invalidation is ever missed; the cache is
// advisory so a short horizon is enough.
const tailTTL = 10 * time.Minute

// RedisTailCache keeps the per-item tail digest in Redis so hot append and
// verification paths skip the ordered-list read. Failures degrade to the
// authoritative store silently.
type RedisTailCache struct {
	client *platformredis.Client
	logger *slog.Logger
}

func NewRedisTailCache(client *platformredis.Client, logger *slog.Logger) *RedisTailCache {
	return &RedisTailCache{client: client, logger: logger}
}

func (c *RedisTailCache) GetTail(ctx context.Context, itemID id.ItemID) (id.Digest, bool) {
	val, err := c.client.Get(ctx, tailKey(itemID)).Result()
	if err != nil {
		return id.ZeroDigest, false
	}
	digest, err := id.ParseDigest(val)
	if err != nil {
		c.logger.WarnContext(ctx, "tail cache entry corrupt, ignoring",
			"item_id", itemID,
			"error", err,
		)
		return id.ZeroDigest, false
	}
	return digest, true
}

func (c *RedisTailCache) SetTail(ctx context.Context, itemID id.ItemID, digest id.Digest) {
	if err := c.client.Set(ctx, tailKey(itemID), digest.String(), tailTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "tail cache write failed",
			"item_id", itemID,
			"error", err,
		)
	}
}

func tailKey(itemID id.ItemID) string {
	return "custodia:chain:tail:" + itemID.String()
}
