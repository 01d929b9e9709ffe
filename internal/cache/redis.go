package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hjunqq/hydrosim-platform/internal/status"
)

const (
	statusKey = "portal:status:all"
	statusTTL = 5 * time.Second
)

// StatusCache backs the bulk status aggregator with a short-TTL redis
// entry. Misses and redis failures fall through to the cluster; the cache
// only absorbs the admin list view's polling.
type StatusCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewStatusCache(addr, password string, logger *logrus.Logger) *StatusCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &StatusCache{client: client, logger: logger}
}

func (c *StatusCache) GetStatuses(ctx context.Context) (map[string]status.WorkloadStatus, bool) {
	payload, err := c.client.Get(ctx, statusKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Status cache read failed")
		}
		return nil, false
	}

	var statuses map[string]status.WorkloadStatus
	if err := json.Unmarshal(payload, &statuses); err != nil {
		c.logger.WithError(err).Warn("Dropping undecodable status cache entry")
		return nil, false
	}
	return statuses, true
}

func (c *StatusCache) SetStatuses(ctx context.Context, statuses map[string]status.WorkloadStatus) {
	payload, err := json.Marshal(statuses)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statusKey, payload, statusTTL).Err(); err != nil {
		c.logger.WithError(err).Debug("Status cache write failed")
	}
}

// Ping verifies connectivity at startup.
func (c *StatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
