package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ResultCache keeps unpacked result payloads keyed by (image, method) so hot
// read endpoints skip the store. Entries are invalidated on every write for
// the pair.
type ResultCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewResultCache(client RedisClient, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

func resultKey(imageID int64, method string) string {
	return fmt.Sprintf("result:%d:%s", imageID, method)
}

func (c *ResultCache) Get(ctx context.Context, imageID int64, method string) (map[string]any, bool) {
	val, err := c.client.Get(ctx, resultKey(imageID, method))
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if json.Unmarshal([]byte(val), &m) != nil {
		return nil, false
	}
	return m, true
}

func (c *ResultCache) Store(ctx context.Context, imageID int64, method string, unpacked map[string]any) error {
	data, err := json.Marshal(unpacked)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKey(imageID, method), data, c.ttl)
}

func (c *ResultCache) Invalidate(ctx context.Context, imageID int64, method string) error {
	return c.client.Del(ctx, resultKey(imageID, method))
}
