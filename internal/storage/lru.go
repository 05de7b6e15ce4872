package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/maneesh/quotadrive/internal/metrics"
	"github.com/maneesh/quotadrive/internal/models"
)

// LRUCache is an in-process FileCache used when Redis is disabled. Each
// instance has its own cache, so it only suits single-instance deployments.
type LRUCache struct {
	cache *expirable.LRU[string, models.File]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{cache: expirable.NewLRU[string, models.File](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, fileID string) (*models.File, error) {
	file, ok := c.cache.Get(fileID)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	metrics.CacheHits.Inc()
	return cloneFile(&file), nil
}

func (c *LRUCache) Set(_ context.Context, file *models.File) error {
	c.cache.Add(file.ID, *cloneFile(file))
	return nil
}

func (c *LRUCache) Invalidate(_ context.Context, fileIDs ...string) error {
	for _, id := range fileIDs {
		c.cache.Remove(id)
	}
	return nil
}

// cloneFile copies a file including its folder reference so callers cannot
// mutate cached entries.
func cloneFile(file *models.File) *models.File {
	cp := *file
	if file.Folder != nil {
		ref := *file.Folder
		cp.Folder = &ref
	}
	return &cp
}
