package telegram

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFileCacheSize = 1024
	// Download links stay valid for at least an hour.
	DefaultFileCacheTTL = 50 * time.Minute
)

// FileCache remembers resolved file paths and collapses concurrent
// resolutions of the same reference into one call.
type FileCache struct {
	paths *expirable.LRU[string, string]
	group singleflight.Group
}

// NewFileCache builds a cache holding up to size paths for ttl each.
func NewFileCache(size int, ttl time.Duration) *FileCache {
	if size <= 0 {
		size = DefaultFileCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultFileCacheTTL
	}
	return &FileCache{
		paths: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Resolve returns the cached path for fileRef or calls fetch once for all
// concurrent callers. Failures are not cached.
func (c *FileCache) Resolve(ctx context.Context, fileRef string, fetch func() (string, error)) (string, error) {
	if path, ok := c.paths.Get(fileRef); ok {
		return path, nil
	}

	ch := c.group.DoChan(fileRef, func() (interface{}, error) {
		path, err := fetch()
		if err != nil {
			return "", err
		}
		c.paths.Add(fileRef, path)
		return path, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Len reports how many paths are cached.
func (c *FileCache) Len() int {
	return c.paths.Len()
}
