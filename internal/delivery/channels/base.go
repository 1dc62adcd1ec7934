package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"imgrelay/internal/shared/async"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BaseConfig holds the config fields shared by every channel gateway.
type BaseConfig struct {
	ReplyTimeout time.Duration
}

// BaseGateway provides helpers shared by every channel gateway.
type BaseGateway struct {
	tasks sync.WaitGroup
}

// Go runs fn on its own goroutine and tracks it for Wait. A panic in fn is
// reported to logger and still releases Wait.
func (g *BaseGateway) Go(logger async.PanicLogger, name string, fn func()) {
	g.tasks.Add(1)
	async.Go(logger, name, func() {
		defer g.tasks.Done()
		fn()
	})
}

// Wait blocks until every goroutine started with Go has returned.
func (g *BaseGateway) Wait() {
	g.tasks.Wait()
}

// ApplyTimeout wraps ctx with a deadline if cfg.ReplyTimeout > 0.
// The returned cancel function must be deferred by the caller.
func ApplyTimeout(ctx context.Context, cfg BaseConfig) (context.Context, context.CancelFunc) {
	if cfg.ReplyTimeout > 0 {
		return context.WithTimeout(ctx, cfg.ReplyTimeout)
	}
	return ctx, func() {}
}

// Deduper remembers recently seen keys so redelivered events are handled once.
type Deduper[K comparable] struct {
	mu    sync.Mutex
	cache *lru.Cache[K, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

// NewDeduper keeps up to size keys, each considered a duplicate for ttl.
func NewDeduper[K comparable](size int, ttl time.Duration) (*Deduper[K], error) {
	cache, err := lru.New[K, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("deduper init: %w", err)
	}
	return &Deduper[K]{cache: cache, ttl: ttl, now: time.Now}, nil
}

// Seen records key and reports whether it was already recorded within the ttl.
func (d *Deduper[K]) Seen(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.cache.Get(key); ok {
		if now.Sub(ts) <= d.ttl {
			return true
		}
		d.cache.Remove(key)
	}
	d.cache.Add(key, now)
	return false
}

// SetClock replaces the clock used to age keys.
func (d *Deduper[K]) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}
