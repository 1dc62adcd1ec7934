package imagestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imgrelay/internal/observability"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// SweeperConfig controls how long references live and how often they are swept.
type SweeperConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

// Sweeper periodically removes records older than the retention window.
type Sweeper struct {
	store   *Store
	config  SweeperConfig
	logger  *observability.Logger
	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
	started bool

	// Now is the clock used to age records.
	Now func() time.Time
}

// NewSweeper creates a sweeper for store. Zero config values fall back to the
// 24h retention and hourly interval.
func NewSweeper(store *Store, config SweeperConfig, logger *observability.Logger) *Sweeper {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: observability.OrNop(logger).With("component", "sweeper"),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		Now:    time.Now,
	}
}

// Sweep runs one pass and returns the number of removed records.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	removed := s.store.DeleteCreatedBefore(ctx, now.Add(-s.config.Retention))
	if removed > 0 {
		s.logger.Info("expired image references removed", "removed", removed, "remaining", s.store.Len())
	} else {
		s.logger.Debug("sweep found nothing to expire", "remaining", s.store.Len())
	}
	return removed
}

// Start schedules the sweep on the configured interval.
func (s *Sweeper) Start() error {
	if s == nil || s.store == nil {
		return errors.New("sweeper requires store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.started = true
	s.logger.Info("sweeper started", "interval", s.config.Interval.String(), "retention", s.config.Retention.String())
	return nil
}

// Stop unschedules the sweep and waits for a running pass to finish. Safe to
// call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Remove(s.entryID)
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("sweeper stopped")
}
