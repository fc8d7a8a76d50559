package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the cache sweep every minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically evicts expired sessions from the cache.
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	logger *slog.Logger
}

// NewSweeper schedules Store.Sweep on the given cron spec.
func NewSweeper(store *Store, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{cron: cron.New(), store: store, logger: logger}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("schedule session sweep %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if n := s.store.Sweep(); n > 0 {
		s.logger.Debug("expired sessions evicted", "count", n, "cached", s.store.Stats().Cached)
	}
}

// Run starts the schedule and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
