package media

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/pkg/logger"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

// Sweeper periodically removes uploads older than the retention period.
type Sweeper struct {
	cron      *cron.Cron
	store     *Store
	retention time.Duration
	logger    *logger.Logger
}

// NewSweeper schedules a sweep of store. schedule accepts standard cron
// expressions and descriptors such as "@every 15m".
func NewSweeper(store *Store, schedule string, retention time.Duration, log *logger.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		logger:    log,
	}
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Run performs one sweep.
func (s *Sweeper) Run() {
	removed, err := s.store.Sweep(s.retention)
	if removed > 0 {
		metrics.ImagesSwept.Add(float64(removed))
	}
	if err != nil {
		s.logger.Warn("Upload sweep incomplete", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Upload sweep", zap.Int("removed", removed))
	}
}
