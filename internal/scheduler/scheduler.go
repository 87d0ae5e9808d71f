// Package scheduler starts cuelist sessions on cron schedules in serve
// mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/observability"
)

// StartFunc launches a session for the named cuelist. It returns an error
// when a session is already running or the cuelist is unknown.
type StartFunc func(ctx context.Context, cuelist string) error

// Scheduler checks configured schedules once per sync interval and fires
// the start callback for any that are due.
type Scheduler struct {
	mu sync.Mutex

	schedules []config.ScheduleConfig
	start     StartFunc
	logger    *slog.Logger
	parser    cron.Parser

	syncInterval time.Duration
	lastFired    map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the configured schedule list.
func New(schedules []config.ScheduleConfig, start StartFunc) *Scheduler {
	return &Scheduler{
		schedules:    schedules,
		start:        start,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval: time.Minute,
		lastFired:    make(map[string]time.Time),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// WithSyncInterval overrides how often schedules are checked.
func (s *Scheduler) WithSyncInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.syncInterval = d
	}
	return s
}

// Start begins the background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Int("schedules", len(s.schedules)),
		slog.Duration("sync_interval", s.syncInterval))
	return nil
}

// Stop stops the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	s.checkSchedules()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkSchedules()
		}
	}
}

// checkSchedules fires every due schedule, at most once per sync window.
func (s *Scheduler) checkSchedules() {
	now := time.Now()
	for _, sched := range s.schedules {
		if !s.isDue(sched.Cron, now) {
			continue
		}
		s.mu.Lock()
		last, fired := s.lastFired[sched.Cuelist]
		if fired && now.Sub(last) < s.syncInterval {
			s.mu.Unlock()
			continue
		}
		s.lastFired[sched.Cuelist] = now
		s.mu.Unlock()

		s.logger.Info("schedule due, starting session",
			slog.String("cuelist", sched.Cuelist),
			slog.String("cron", sched.Cron))
		if err := s.start(s.ctx, sched.Cuelist); err != nil {
			s.logger.Warn("scheduled session did not start",
				slog.String("cuelist", sched.Cuelist),
				slog.String("error", err.Error()))
		}
	}
}

// isDue reports whether the expression fires within the current sync
// window.
func (s *Scheduler) isDue(expr string, now time.Time) bool {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		s.logger.Warn("invalid cron expression",
			slog.String("cron", expr),
			slog.String("error", err.Error()))
		return false
	}
	next := schedule.Next(now.Add(-s.syncInterval))
	return !next.After(now)
}

// NextRun returns when the expression next fires.
func (s *Scheduler) NextRun(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
