package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// historyRetention bounds how long recorded chat history is kept.
const historyRetention = 7 * 24 * time.Hour

// DailyResetter clears activity state when the calendar day changes.
type DailyResetter interface {
	ResetIfNewDay(ctx context.Context, now time.Time) bool
}

// Maintainer sweeps expired workflow state.
type Maintainer interface {
	RunPeriodicMaintenance(ctx context.Context)
}

// HistoryPruner deletes recorded chat history older than a cutoff.
type HistoryPruner interface {
	PruneChannelMessages(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler drives the periodic housekeeping of the running bot.
type Scheduler struct {
	resetter DailyResetter
	workflow Maintainer
	history  HistoryPruner
	log      *slog.Logger
	now      func() time.Time

	resetTick time.Duration
	sweepTick time.Duration
}

// New creates a Scheduler that sweeps every sweepInterval and checks for a
// day change every minute. Any collaborator may be nil.
func New(r DailyResetter, m Maintainer, h HistoryPruner, sweepInterval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Scheduler{
		resetter:  r,
		workflow:  m,
		history:   h,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
		resetTick: time.Minute,
		sweepTick: sweepInterval,
	}
}

// SetTickIntervals overrides the day-change and sweep intervals.
func (s *Scheduler) SetTickIntervals(reset, sweep time.Duration) {
	s.resetTick = reset
	s.sweepTick = sweep
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkDay(ctx)
	s.sweep(ctx)

	resetTicker := time.NewTicker(s.resetTick)
	defer resetTicker.Stop()
	sweepTicker := time.NewTicker(s.sweepTick)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resetTicker.C:
			s.checkDay(ctx)
		case <-sweepTicker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) checkDay(ctx context.Context) {
	if s.resetter == nil {
		return
	}
	if s.resetter.ResetIfNewDay(ctx, s.now()) {
		s.log.Info("activity state reset for new day")
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if s.workflow != nil {
		s.workflow.RunPeriodicMaintenance(ctx)
	}
	if s.history == nil {
		return
	}
	n, err := s.history.PruneChannelMessages(ctx, s.now().Add(-historyRetention))
	if err != nil {
		s.log.Error("prune chat history", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("pruned chat history", "rows", n)
	}
}
