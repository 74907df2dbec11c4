// Package scheduler runs the four named jobs from spec §4.10 off named
// tickers on one Run(ctx) loop, with at-most-one-concurrent-instance-per-job
// and "missed fires run once then skip" catch-up semantics.
//
// A single 1-second ticker drives the Run loop, which checks every job's
// next fire time on each tick and also selects on ctx.Done.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/clock"
)

// JobName identifies one of the four named jobs.
type JobName string

const (
	JobDailyEvaluation  JobName = "daily_evaluation"
	JobHeartbeat        JobName = "heartbeat"
	JobSessionStartReset JobName = "session_start_reset"
	JobDailySummary     JobName = "daily_summary"
)

// Handlers wires each job name to the work it performs. Every handler
// receives ctx and should return promptly; long work should hand off to
// another worker rather than blocking the scheduler loop.
type Handlers struct {
	DailyEvaluation  func(ctx context.Context)
	Heartbeat        func(ctx context.Context)
	SessionStartReset func(ctx context.Context)
	DailySummary     func(ctx context.Context)
}

// Scheduler fires the four named jobs at their spec-mandated times.
type Scheduler struct {
	clock    *clock.Clock
	handlers Handlers
	logger   *zap.Logger

	mu      sync.Mutex
	running map[JobName]bool
	lastRun map[JobName]time.Time
}

// New constructs a Scheduler.
func New(c *clock.Clock, handlers Handlers, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		clock:    c,
		handlers: handlers,
		logger:   logger,
		running:  make(map[JobName]bool),
		lastRun:  make(map[JobName]time.Time),
	}
}

// Run blocks, polling once per second to detect each job's fire time. A
// one-second poll (rather than one ticker per exact wall-clock time) is
// what makes "missed fires run exactly once at the next start" simple:
// on startup, the first poll naturally fires any job whose time has
// already passed today and that has not run yet today.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("scheduler starting")
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Info("scheduler shutting down")
			}
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick evaluates every job's due-ness against now and fires any that are
// due. Exported so tests can drive the scheduler with controlled instants
// instead of real wall-clock time.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.maybeRun(ctx, JobHeartbeat, now, s.heartbeatDue, s.handlers.Heartbeat)
	s.maybeRun(ctx, JobSessionStartReset, now, s.sessionStartDue, s.handlers.SessionStartReset)
	s.maybeRun(ctx, JobDailyEvaluation, now, s.dailyEvaluationDue, s.handlers.DailyEvaluation)
	s.maybeRun(ctx, JobDailySummary, now, s.dailySummaryDue, s.handlers.DailySummary)
}

type dueFunc func(now, lastRun time.Time) bool

// maybeRun enforces at-most-one-concurrent-instance-per-job-name and the
// once-per-day firing discipline for the three calendar jobs; heartbeat's
// dueFunc is interval-based instead of calendar-based.
func (s *Scheduler) maybeRun(ctx context.Context, name JobName, now time.Time, due dueFunc, handler func(context.Context)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return
	}
	last := s.lastRun[name]
	if !due(now, last) {
		s.mu.Unlock()
		return
	}
	s.running[name] = true
	s.lastRun[name] = now
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running[name] = false
			s.mu.Unlock()
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("scheduler: job panicked", zap.String("job", string(name)), zap.Any("panic", r))
			}
		}()
		handler(ctx)
	}()
}

const heartbeatInterval = 30 * time.Second

func (s *Scheduler) heartbeatDue(now, lastRun time.Time) bool {
	return now.Sub(lastRun) >= heartbeatInterval
}

func (s *Scheduler) sessionStartDue(now, lastRun time.Time) bool {
	return s.calendarJobDue(now, lastRun, 9*time.Hour+30*time.Minute)
}

func (s *Scheduler) dailyEvaluationDue(now, lastRun time.Time) bool {
	return s.calendarJobDue(now, lastRun, 16*time.Hour+5*time.Minute)
}

func (s *Scheduler) dailySummaryDue(now, lastRun time.Time) bool {
	return s.calendarJobDue(now, lastRun, 16*time.Hour+30*time.Minute)
}

// calendarJobDue fires once per trading day at-or-after the target
// time-of-day, and at most once: if lastRun already falls on today's
// calendar date, it does not fire again even if the process restarted
// after the target time (missed fires catch up once, then skip — they
// never replay a slot already consumed today).
func (s *Scheduler) calendarJobDue(now, lastRun time.Time, targetOffset time.Duration) bool {
	loc := now.Location()
	if !s.clock.IsTradingDay(now) {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if sameDay(lastRun, today) {
		return false
	}
	sinceMidnight := now.Sub(today)
	return sinceMidnight >= targetOffset
}

func sameDay(t, dayStart time.Time) bool {
	if t.IsZero() {
		return false
	}
	y1, m1, d1 := t.Date()
	y2, m2, d2 := dayStart.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
