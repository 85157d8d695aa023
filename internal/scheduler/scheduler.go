// Package scheduler runs the periodic jobs: daily phase advance and next-week
// plan prefetch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/shared"
)

// Calendar is the part of the phase calendar the jobs use.
type Calendar interface {
	AdvanceAll(ctx context.Context, today time.Time) (int, error)
	UsersWithActivePhase(ctx context.Context) ([]string, error)
	Current(ctx context.Context, userID string) ([]phase.Phase, error)
}

// WeekEnsurer creates week plans.
type WeekEnsurer interface {
	EnsureWeekPlan(ctx context.Context, userID string, weekStart time.Time) (*planner.WeekPlan, error)
}

// Options configures the job schedules (standard 5-field cron specs).
type Options struct {
	AdvanceSpec         string
	PrefetchSpec        string
	PrefetchConcurrency int
	JobTimeout          time.Duration
}

// Scheduler runs jobs in the program timezone.
type Scheduler struct {
	cron     *cron.Cron
	calendar Calendar
	ensurer  WeekEnsurer
	loc      *time.Location
	opts     Options
	log      *logger.Logger
	now      func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(calendar Calendar, ensurer WeekEnsurer, loc *time.Location, opts Options, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if opts.AdvanceSpec == "" {
		opts.AdvanceSpec = "5 0 * * *"
	}
	if opts.PrefetchSpec == "" {
		opts.PrefetchSpec = "30 2 * * *"
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = 2
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Hour
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		calendar: calendar,
		ensurer:  ensurer,
		loc:      loc,
		opts:     opts,
		log:      log.With("component", "Scheduler"),
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.AdvanceSpec, s.job("phase-advance", func(ctx context.Context) error {
		moved, err := s.AdvancePhases(ctx)
		s.log.Info("phase advance finished", "moved", moved)
		return err
	})); err != nil {
		return fmt.Errorf("failed to schedule phase advance: %w", err)
	}
	if _, err := s.cron.AddFunc(s.opts.PrefetchSpec, s.job("week-prefetch", func(ctx context.Context) error {
		generated, err := s.PrefetchNextWeek(ctx)
		s.log.Info("week prefetch finished", "generated", generated)
		return err
	})); err != nil {
		return fmt.Errorf("failed to schedule week prefetch: %w", err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", "advance", s.opts.AdvanceSpec, "prefetch", s.opts.PrefetchSpec, "timezone", s.loc.String())
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", name, "error", err)
		}
	}
}

// AdvancePhases moves every calendar whose active phase has ended.
func (s *Scheduler) AdvancePhases(ctx context.Context) (int, error) {
	return s.calendar.AdvanceAll(ctx, shared.DateIn(s.now(), s.loc))
}

// PrefetchNextWeek generates next week's plan for every user who can already
// see it. Skips and failures are per user and never stop the run.
func (s *Scheduler) PrefetchNextWeek(ctx context.Context) (int, error) {
	users, err := s.calendar.UsersWithActivePhase(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	runStarted := time.Now()
	nextWeek := shared.WeekStart(shared.DateIn(now, s.loc)).AddDate(0, 0, shared.DaysPerWeek)

	var generated atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.PrefetchConcurrency)
	for _, userID := range users {
		g.Go(func() error {
			ok, err := s.prefetchUser(gctx, userID, now, runStarted, nextWeek)
			if err != nil {
				s.log.Warn("week prefetch failed", "user_id", userID, "week_start", shared.FormatDate(nextWeek), "error", err)
			}
			if ok {
				generated.Add(1)
			}
			return gctx.Err()
		})
	}
	err = g.Wait()
	return int(generated.Load()), err
}

// prefetchUser reports whether this run created the user's plan. A plan
// created before runStarted was already stored.
func (s *Scheduler) prefetchUser(ctx context.Context, userID string, now, runStarted, weekStart time.Time) (bool, error) {
	phases, err := s.calendar.Current(ctx, userID)
	if err != nil {
		return false, err
	}
	b, err := access.BoundaryFor(phases, weekStart, s.loc)
	if err != nil {
		return false, err
	}
	if d := access.Evaluate(now, weekStart, b); !d.Allowed {
		s.log.Debug("next week still locked", "user_id", userID, "unlock_at", d.UnlockAt, "reason", d.Reason)
		return false, nil
	}

	plan, err := s.ensurer.EnsureWeekPlan(ctx, userID, weekStart)
	switch {
	case errors.Is(err, shared.ErrGenerationInProgress), errors.Is(err, shared.ErrUserAuthoredWeek):
		s.log.Debug("week prefetch skipped", "user_id", userID, "reason", err)
		return false, nil
	case err != nil:
		return false, err
	}
	return plan != nil && !plan.CreatedAt.Before(runStarted), nil
}
