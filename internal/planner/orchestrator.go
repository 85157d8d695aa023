package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ikonga-nutrition/internal/genlock"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/profile"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/shared"
)

// userAuthoredThreshold is the number of day overrides from which a week is
// left to its author and never generated.
const userAuthoredThreshold = 4

// PhaseSource finds the phase covering a date in a user's current calendar.
type PhaseSource interface {
	Covering(ctx context.Context, userID string, date time.Time) (*phase.Phase, error)
}

// RecipeWarmer resolves a dish to its recipe, generating it on a miss.
type RecipeWarmer interface {
	GetOrGenerate(ctx context.Context, name string, p phase.Type) (*recipe.Detail, error)
}

// Options tunes the orchestrator.
type Options struct {
	GenerationTimeout time.Duration
	RecipeFanout      int
	// BackgroundFanout returns the week plan without waiting for recipes.
	BackgroundFanout bool
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Plans     *WeekPlanRepository
	Overrides *DayOverrideRepository
	Phases    PhaseSource
	Program   *phase.Program
	Profiles  profile.Source
	Generator WeekGenerator
	Recipes   RecipeWarmer
	Locker    genlock.Locker
	Usage     recipe.UsageRecorder
}

// Orchestrator guarantees at most one in-flight generation per (user, week)
// and persists its result with create-if-absent semantics.
type Orchestrator struct {
	Deps
	opts Options
	log  *logger.Logger
	bg   sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps Deps, opts Options, log *logger.Logger) *Orchestrator {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 90 * time.Second
	}
	if opts.RecipeFanout <= 0 {
		opts.RecipeFanout = 4
	}
	return &Orchestrator{
		Deps: deps,
		opts: opts,
		log:  log.With("component", "GenerationOrchestrator"),
	}
}

type generation struct {
	content WeekContent
	meta    shared.AgentMeta
	err     error
}

// EnsureWeekPlan returns the user's plan for the week containing weekStart,
// generating it when absent.
//
// It fails with shared.ErrGenerationInProgress when another caller is generating
// the same week, shared.ErrUserAuthoredWeek when day overrides already cover most
// of the week, shared.ErrLockTimeout when the generation exceeds its bound and
// shared.ErrGeneration when the service fails. Nothing is persisted on failure.
func (o *Orchestrator) EnsureWeekPlan(ctx context.Context, userID string, weekStart time.Time) (*WeekPlan, error) {
	weekStart = shared.WeekStart(weekStart)

	if existing, err := o.Plans.Get(ctx, userID, weekStart); err != nil || existing != nil {
		return existing, err
	}

	key := genlock.WeekKey(userID, weekStart)
	release, acquired, err := o.Locker.TryLock(ctx, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		metrics.ObserveGenerationSkip("in_progress")
		return nil, fmt.Errorf("week %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrGenerationInProgress)
	}
	// An abandoned generation keeps the key until its call returns.
	held := true
	defer func() {
		if held {
			release()
		}
	}()

	// A concurrent holder may have finished between the first read and the lock.
	if existing, err := o.Plans.Get(ctx, userID, weekStart); err != nil || existing != nil {
		return existing, err
	}

	authored, err := o.Overrides.CountInRange(ctx, userID, weekStart, weekStart.AddDate(0, 0, shared.DaysPerWeek))
	if err != nil {
		return nil, err
	}
	if authored >= userAuthoredThreshold {
		metrics.ObserveGenerationSkip("user_authored")
		o.log.Info("week left to user overrides", "user_id", userID, "week_start", shared.FormatDate(weekStart), "overrides", authored)
		return nil, fmt.Errorf("week %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrUserAuthoredWeek)
	}

	ph, err := o.weekPhase(ctx, userID, weekStart)
	if err != nil {
		return nil, err
	}
	constraints, err := o.Program.ConstraintsFor(ph.Type)
	if err != nil {
		return nil, err
	}
	snapshot, err := o.Profiles.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	content, abandoned, err := o.generate(ctx, userID, weekStart, snapshot, constraints, release)
	if abandoned {
		held = false
	}
	if err != nil {
		return nil, err
	}

	plan := WeekPlan{
		UserID:    userID,
		WeekStart: weekStart,
		PhaseType: ph.Type,
		Content:   content,
	}
	created, err := o.Plans.CreateIfAbsent(ctx, plan)
	if err != nil {
		return nil, err
	}
	stored, err := o.Plans.Get(ctx, userID, weekStart)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("week plan %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrNotFoundTransient)
	}
	if created {
		o.log.Info("week plan generated", "user_id", userID, "week_start", shared.FormatDate(weekStart), "phase", ph.Type)
		o.warmRecipes(ctx, stored)
	}
	return stored, nil
}

// generate runs the generator under the configured timeout. Once the deadline
// passes or ctx is cancelled the call is abandoned, not awaited: abandoned is
// true and release runs when the generator returns.
func (o *Orchestrator) generate(ctx context.Context, userID string, weekStart time.Time, snapshot profile.Snapshot, constraints phase.Constraints, release func()) (WeekContent, bool, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan generation, 1)
	go func() {
		content, meta, err := o.Generator.GenerateWeek(genCtx, snapshot, constraints)
		done <- generation{content: content, meta: meta, err: err}
	}()

	var res generation
	select {
	case res = <-done:
	case <-genCtx.Done():
		o.bg.Add(1)
		go func() {
			defer o.bg.Done()
			late := <-done
			o.recordUsage(ctx, late.meta)
			release()
			o.log.Debug("abandoned week generation returned", "user_id", userID, "week_start", shared.FormatDate(weekStart))
		}()
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.ObserveGeneration("week", "timeout", time.Since(start))
			o.log.Warn("week generation timed out", "user_id", userID, "week_start", shared.FormatDate(weekStart), "timeout", o.opts.GenerationTimeout)
			return WeekContent{}, true, fmt.Errorf("week %s for user %s after %s: %w", shared.FormatDate(weekStart), userID, o.opts.GenerationTimeout, shared.ErrLockTimeout)
		}
		metrics.ObserveGeneration("week", "cancelled", time.Since(start))
		return WeekContent{}, true, ctx.Err()
	}
	o.recordUsage(ctx, res.meta)

	if res.err != nil && ctx.Err() != nil {
		metrics.ObserveGeneration("week", "cancelled", time.Since(start))
		return WeekContent{}, false, ctx.Err()
	}
	if res.err != nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		metrics.ObserveGeneration("week", "timeout", time.Since(start))
		return WeekContent{}, false, fmt.Errorf("week %s for user %s after %s: %w", shared.FormatDate(weekStart), userID, o.opts.GenerationTimeout, shared.ErrLockTimeout)
	}
	if res.err != nil {
		metrics.ObserveGeneration("week", "error", time.Since(start))
		o.log.Error("week generation failed", "user_id", userID, "week_start", shared.FormatDate(weekStart), "error", res.err)
		if errors.Is(res.err, shared.ErrGeneration) {
			return WeekContent{}, false, res.err
		}
		return WeekContent{}, false, fmt.Errorf("%w: %v", shared.ErrGeneration, res.err)
	}
	if err := res.content.Validate(); err != nil {
		metrics.ObserveGeneration("week", "error", time.Since(start))
		return WeekContent{}, false, fmt.Errorf("%w: %v", shared.ErrGeneration, err)
	}
	metrics.ObserveGeneration("week", "ok", time.Since(start))
	return res.content, false, nil
}

// weekPhase returns the first phase of the current calendar covering a day of the week.
func (o *Orchestrator) weekPhase(ctx context.Context, userID string, weekStart time.Time) (*phase.Phase, error) {
	for i := 0; i < shared.DaysPerWeek; i++ {
		p, err := o.Phases.Covering(ctx, userID, weekStart.AddDate(0, 0, i))
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("week %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrNoActivePhase)
}

// warmRecipes submits every distinct dish of the plan to the recipe cache.
// Failures are logged and never affect the plan.
func (o *Orchestrator) warmRecipes(ctx context.Context, plan *WeekPlan) {
	if o.Recipes == nil {
		return
	}
	names := plan.Content.DishNames()
	run := func(ctx context.Context) {
		var g errgroup.Group
		g.SetLimit(o.opts.RecipeFanout)
		for _, name := range names {
			g.Go(func() error {
				if _, err := o.Recipes.GetOrGenerate(ctx, name, plan.PhaseType); err != nil {
					o.log.Warn("recipe warm-up failed", "dish", name, "phase", plan.PhaseType, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
		o.log.Debug("recipe warm-up finished", "user_id", plan.UserID, "week_start", shared.FormatDate(plan.WeekStart), "dishes", len(names))
	}

	if !o.opts.BackgroundFanout {
		run(ctx)
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		run(context.WithoutCancel(ctx))
	}()
}

// Wait blocks until background recipe warm-ups have finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

func (o *Orchestrator) recordUsage(ctx context.Context, meta shared.AgentMeta) {
	if o.Usage == nil {
		return
	}
	if err := o.Usage.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
		o.log.Warn("failed to record generation usage", "error", err)
	}
}
