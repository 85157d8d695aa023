// Package resolver decides what meal content a user sees for a date: it applies
// the access gate, then the override hierarchy (user, coach, generated), and
// triggers week generation when nothing exists yet.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/shared"
)

// Calendar returns a user's current phase calendar.
type Calendar interface {
	Current(ctx context.Context, userID string) ([]phase.Phase, error)
}

// DayOverrides reads user-level day content.
type DayOverrides interface {
	Get(ctx context.Context, userID string, date time.Time) (*planner.DayOverride, error)
}

// WeekPlans reads generated week plans.
type WeekPlans interface {
	Covering(ctx context.Context, userID string, date time.Time) (*planner.WeekPlan, error)
}

// WeekEnsurer creates the week plan when it is missing.
type WeekEnsurer interface {
	EnsureWeekPlan(ctx context.Context, userID string, weekStart time.Time) (*planner.WeekPlan, error)
}

// Recipes resolves dish names to recipes.
type Recipes interface {
	GetOrGenerate(ctx context.Context, name string, p phase.Type) (*recipe.Detail, error)
}

// Options tunes a Resolver.
type Options struct {
	// Location is the program timezone phase boundaries are computed in.
	Location *time.Location
	// ResolveWait bounds how long a request waits for a generation started by
	// another caller; PollInterval is how often it re-reads the store meanwhile.
	ResolveWait  time.Duration
	PollInterval time.Duration
	EnrichFanout int
	Now          func() time.Time
}

// DefaultResolveWait bounds how long a resolution waits for a week being
// generated by another caller.
const DefaultResolveWait = 20 * time.Second

// Resolver resolves day content. It never writes week plans or overrides itself.
type Resolver struct {
	calendar  Calendar
	overrides DayOverrides
	plans     WeekPlans
	ensurer   WeekEnsurer
	recipes   Recipes
	opts      Options
	log       *logger.Logger
}

// New creates a new Resolver.
func New(calendar Calendar, overrides DayOverrides, plans WeekPlans, ensurer WeekEnsurer, recipes Recipes, opts Options, log *logger.Logger) *Resolver {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ResolveWait <= 0 {
		opts.ResolveWait = DefaultResolveWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.EnrichFanout <= 0 {
		opts.EnrichFanout = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		calendar:  calendar,
		overrides: overrides,
		plans:     plans,
		ensurer:   ensurer,
		recipes:   recipes,
		opts:      opts,
		log:       log.With("component", "ContentResolver"),
	}
}

// Resolve returns a Resolved or Locked result, or an error when no content can be
// produced. Locked dates are answered from the calendar alone.
func (r *Resolver) Resolve(ctx context.Context, userID string, date time.Time) (Result, error) {
	date = shared.Day(date)

	phases, err := r.calendar.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	boundary, err := access.BoundaryFor(phases, date, r.opts.Location)
	if err != nil {
		return nil, err
	}
	if d := access.Evaluate(r.opts.Now(), date, boundary); !d.Allowed {
		return Locked{UnlockAt: d.UnlockAt, Reason: d.Reason}, nil
	}

	override, err := r.overrides.Get(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if override != nil {
		return Resolved{
			Date:   date,
			Source: SourceUser,
			Phase:  datePhase(phases, date),
			Menu:   r.enrich(ctx, override.Content, datePhase(phases, date)),
		}, nil
	}

	plan, err := r.plans.Covering(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		if plan, err = r.generate(ctx, userID, date); err != nil {
			return nil, err
		}
	}

	menu, _, err := plan.Day(shared.DayIndex(plan.WeekStart, date))
	if err != nil {
		return nil, err
	}
	return Resolved{
		Date:   date,
		Source: SourceCoach,
		Phase:  plan.PhaseType,
		Menu:   r.enrich(ctx, menu, plan.PhaseType),
	}, nil
}

// ResolveDayContent is the caller-facing form of Resolve: every failure becomes
// an Unavailable result.
func (r *Resolver) ResolveDayContent(ctx context.Context, userID string, date time.Time) Result {
	res, err := r.Resolve(ctx, userID, date)
	if err != nil {
		res = r.unavailable(userID, date, err)
	}

	source := ""
	if resolved, ok := res.(Resolved); ok {
		source = string(resolved.Source)
	}
	metrics.ObserveResolution(string(res.Status()), source)
	return res
}

// generate runs the orchestrator for the date's week and reads the plan back.
// When another caller is already generating, the store is polled instead.
func (r *Resolver) generate(ctx context.Context, userID string, date time.Time) (*planner.WeekPlan, error) {
	ensured, err := r.ensurer.EnsureWeekPlan(ctx, userID, shared.WeekStart(date))
	switch {
	case errors.Is(err, shared.ErrGenerationInProgress):
		return r.awaitPlan(ctx, userID, date)
	case err != nil:
		return nil, err
	}

	plan, err := r.plans.Covering(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		return plan, nil
	}
	if ensured != nil {
		return ensured, nil
	}
	return nil, fmt.Errorf("week of %s for user %s: %w", shared.FormatDate(date), userID, shared.ErrNotFoundTransient)
}

func (r *Resolver) awaitPlan(ctx context.Context, userID string, date time.Time) (*planner.WeekPlan, error) {
	deadline := time.NewTimer(r.opts.ResolveWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("week of %s for user %s: %w", shared.FormatDate(date), userID, shared.ErrNotFoundTransient)
		case <-ticker.C:
			plan, err := r.plans.Covering(ctx, userID, date)
			if err != nil {
				return nil, err
			}
			if plan != nil {
				return plan, nil
			}
		}
	}
}

// enrich attaches cached or freshly generated recipes to every dish. A dish whose
// recipe cannot be obtained stays a name-only placeholder.
func (r *Resolver) enrich(ctx context.Context, menu planner.DayMenu, p phase.Type) Menu {
	var (
		mu      sync.Mutex
		recipes = make(map[string]*recipe.Detail)
		g       errgroup.Group
	)
	g.SetLimit(r.opts.EnrichFanout)
	for _, name := range menu.DishNames() {
		g.Go(func() error {
			d, err := r.recipes.GetOrGenerate(ctx, name, p)
			if err != nil {
				r.log.Warn("dish left without recipe", "dish", name, "phase", p, "error", err)
				return nil
			}
			mu.Lock()
			recipes[recipe.NormalizeName(name)] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := Menu{Meals: make([]Meal, 0, len(menu.Meals))}
	for _, m := range menu.Meals {
		meal := Meal{Slot: m.Slot, Notes: m.Notes, Dishes: make([]Dish, 0, len(m.Dishes))}
		for _, name := range m.Dishes {
			meal.Dishes = append(meal.Dishes, Dish{Name: name, Recipe: recipes[recipe.NormalizeName(name)]})
		}
		out.Meals = append(out.Meals, meal)
	}
	return out
}

func (r *Resolver) unavailable(userID string, date time.Time, err error) Unavailable {
	kind := KindInternal
	switch {
	case errors.Is(err, shared.ErrNotFoundTransient), errors.Is(err, shared.ErrGenerationInProgress):
		kind = KindNotFoundTransient
	case errors.Is(err, shared.ErrLockTimeout):
		kind = KindLockTimeout
	case errors.Is(err, shared.ErrGeneration):
		kind = KindGenerationFailure
	case errors.Is(err, shared.ErrConfiguration):
		kind = KindConfiguration
	case errors.Is(err, shared.ErrUserAuthoredWeek):
		kind = KindUserAuthoredWeek
	case errors.Is(err, shared.ErrNoActivePhase):
		kind = KindNoProgram
	}

	if kind == KindInternal || kind == KindConfiguration {
		r.log.Error("day content unavailable", "user_id", userID, "date", shared.FormatDate(date), "kind", kind, "error", err)
	} else {
		r.log.Info("day content unavailable", "user_id", userID, "date", shared.FormatDate(date), "kind", kind, "error", err)
	}
	return Unavailable{Kind: kind, Reason: err.Error()}
}

func datePhase(phases []phase.Phase, date time.Time) phase.Type {
	if p := phase.Owning(phases, date); p != nil {
		return p.Type
	}
	if p := phase.Active(phases); p != nil {
		return p.Type
	}
	return ""
}
