package shopping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/shared"
)

// WeekPlans reads stored week plans.
type WeekPlans interface {
	Get(ctx context.Context, userID string, weekStart time.Time) (*planner.WeekPlan, error)
}

// DayOverrides reads user-level day content.
type DayOverrides interface {
	Get(ctx context.Context, userID string, date time.Time) (*planner.DayOverride, error)
}

// RecipeLookup reads cached recipes without generating them.
type RecipeLookup interface {
	Lookup(ctx context.Context, name string, p phase.Type) (*recipe.Detail, error)
}

// Builder assembles shopping lists. It never triggers generation: a week must
// already have a plan, and dishes without a cached recipe are reported missing.
type Builder struct {
	plans     WeekPlans
	overrides DayOverrides
	recipes   RecipeLookup
	repo      *Repository
	log       *logger.Logger
}

// NewBuilder creates a new Builder.
func NewBuilder(plans WeekPlans, overrides DayOverrides, recipes RecipeLookup, repo *Repository, log *logger.Logger) *Builder {
	return &Builder{
		plans:     plans,
		overrides: overrides,
		recipes:   recipes,
		repo:      repo,
		log:       log.With("component", "ShoppingList"),
	}
}

// Build computes and stores the list of the week containing date. It returns
// shared.ErrNotFound when the week has no plan yet.
func (b *Builder) Build(ctx context.Context, userID string, date time.Time) (*List, error) {
	weekStart := shared.WeekStart(date)
	plan, err := b.plans.Get(ctx, userID, weekStart)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("week %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrNotFound)
	}

	menus := make([]planner.DayMenu, 0, shared.DaysPerWeek)
	for i := 0; i < shared.DaysPerWeek; i++ {
		day := weekStart.AddDate(0, 0, i)
		o, err := b.overrides.Get(ctx, userID, day)
		if err != nil {
			return nil, err
		}
		if o != nil {
			menus = append(menus, o.Content)
			continue
		}
		menu, _, err := plan.Day(i)
		if err != nil {
			return nil, err
		}
		menus = append(menus, menu)
	}

	list := &List{UserID: userID, WeekStart: weekStart}
	byKey := make(map[string]*Item)
	for _, dish := range (planner.WeekContent{Days: menus}).DishNames() {
		d, err := b.recipes.Lookup(ctx, dish, plan.PhaseType)
		if err != nil {
			return nil, err
		}
		if d == nil {
			list.MissingRecipes = append(list.MissingRecipes, dish)
			continue
		}
		for _, ing := range d.Ingredients {
			key := recipe.NormalizeName(ing)
			if key == "" {
				continue
			}
			item, ok := byKey[key]
			if !ok {
				item = &Item{Ingredient: strings.TrimSpace(ing)}
				byKey[key] = item
			}
			item.Dishes = append(item.Dishes, dish)
		}
	}

	list.Items = make([]Item, 0, len(byKey))
	for _, item := range byKey {
		list.Items = append(list.Items, *item)
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return strings.ToLower(list.Items[i].Ingredient) < strings.ToLower(list.Items[j].Ingredient)
	})

	if err := b.repo.Save(ctx, list); err != nil {
		return nil, err
	}
	b.log.Debug("shopping list built", "user_id", userID, "week_start", shared.FormatDate(weekStart),
		"items", len(list.Items), "missing", len(list.MissingRecipes))
	return list, nil
}
