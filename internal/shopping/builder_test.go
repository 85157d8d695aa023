package shopping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/testutil"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := shared.ParseDate(s)
	require.NoError(t, err)
	return d
}

func menu(dishes ...string) planner.DayMenu {
	return planner.DayMenu{Meals: []planner.Meal{{Slot: "lunch", Dishes: dishes}}}
}

type fixture struct {
	plans     *planner.WeekPlanRepository
	overrides *planner.DayOverrideRepository
	recipes   *recipe.Repository
	repo      *Repository
	builder   *Builder
}

func newFixture(t *testing.T) *fixture {
	db := testutil.DB(t)
	f := &fixture{
		plans:     planner.NewWeekPlanRepository(db.SQL),
		overrides: planner.NewDayOverrideRepository(db.SQL),
		recipes:   recipe.NewRepository(db.SQL),
		repo:      NewRepository(db.SQL),
	}
	cache := recipe.NewCache(f.recipes, nil, nil, logger.Nop())
	f.builder = NewBuilder(f.plans, f.overrides, cache, f.repo, logger.Nop())
	return f
}

func (f *fixture) addRecipe(t *testing.T, name string, ingredients ...string) {
	_, err := f.recipes.CreateIfAbsent(context.Background(), recipe.Detail{
		Name:         name,
		Phase:        phase.Detox,
		Ingredients:  ingredients,
		Instructions: "Cook.",
	})
	require.NoError(t, err)
}

func TestBuild_AggregatesEffectiveWeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := mustDate(t, "2025-01-06")

	days := make([]planner.DayMenu, shared.DaysPerWeek)
	for i := range days {
		days[i] = menu("Poulet vapeur")
	}
	days[2] = menu("Soupe de légumes", "poulet  VAPEUR")
	_, err := f.plans.CreateIfAbsent(ctx, planner.WeekPlan{
		UserID: "u1", WeekStart: monday, PhaseType: phase.Detox,
		Content: planner.WeekContent{Days: days},
	})
	require.NoError(t, err)

	// Coach patch on Tuesday and a user override on Sunday.
	require.NoError(t, f.plans.SetDayPatch(ctx, "u1", monday, 1, menu("Omelette")))
	_, err = f.overrides.Create(ctx, planner.DayOverride{
		UserID: "u1", Date: monday.AddDate(0, 0, 6), AuthorID: "u1", Content: menu("Taboulé"),
	})
	require.NoError(t, err)

	f.addRecipe(t, "Poulet vapeur", "1 chicken breast", "Salt")
	f.addRecipe(t, "Soupe de légumes", "2 carrots", "salt")
	f.addRecipe(t, "Omelette", "2 eggs")

	list, err := f.builder.Build(ctx, "u1", monday.AddDate(0, 0, 3))
	require.NoError(t, err)

	assert.Equal(t, monday, list.WeekStart)
	assert.Equal(t, []string{"Taboulé"}, list.MissingRecipes)
	require.Len(t, list.Items, 4)
	assert.Equal(t, "1 chicken breast", list.Items[0].Ingredient)
	assert.Equal(t, "2 carrots", list.Items[1].Ingredient)
	assert.Equal(t, "2 eggs", list.Items[2].Ingredient)
	assert.Equal(t, "Salt", list.Items[3].Ingredient)
	assert.Equal(t, []string{"Poulet vapeur", "Soupe de légumes"}, list.Items[3].Dishes)

	stored, err := f.repo.GetByWeek(ctx, "u1", monday)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, list.Items, stored.Items)
	assert.Equal(t, list.MissingRecipes, stored.MissingRecipes)
}

func TestBuild_RebuildReplacesStoredList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := mustDate(t, "2025-01-06")

	days := make([]planner.DayMenu, shared.DaysPerWeek)
	for i := range days {
		days[i] = menu("Omelette")
	}
	_, err := f.plans.CreateIfAbsent(ctx, planner.WeekPlan{
		UserID: "u1", WeekStart: monday, PhaseType: phase.Detox,
		Content: planner.WeekContent{Days: days},
	})
	require.NoError(t, err)

	first, err := f.builder.Build(ctx, "u1", monday)
	require.NoError(t, err)
	assert.Empty(t, first.Items)
	assert.Equal(t, []string{"Omelette"}, first.MissingRecipes)

	f.addRecipe(t, "Omelette", "2 eggs")
	_, err = f.builder.Build(ctx, "u1", monday)
	require.NoError(t, err)

	stored, err := f.repo.GetByWeek(ctx, "u1", monday)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Empty(t, stored.MissingRecipes)
	assert.Equal(t, first.ID, stored.ID)
}

func TestBuild_NoPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), "u1", mustDate(t, "2025-01-06"))
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	stored, err := f.repo.GetByWeek(context.Background(), "u1", mustDate(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Nil(t, stored)
}
