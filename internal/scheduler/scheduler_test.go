package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/testutil"
)

type fakeEnsurer struct {
	mu    sync.Mutex
	calls  map[string]time.Time
	errs   map[string]error
	stored map[string]bool
}

func (f *fakeEnsurer) EnsureWeekPlan(_ context.Context, userID string, weekStart time.Time) (*planner.WeekPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID] = weekStart
	if err := f.errs[userID]; err != nil {
		return nil, err
	}
	createdAt := time.Now().UTC()
	if f.stored[userID] {
		createdAt = createdAt.Add(-24 * time.Hour)
	}
	return &planner.WeekPlan{UserID: userID, WeekStart: weekStart, CreatedAt: createdAt}, nil
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := shared.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *phase.Calendar, *fakeEnsurer) {
	t.Helper()
	program, err := phase.LoadProgram("")
	require.NoError(t, err)
	cal := phase.NewCalendar(testutil.DB(t).SQL, program, logger.Nop())
	ens := &fakeEnsurer{calls: map[string]time.Time{}, errs: map[string]error{}, stored: map[string]bool{}}
	s := NewScheduler(cal, ens, time.UTC, Options{}, logger.Nop())
	s.now = func() time.Time { return now }
	return s, cal, ens
}

func TestAdvancePhases(t *testing.T) {
	ctx := context.Background()
	s, cal, _ := newTestScheduler(t, date(t, "2024-01-15").Add(5*time.Minute))
	_, err := cal.GenerateCalendar(ctx, "u1", "standard", date(t, "2024-01-01"))
	require.NoError(t, err)

	moved, err := s.AdvancePhases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	current, err := cal.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, phase.Equilibre, phase.Active(current).Type)
}

func TestPrefetchNextWeek_RespectsGate(t *testing.T) {
	ctx := context.Background()

	// Next week starts 2024-01-15 with EQUILIBRE, which unlocks on 2024-01-13.
	t.Run("StillLocked", func(t *testing.T) {
		s, cal, ens := newTestScheduler(t, date(t, "2024-01-12").Add(23*time.Hour))
		_, err := cal.GenerateCalendar(ctx, "u1", "standard", date(t, "2024-01-01"))
		require.NoError(t, err)

		n, err := s.PrefetchNextWeek(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, ens.calls)
	})

	t.Run("Unlocked", func(t *testing.T) {
		s, cal, ens := newTestScheduler(t, date(t, "2024-01-13").Add(2*time.Hour))
		_, err := cal.GenerateCalendar(ctx, "u1", "standard", date(t, "2024-01-01"))
		require.NoError(t, err)

		n, err := s.PrefetchNextWeek(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, date(t, "2024-01-15"), ens.calls["u1"])
	})
}

func TestPrefetchNextWeek_SkipsAndFailuresArePerUser(t *testing.T) {
	ctx := context.Background()
	s, cal, ens := newTestScheduler(t, date(t, "2024-01-02"))
	for _, u := range []string{"busy", "authored", "broken", "fine"} {
		_, err := cal.GenerateCalendar(ctx, u, "standard", date(t, "2024-01-01"))
		require.NoError(t, err)
	}
	ens.errs["busy"] = shared.ErrGenerationInProgress
	ens.errs["authored"] = shared.ErrUserAuthoredWeek
	ens.errs["broken"] = errors.New("upstream down")

	n, err := s.PrefetchNextWeek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, ens.calls, 4)
}

func TestPrefetchNextWeek_CountsOnlyNewPlans(t *testing.T) {
	ctx := context.Background()
	s, cal, ens := newTestScheduler(t, date(t, "2024-01-02"))
	for _, u := range []string{"new", "existing"} {
		_, err := cal.GenerateCalendar(ctx, u, "standard", date(t, "2024-01-01"))
		require.NoError(t, err)
	}
	ens.stored["existing"] = true

	n, err := s.PrefetchNextWeek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, ens.calls, 2)
}

func TestStartRejectsBadSpec(t *testing.T) {
	program, err := phase.LoadProgram("")
	require.NoError(t, err)
	cal := phase.NewCalendar(testutil.DB(t).SQL, program, logger.Nop())
	s := NewScheduler(cal, &fakeEnsurer{}, time.UTC, Options{AdvanceSpec: "not a spec"}, logger.Nop())
	assert.Error(t, s.Start())
}
