package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/shopping"
)

type fakeResolver struct {
	results map[string]resolver.Result
	userID  string
}

func (f *fakeResolver) ResolveDayContent(_ context.Context, userID string, date time.Time) resolver.Result {
	f.userID = userID
	if r, ok := f.results[shared.FormatDate(date)]; ok {
		return r
	}
	return resolver.Unavailable{Kind: resolver.KindNotFoundTransient, Reason: "not yet"}
}

type fakeCalendar struct {
	phases []phase.Phase
}

func (f *fakeCalendar) GenerateCalendar(_ context.Context, userID, tier string, start time.Time) ([]phase.Phase, error) {
	if tier != "standard" {
		return nil, fmt.Errorf("%w: unknown tier %q", shared.ErrConfiguration, tier)
	}
	f.phases = phase.Layout([]phase.Step{{Type: phase.Detox, Days: 14}, {Type: phase.Entretien}}, start)
	f.phases[0].IsActive = true
	for i := range f.phases {
		f.phases[i].UserID = userID
		f.phases[i].Tier = tier
	}
	return f.phases, nil
}

func (f *fakeCalendar) ManualOverride(_ context.Context, userID string, t phase.Type, start time.Time) ([]phase.Phase, error) {
	if len(f.phases) == 0 {
		return nil, shared.ErrNoActivePhase
	}
	return nil, nil
}

func (f *fakeCalendar) Current(context.Context, string) ([]phase.Phase, error) {
	return f.phases, nil
}

type fakeOverrides struct {
	created []planner.DayOverride
}

func (f *fakeOverrides) Create(_ context.Context, o planner.DayOverride) (*planner.DayOverride, error) {
	for _, c := range f.created {
		if c.UserID == o.UserID && c.Date.Equal(o.Date) {
			return nil, shared.ErrAlreadyExists
		}
	}
	if err := o.Content.Validate(); err != nil {
		return nil, err
	}
	o.ID = fmt.Sprintf("ov-%d", len(f.created)+1)
	f.created = append(f.created, o)
	return &o, nil
}

type fakePlans struct {
	patched map[string]planner.DayMenu
}

func (f *fakePlans) SetDayPatch(_ context.Context, userID string, weekStart time.Time, day int, menu planner.DayMenu) error {
	if userID != "u1" {
		return shared.ErrNotFound
	}
	f.patched[fmt.Sprintf("%s/%s/%d", userID, shared.FormatDate(weekStart), day)] = menu
	return nil
}

type fakeShopping struct{}

func (fakeShopping) Build(_ context.Context, userID string, date time.Time) (*shopping.List, error) {
	if userID != "u1" {
		return nil, fmt.Errorf("no plan: %w", shared.ErrNotFound)
	}
	return &shopping.List{
		UserID:    userID,
		WeekStart: shared.WeekStart(date),
		Items:     []shopping.Item{{Ingredient: "2 eggs", Dishes: []string{"Omelette"}}},
	}, nil
}

type testServer struct {
	handler   http.Handler
	auth      *Authenticator
	resolver  *fakeResolver
	calendar  *fakeCalendar
	overrides *fakeOverrides
	plans     *fakePlans
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		auth:      NewAuthenticator("test-secret"),
		resolver:  &fakeResolver{results: map[string]resolver.Result{}},
		calendar:  &fakeCalendar{},
		overrides: &fakeOverrides{},
		plans:     &fakePlans{patched: map[string]planner.DayMenu{}},
	}
	h := NewHandlers(ts.resolver, ts.calendar, ts.overrides, ts.plans, fakeShopping{})
	ts.handler = NewServer("0", h, ts.auth, logger.Nop()).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, role Role, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		token, err := ts.auth.IssueToken(subject, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

const lunchJSON = `{"meals":[{"slot":"lunch","dishes":["Lentil salad"]}]}`

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/me/phases", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/me/phases", nil)
	other, err := NewAuthenticator("other-secret").IssueToken("u1", RoleUser, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+other)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "foreign signature")

	expired, err := ts.auth.IssueToken("u1", RoleUser, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/me/phases", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expired token")

	w = ts.do(t, http.MethodPost, "/v1/admin/users/u1/calendar", RoleCoach, "coach-1", `{"tier":"standard","start_date":"2024-01-01"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMyDay(t *testing.T) {
	ts := newTestServer(t)
	ts.resolver.results["2024-01-02"] = resolver.Resolved{
		Source: resolver.SourceUser,
		Phase:  phase.Detox,
		Menu:   resolver.Menu{Meals: []resolver.Meal{{Slot: "lunch", Dishes: []resolver.Dish{{Name: "Soup"}}}}},
	}
	ts.resolver.results["2024-01-20"] = resolver.Locked{
		UnlockAt: time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC),
		Reason:   access.ReasonUpcomingPhase,
	}

	t.Run("OK", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/v1/me/days/2024-01-02", RoleUser, "u1", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "OK", body["status"])
		assert.Equal(t, "USER", body["source"])
		assert.Equal(t, "u1", ts.resolver.userID, "resolves the token subject")
	})

	t.Run("Locked", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/v1/me/days/2024-01-20", RoleUser, "u1", "")
		require.Equal(t, http.StatusLocked, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "LOCKED", body["status"])
		assert.Equal(t, "2024-01-13T00:00:00Z", body["unlock_at"])
		assert.Nil(t, body["menu"])
	})

	t.Run("Unavailable", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/v1/me/days/2024-01-05", RoleUser, "u1", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "5", w.Header().Get("Retry-After"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "UNAVAILABLE", body["status"])
		assert.Equal(t, "NOT_FOUND_TRANSIENT", body["kind"])
	})

	t.Run("BadDate", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/v1/me/days/tomorrow", RoleUser, "u1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestOverrides(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/me/days/2024-01-02/override", RoleUser, "u1", lunchJSON)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u1", ts.overrides.created[0].AuthorID)

	w = ts.do(t, http.MethodPost, "/v1/coach/users/u1/days/2024-01-02/override", RoleCoach, "coach-1", lunchJSON)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/coach/users/u1/days/2024-01-03/override", RoleCoach, "coach-1", lunchJSON)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u1", ts.overrides.created[1].UserID)
	assert.Equal(t, "coach-1", ts.overrides.created[1].AuthorID)

	w = ts.do(t, http.MethodPost, "/v1/coach/users/u1/days/2024-01-04/override", RoleUser, "u1", lunchJSON)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/me/days/2024-01-05/override", RoleUser, "u1", `{"meals":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatchWeekDay(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/v1/coach/users/u1/weeks/2024-01-01/days/3", RoleCoach, "coach-1", lunchJSON)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, ts.plans.patched, "u1/2024-01-01/3")

	w = ts.do(t, http.MethodPut, "/v1/coach/users/u2/weeks/2024-01-01/days/3", RoleCoach, "coach-1", lunchJSON)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/v1/coach/users/u1/weeks/2024-01-02/days/3", RoleCoach, "coach-1", lunchJSON)
	assert.Equal(t, http.StatusBadRequest, w.Code, "week must start on Monday")

	w = ts.do(t, http.MethodPut, "/v1/coach/users/u1/weeks/2024-01-01/days/7", RoleCoach, "coach-1", lunchJSON)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalendarAdmin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/admin/users/u1/phase-override", RoleAdmin, "admin", `{"type":"DETOX","start_date":"2024-01-01"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/admin/users/u1/calendar", RoleAdmin, "admin", `{"tier":"gold","start_date":"2024-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/admin/users/u1/calendar", RoleAdmin, "admin", `{"tier":"standard","start_date":"2024-01-01"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/me/phases", RoleUser, "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Phases []phaseView `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Phases, 2)
	assert.Equal(t, "2024-01-14", body.Phases[0].PlannedEndDate)
	assert.True(t, body.Phases[0].IsActive)
	assert.Empty(t, body.Phases[1].PlannedEndDate)
}

func TestGetMyShoppingList(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/me/weeks/2025-01-08/shopping-list", RoleUser, "u1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list shopping.List
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "2025-01-06", shared.FormatDate(list.WeekStart))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "2 eggs", list.Items[0].Ingredient)

	w = ts.do(t, http.MethodGet, "/v1/me/weeks/2025-01-08/shopping-list", RoleUser, "u2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/me/weeks/someday/shopping-list", RoleUser, "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
