package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/api"
	"ikonga-nutrition/internal/config"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/shared"
)

const weekJSON = `{"days":[
{"meals":[{"slot":"lunch","dishes":["Poulet vapeur"]}]},
{"meals":[{"slot":"lunch","dishes":["Soupe de légumes"]}]},
{"meals":[{"slot":"lunch","dishes":["Poulet vapeur"]}]},
{"meals":[{"slot":"lunch","dishes":["Soupe de légumes"]}]},
{"meals":[{"slot":"lunch","dishes":["Poulet vapeur"]}]},
{"meals":[{"slot":"lunch","dishes":["Soupe de légumes"]}]},
{"meals":[{"slot":"lunch","dishes":["Poulet vapeur"]}]}]}`

const recipeJSON = `{"ingredients":["1 chicken breast"],"instructions":"<p>Steam for 20 minutes.</p>","macros":{"calories":320},"prep_time":"25 min"}`

// fakeGroq answers week prompts with a fixed week and every other prompt with a recipe.
func fakeGroq(t *testing.T, weekCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		content := recipeJSON
		if strings.Contains(req.Messages[0].Content, "Plan 7 days") {
			atomic.AddInt32(weekCalls, 1)
			content = weekJSON
		}
		resp := map[string]any{
			"model":   "fake",
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
			"usage":   map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestApp(t *testing.T, groqURL string) *App {
	t.Helper()
	cfg := &config.Config{
		DatabasePath:      filepath.Join(t.TempDir(), "app.db"),
		Port:              "0",
		LLMProvider:       config.ProviderGroq,
		GroqAPIKey:        "test-key",
		GroqModel:         "fake",
		GroqBaseURL:       groqURL,
		ProgramTimezone:   time.UTC,
		GenerationTimeout: 5 * time.Second,
		ResolveWait:       time.Second,
		RecipeFanout:      2,
		JWTSecret:         "secret",
	}
	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_UserOverrideResolvesWithoutGeneratingAWeek(t *testing.T) {
	var weekCalls int32
	srv := fakeGroq(t, &weekCalls)
	defer srv.Close()
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	today := shared.DateIn(time.Now(), time.UTC)
	phases, err := a.Calendar.GenerateCalendar(ctx, "u1", "essential", today)
	require.NoError(t, err)
	require.Len(t, phases, 2)

	_, err = a.Overrides.Create(ctx, planner.DayOverride{
		UserID:   "u1",
		Date:     today,
		AuthorID: "u1",
		Content: planner.DayMenu{Meals: []planner.Meal{
			{Slot: "lunch", Dishes: []string{"Salade niçoise"}},
		}},
	})
	require.NoError(t, err)

	res := a.Resolver.ResolveDayContent(ctx, "u1", today)
	resolved, ok := res.(resolver.Resolved)
	require.True(t, ok, "got %#v", res)
	assert.Equal(t, resolver.SourceUser, resolved.Source)
	require.Len(t, resolved.Menu.Meals, 1)
	dish := resolved.Menu.Meals[0].Dishes[0]
	assert.Equal(t, "Salade niçoise", dish.Name)
	require.NotNil(t, dish.Recipe)
	assert.Equal(t, "25 min", dish.Recipe.PrepTime)
	assert.Equal(t, "Steam for 20 minutes.", dish.Recipe.Instructions)

	assert.Zero(t, atomic.LoadInt32(&weekCalls))

	usage, err := a.Metrics.GetDailyUsage(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, usage)
	assert.Equal(t, 1, usage[0].TotalExecution)
}

func TestApp_CoachWeekGeneratedOnceAndServedOverHTTP(t *testing.T) {
	var weekCalls int32
	srv := fakeGroq(t, &weekCalls)
	defer srv.Close()
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	today := shared.DateIn(time.Now(), time.UTC)
	_, err := a.Calendar.GenerateCalendar(ctx, "u2", "essential", today)
	require.NoError(t, err)

	token, err := api.NewAuthenticator("secret").IssueToken("u2", api.RoleUser, time.Hour)
	require.NoError(t, err)
	handler := a.APIServer().Handler()

	get := func(date time.Time) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/me/days/%s", shared.FormatDate(date)), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := get(today)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Status string `json:"status"`
		Source string `json:"source"`
		Phase  string `json:"phase"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, "COACH", body.Source)
	assert.Equal(t, "DETOX", body.Phase)

	// A second resolution is served from the stored plan.
	res := a.Resolver.ResolveDayContent(ctx, "u2", today)
	_, ok := res.(resolver.Resolved)
	assert.True(t, ok, "got %#v", res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&weekCalls))

	rec = get(today.AddDate(0, 0, 60))
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Contains(t, rec.Body.String(), string(access.ReasonBeyondEntitlement))
}

func TestApp_RejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{
		DatabasePath: filepath.Join(t.TempDir(), "app.db"),
		LLMProvider:  "openai",
	}
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
