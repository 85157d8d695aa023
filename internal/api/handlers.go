package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/shared"
	"ikonga-nutrition/internal/shopping"
)

// DayResolver resolves the content of a day.
type DayResolver interface {
	ResolveDayContent(ctx context.Context, userID string, date time.Time) resolver.Result
}

// CalendarService manages phase calendars.
type CalendarService interface {
	GenerateCalendar(ctx context.Context, userID, tier string, startDate time.Time) ([]phase.Phase, error)
	ManualOverride(ctx context.Context, userID string, t phase.Type, startDate time.Time) ([]phase.Phase, error)
	Current(ctx context.Context, userID string) ([]phase.Phase, error)
}

// OverrideWriter creates day overrides.
type OverrideWriter interface {
	Create(ctx context.Context, o planner.DayOverride) (*planner.DayOverride, error)
}

// PlanPatcher attaches coach patches to week plans.
type PlanPatcher interface {
	SetDayPatch(ctx context.Context, userID string, weekStart time.Time, dayIndex int, menu planner.DayMenu) error
}

// ShoppingLists builds the shopping list of a planned week.
type ShoppingLists interface {
	Build(ctx context.Context, userID string, date time.Time) (*shopping.List, error)
}

// Handlers serves the HTTP API.
type Handlers struct {
	resolver  DayResolver
	calendar  CalendarService
	overrides OverrideWriter
	plans     PlanPatcher
	shopping  ShoppingLists
}

// NewHandlers creates a new Handlers.
func NewHandlers(r DayResolver, cal CalendarService, overrides OverrideWriter, plans PlanPatcher, lists ShoppingLists) *Handlers {
	return &Handlers{resolver: r, calendar: cal, overrides: overrides, plans: plans, shopping: lists}
}

type dayResponse struct {
	Status    resolver.Status          `json:"status"`
	Date      string                   `json:"date"`
	Source    resolver.Source          `json:"source,omitempty"`
	Phase     phase.Type               `json:"phase,omitempty"`
	Menu      *resolver.Menu           `json:"menu,omitempty"`
	UnlockAt  *time.Time               `json:"unlock_at,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Kind      resolver.UnavailableKind `json:"kind,omitempty"`
	Retryable bool                     `json:"retryable,omitempty"`
}

type phaseView struct {
	ID               string     `json:"id"`
	Tier             string     `json:"tier"`
	Type             phase.Type `json:"type"`
	StartDate        string     `json:"start_date"`
	PlannedEndDate   string     `json:"planned_end_date,omitempty"`
	IsActive         bool       `json:"is_active"`
	IsManualOverride bool       `json:"is_manual_override"`
}

type calendarRequest struct {
	Tier      string `json:"tier" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
}

type phaseOverrideRequest struct {
	Type      phase.Type `json:"type" binding:"required"`
	StartDate string     `json:"start_date" binding:"required"`
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GetMyDay resolves the caller's content for :date.
func (h *Handlers) GetMyDay(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}

	res := h.resolver.ResolveDayContent(c.Request.Context(), callerID(c), date)
	body := dayResponse{Status: res.Status(), Date: shared.FormatDate(date)}

	switch r := res.(type) {
	case resolver.Resolved:
		body.Source = r.Source
		body.Phase = r.Phase
		body.Menu = &r.Menu
		c.JSON(http.StatusOK, body)
	case resolver.Locked:
		if !r.UnlockAt.IsZero() {
			unlockAt := r.UnlockAt.UTC()
			body.UnlockAt = &unlockAt
		}
		body.Reason = string(r.Reason)
		c.JSON(http.StatusLocked, body)
	case resolver.Unavailable:
		body.Kind = r.Kind
		body.Reason = r.Reason
		body.Retryable = r.Retryable()
		if body.Retryable {
			c.Header("Retry-After", "5")
		}
		c.JSON(http.StatusServiceUnavailable, body)
	}
}

// CreateMyOverride is the self-serve composer: the caller writes their own day.
func (h *Handlers) CreateMyOverride(c *gin.Context) {
	h.createOverride(c, callerID(c))
}

// CreateUserOverride lets a coach write a day on a user's behalf.
func (h *Handlers) CreateUserOverride(c *gin.Context) {
	h.createOverride(c, c.Param("userID"))
}

func (h *Handlers) createOverride(c *gin.Context, userID string) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}
	var menu planner.DayMenu
	if err := c.ShouldBindJSON(&menu); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	o, err := h.overrides.Create(c.Request.Context(), planner.DayOverride{
		UserID:   userID,
		Date:     date,
		Content:  menu,
		AuthorID: callerID(c),
	})
	switch {
	case errors.Is(err, shared.ErrAlreadyExists):
		RespondError(c, http.StatusConflict, "override_exists", err)
		return
	case err != nil:
		RespondError(c, http.StatusBadRequest, "invalid_override", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        o.ID,
		"user_id":   o.UserID,
		"date":      shared.FormatDate(o.Date),
		"author_id": o.AuthorID,
	})
}

// PatchWeekDay attaches a coach menu to one day of a user's week plan.
func (h *Handlers) PatchWeekDay(c *gin.Context) {
	weekStart, ok := dateParam(c, "weekStart")
	if !ok {
		return
	}
	if !shared.WeekStart(weekStart).Equal(weekStart) {
		RespondError(c, http.StatusBadRequest, "invalid_week", fmt.Errorf("%s is not a Monday", shared.FormatDate(weekStart)))
		return
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil || day < 0 || day >= shared.DaysPerWeek {
		RespondError(c, http.StatusBadRequest, "invalid_day", fmt.Errorf("day must be between 0 and %d", shared.DaysPerWeek-1))
		return
	}
	var menu planner.DayMenu
	if err := c.ShouldBindJSON(&menu); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	err = h.plans.SetDayPatch(c.Request.Context(), c.Param("userID"), weekStart, day, menu)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		RespondError(c, http.StatusNotFound, "week_plan_not_found", err)
	case err != nil:
		RespondError(c, http.StatusBadRequest, "invalid_patch", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

// GenerateCalendar replaces a user's phase calendar.
func (h *Handlers) GenerateCalendar(c *gin.Context) {
	var req calendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	start, err := shared.ParseDate(req.StartDate)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}

	phases, err := h.calendar.GenerateCalendar(c.Request.Context(), c.Param("userID"), req.Tier, start)
	if err != nil {
		respondCalendarError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"phases": toPhaseViews(phases)})
}

// OverridePhase forces a user into a phase.
func (h *Handlers) OverridePhase(c *gin.Context) {
	var req phaseOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	start, err := shared.ParseDate(req.StartDate)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}

	if _, err := h.calendar.ManualOverride(c.Request.Context(), c.Param("userID"), req.Type, start); err != nil {
		respondCalendarError(c, err)
		return
	}
	phases, err := h.calendar.Current(c.Request.Context(), c.Param("userID"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondOK(c, gin.H{"phases": toPhaseViews(phases)})
}

// ListMyPhases returns the caller's current calendar.
func (h *Handlers) ListMyPhases(c *gin.Context) {
	phases, err := h.calendar.Current(c.Request.Context(), callerID(c))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondOK(c, gin.H{"phases": toPhaseViews(phases)})
}

// GetMyShoppingList returns the shopping list of the caller's week containing :date.
func (h *Handlers) GetMyShoppingList(c *gin.Context) {
	date, ok := dateParam(c, "date")
	if !ok {
		return
	}
	list, err := h.shopping.Build(c.Request.Context(), callerID(c), date)
	if errors.Is(err, shared.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "not_planned", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondOK(c, list)
}

func respondCalendarError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, shared.ErrConfiguration):
		RespondError(c, http.StatusBadRequest, "configuration", err)
	case errors.Is(err, shared.ErrNoActivePhase):
		RespondError(c, http.StatusNotFound, "no_program", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

func dateParam(c *gin.Context, name string) (time.Time, bool) {
	d, err := shared.ParseDate(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return time.Time{}, false
	}
	return d, true
}

func toPhaseViews(phases []phase.Phase) []phaseView {
	views := make([]phaseView, 0, len(phases))
	for _, p := range phases {
		v := phaseView{
			ID:               p.ID,
			Tier:             p.Tier,
			Type:             p.Type,
			StartDate:        shared.FormatDate(p.StartDate),
			IsActive:         p.IsActive,
			IsManualOverride: p.IsManualOverride,
		}
		if p.PlannedEndDate != nil {
			v.PlannedEndDate = shared.FormatDate(*p.PlannedEndDate)
		}
		views = append(views, v)
	}
	return views
}
