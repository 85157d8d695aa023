package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/shared"
)

// WeekPlanRepository is a database-backed repository for week plans.
type WeekPlanRepository struct {
	db *sql.DB
}

// NewWeekPlanRepository creates a new WeekPlanRepository.
func NewWeekPlanRepository(d *sql.DB) *WeekPlanRepository {
	return &WeekPlanRepository{db: d}
}

// CreateIfAbsent inserts p unless the user already has a plan for that week.
// It reports whether this call wrote the row.
func (r *WeekPlanRepository) CreateIfAbsent(ctx context.Context, p WeekPlan) (bool, error) {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return false, fmt.Errorf("failed to marshal week content: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO week_plans (id, user_id, week_start, phase_type, content, overrides, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(user_id, week_start) DO NOTHING`,
		p.ID, p.UserID, shared.FormatDate(p.WeekStart), string(p.PhaseType), string(content),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert week plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns the plan of the week starting at weekStart, or nil.
func (r *WeekPlanRepository) Get(ctx context.Context, userID string, weekStart time.Time) (*WeekPlan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, phase_type, content, overrides, created_at
		FROM week_plans WHERE user_id = ? AND week_start = ?`,
		userID, shared.FormatDate(weekStart))
	return scanWeekPlan(row)
}

// Covering returns the plan whose week contains date, or nil.
func (r *WeekPlanRepository) Covering(ctx context.Context, userID string, date time.Time) (*WeekPlan, error) {
	d := shared.Day(date)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, phase_type, content, overrides, created_at
		FROM week_plans
		WHERE user_id = ? AND week_start <= ? AND week_start > ?
		ORDER BY week_start DESC LIMIT 1`,
		userID, shared.FormatDate(d), shared.FormatDate(d.AddDate(0, 0, -shared.DaysPerWeek)))
	return scanWeekPlan(row)
}

// SetDayPatch attaches a coach-level menu to one day of an existing plan.
// This is the only mutation a stored plan accepts; its content stays untouched.
func (r *WeekPlanRepository) SetDayPatch(ctx context.Context, userID string, weekStart time.Time, dayIndex int, menu DayMenu) error {
	if dayIndex < 0 || dayIndex >= shared.DaysPerWeek {
		return fmt.Errorf("day index %d out of range", dayIndex)
	}
	if err := menu.Validate(); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT overrides FROM week_plans WHERE user_id = ? AND week_start = ?`,
		userID, shared.FormatDate(weekStart)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("week plan %s for user %s: %w", shared.FormatDate(weekStart), userID, shared.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read week plan overrides: %w", err)
	}

	overrides := map[int]DayMenu{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &overrides); err != nil {
			return fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	overrides[dayIndex] = menu
	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal overrides: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE week_plans SET overrides = ? WHERE user_id = ? AND week_start = ?`,
		string(data), userID, shared.FormatDate(weekStart)); err != nil {
		return fmt.Errorf("failed to update overrides: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanWeekPlan(row *sql.Row) (*WeekPlan, error) {
	var (
		p                   WeekPlan
		weekStart, phaseTyp string
		content, createdAt  string
		overrides           sql.NullString
	)
	err := row.Scan(&p.ID, &p.UserID, &weekStart, &phaseTyp, &content, &overrides, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan week plan: %w", err)
	}

	if p.WeekStart, err = shared.ParseDate(weekStart); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	p.PhaseType = phase.Type(phaseTyp)
	if err := json.Unmarshal([]byte(content), &p.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal week content: %w", err)
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &p.Overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	return &p, nil
}
