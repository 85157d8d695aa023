package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ikonga-nutrition/internal/shared"
)

// DayOverrideRepository stores user-level day content. Rows are create-only.
type DayOverrideRepository struct {
	db *sql.DB
}

// NewDayOverrideRepository creates a new DayOverrideRepository.
func NewDayOverrideRepository(d *sql.DB) *DayOverrideRepository {
	return &DayOverrideRepository{db: d}
}

// Create stores o. An existing override for the same date yields shared.ErrAlreadyExists.
func (r *DayOverrideRepository) Create(ctx context.Context, o DayOverride) (*DayOverride, error) {
	if err := o.Content.Validate(); err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}
	content, err := json.Marshal(o.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal override content: %w", err)
	}
	o.ID = uuid.NewString()
	o.Date = shared.Day(o.Date)
	o.CreatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO day_overrides (id, user_id, date, content, author_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO NOTHING`,
		o.ID, o.UserID, shared.FormatDate(o.Date), string(content), o.AuthorID,
		o.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert day override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("day override %s for user %s: %w", shared.FormatDate(o.Date), o.UserID, shared.ErrAlreadyExists)
	}
	return &o, nil
}

// Get returns the override of a date, or nil.
func (r *DayOverrideRepository) Get(ctx context.Context, userID string, date time.Time) (*DayOverride, error) {
	var (
		o                       DayOverride
		day, content, createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, content, author_id, created_at
		FROM day_overrides WHERE user_id = ? AND date = ?`,
		userID, shared.FormatDate(date),
	).Scan(&o.ID, &o.UserID, &day, &content, &o.AuthorID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day override: %w", err)
	}

	if o.Date, err = shared.ParseDate(day); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &o.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal override content: %w", err)
	}
	return &o, nil
}

// CountInRange counts the user's overrides with from <= date < to.
func (r *DayOverrideRepository) CountInRange(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM day_overrides WHERE user_id = ? AND date >= ? AND date < ?`,
		userID, shared.FormatDate(from), shared.FormatDate(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count day overrides: %w", err)
	}
	return n, nil
}
