package shopping

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

// Repository handles persistence of shopping lists.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// Save stores the list of a user week, replacing any earlier version.
func (r *Repository) Save(ctx context.Context, list *List) error {
	itemsJSON, err := json.Marshal(list.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal shopping list items: %w", err)
	}
	missingJSON, err := json.Marshal(list.MissingRecipes)
	if err != nil {
		return fmt.Errorf("failed to marshal missing recipes: %w", err)
	}
	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	list.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO shopping_lists (id, user_id, week_start, items, missing_recipes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, week_start) DO UPDATE SET
			items = excluded.items,
			missing_recipes = excluded.missing_recipes,
			created_at = excluded.created_at`,
		list.ID, list.UserID, shared.FormatDate(list.WeekStart), string(itemsJSON), string(missingJSON),
		list.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save shopping list: %w", err)
	}
	return nil
}

// GetByWeek retrieves the stored list of a user week, or nil.
func (r *Repository) GetByWeek(ctx context.Context, userID string, weekStart time.Time) (*List, error) {
	var list List
	var weekStr, items, missing, cAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, week_start, items, missing_recipes, created_at
		FROM shopping_lists WHERE user_id = ? AND week_start = ?`,
		userID, shared.FormatDate(weekStart),
	).Scan(&list.ID, &list.UserID, &weekStr, &items, &missing, &cAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shopping list: %w", err)
	}

	if list.WeekStart, err = shared.ParseDate(weekStr); err != nil {
		return nil, err
	}
	if list.CreatedAt, err = time.Parse(time.RFC3339Nano, cAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &list.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shopping list items: %w", err)
	}
	if err := json.Unmarshal([]byte(missing), &list.MissingRecipes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal missing recipes: %w", err)
	}
	return &list, nil
}
