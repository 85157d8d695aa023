package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ikonga-nutrition/internal/phase"
)

// Repository is the SQLite-backed recipe cache store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// CreateIfAbsent stores d unless a recipe with the same key already exists.
// It reports whether this call wrote the row.
func (r *Repository) CreateIfAbsent(ctx context.Context, d Detail) (bool, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("failed to marshal recipe to JSON: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recipe_cache (id, name_key, name, phase, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_key, phase) DO NOTHING`,
		uuid.NewString(), NormalizeName(d.Name), d.Name, string(d.Phase), string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert recipe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns the cached recipe for (name, phase), or nil when absent.
func (r *Repository) Get(ctx context.Context, name string, p phase.Type) (*Detail, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM recipe_cache WHERE name_key = ? AND phase = ?`,
		NormalizeName(name), string(p),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}

	var d Detail
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipe JSON: %w", err)
	}
	return &d, nil
}

// Count returns the number of cached recipes.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipe_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return n, nil
}
