// Package profile supplies the user profile snapshot sent along with week
// generation requests. Profiles are owned by another system; this package only
// reads a local copy of them.
package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the profile data a week generation depends on.
type Snapshot struct {
	UserID         string   `json:"user_id"`
	FirstName      string   `json:"first_name,omitempty"`
	Sex            string   `json:"sex,omitempty"`
	Age            int      `json:"age,omitempty"`
	HeightCm       int      `json:"height_cm,omitempty"`
	WeightKg       float64  `json:"weight_kg,omitempty"`
	TargetWeightKg float64  `json:"target_weight_kg,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	Dislikes       []string `json:"dislikes,omitempty"`
	MealsPerDay    int      `json:"meals_per_day,omitempty"`
	Locale         string   `json:"locale,omitempty"`
}

// Source returns the current profile snapshot of a user.
type Source interface {
	Snapshot(ctx context.Context, userID string) (Snapshot, error)
}

// Default is the snapshot used for users without a stored profile.
func Default(userID string) Snapshot {
	return Snapshot{UserID: userID, MealsPerDay: 3, Locale: "fr"}
}

// Repository is the SQLite-backed Source.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Snapshot returns the stored profile, or Default when the user has none.
func (r *Repository) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM user_profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Default(userID), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get profile: %w", err)
	}

	s := Default(userID)
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal profile JSON: %w", err)
	}
	s.UserID = userID
	return s, nil
}

// Save stores or replaces a user's profile.
func (r *Repository) Save(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal profile to JSON: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.UserID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
