package phase

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ikonga-nutrition/internal/shared"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const phaseColumns = `id, user_id, tier, type, start_date, planned_end_date, is_active, is_manual_override, superseded_at, created_at`

// Repository is a database-backed repository for phases.
type Repository struct {
	db dbtx
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{db: tx}
}

// Insert stores a new phase row.
func (r *Repository) Insert(ctx context.Context, p Phase) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phases (`+phaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		p.ID, p.UserID, p.Tier, string(p.Type), shared.FormatDate(p.StartDate), nullableDate(p.PlannedEndDate),
		p.IsActive, p.IsManualOverride, p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert phase: %w", err)
	}
	return nil
}

// Current returns the user's non-superseded phases ordered by start date.
func (r *Repository) Current(ctx context.Context, userID string) ([]Phase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE user_id = ? AND superseded_at IS NULL
		ORDER BY start_date ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Covering returns the most recent current phase whose span covers date, or nil.
func (r *Repository) Covering(ctx context.Context, userID string, date time.Time) (*Phase, error) {
	d := shared.FormatDate(date)
	row := r.db.QueryRowContext(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE user_id = ? AND superseded_at IS NULL
		  AND start_date <= ? AND (planned_end_date IS NULL OR planned_end_date >= ?)
		ORDER BY start_date DESC
		LIMIT 1`, userID, d, d)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find covering phase: %w", err)
	}
	return &p, nil
}

// UsersWithActivePhase lists every user that currently has an active phase.
func (r *Repository) UsersWithActivePhase(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM phases WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with an active phase: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SupersedeAll retires every current phase of a user.
func (r *Repository) SupersedeAll(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE phases SET is_active = 0, superseded_at = ?
		WHERE user_id = ? AND superseded_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), userID)
	if err != nil {
		return fmt.Errorf("failed to supersede phases: %w", err)
	}
	return nil
}

// Supersede retires a single phase.
func (r *Repository) Supersede(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE phases SET is_active = 0, superseded_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to supersede phase %s: %w", id, err)
	}
	return nil
}

// Truncate moves the planned end of a phase.
func (r *Repository) Truncate(ctx context.Context, id string, end time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE phases SET planned_end_date = ? WHERE id = ?`, shared.FormatDate(end), id)
	if err != nil {
		return fmt.Errorf("failed to truncate phase %s: %w", id, err)
	}
	return nil
}

// Deactivate clears the active flag of every phase of a user.
func (r *Repository) Deactivate(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE phases SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate phases: %w", err)
	}
	return nil
}

// Activate sets the active flag on a single phase.
func (r *Repository) Activate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE phases SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to activate phase %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPhase(s scanner) (Phase, error) {
	var (
		p                      Phase
		typ, start, created    string
		end, superseded        sql.NullString
		active, manualOverride bool
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.Tier, &typ, &start, &end, &active, &manualOverride, &superseded, &created); err != nil {
		return Phase{}, err
	}
	p.Type = Type(typ)
	p.IsActive = active
	p.IsManualOverride = manualOverride

	var err error
	if p.StartDate, err = shared.ParseDate(start); err != nil {
		return Phase{}, err
	}
	if end.Valid {
		d, err := shared.ParseDate(end.String)
		if err != nil {
			return Phase{}, err
		}
		p.PlannedEndDate = &d
	}
	if superseded.Valid {
		ts, err := time.Parse(time.RFC3339Nano, superseded.String)
		if err != nil {
			return Phase{}, fmt.Errorf("invalid superseded_at: %w", err)
		}
		p.SupersededAt = &ts
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Phase{}, fmt.Errorf("invalid created_at: %w", err)
	}
	return p, nil
}

func nullableDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return shared.FormatDate(*t)
}
