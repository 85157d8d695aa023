package phase

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/shared"
)

// Calendar is the only writer of phase rows. Every mutation runs inside one
// transaction so a user never has zero or several active phases.
type Calendar struct {
	db      *sql.DB
	repo    *Repository
	program *Program
	log     *logger.Logger
	now     func() time.Time
}

// NewCalendar creates a new Calendar.
func NewCalendar(db *sql.DB, program *Program, log *logger.Logger) *Calendar {
	return &Calendar{
		db:      db,
		repo:    NewRepository(db),
		program: program,
		log:     log.With("component", "PhaseCalendar"),
		now:     time.Now,
	}
}

// Program returns the program the calendar lays phases out from.
func (c *Calendar) Program() *Program {
	return c.program
}

// GenerateCalendar replaces the user's calendar with the tier's full sequence
// starting at startDate. The first phase is active.
func (c *Calendar) GenerateCalendar(ctx context.Context, userID, tier string, startDate time.Time) ([]Phase, error) {
	steps, err := c.program.Sequence(tier)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	phases := c.materialize(Layout(steps, startDate), userID, tier, now)
	phases[0].IsActive = true

	err = c.inTx(ctx, func(repo *Repository) error {
		if err := repo.SupersedeAll(ctx, userID, now); err != nil {
			return err
		}
		for _, p := range phases {
			if err := repo.Insert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate calendar for user %s: %w", userID, err)
	}

	c.log.Info("calendar generated", "user_id", userID, "tier", tier, "start", shared.FormatDate(startDate), "phases", len(phases))
	return phases, nil
}

// ManualOverride forces the user into phase type t from startDate. The rest of the
// tier sequence is laid out again after it; phases that started earlier are kept
// as history and end the day before startDate.
//
// Resolution reads the calendar on every call, so the new boundaries apply to the
// next resolution without any lock-state recomputation.
func (c *Calendar) ManualOverride(ctx context.Context, userID string, t Type, startDate time.Time) ([]Phase, error) {
	current, err := c.repo.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := Active(current)
	if active == nil {
		return nil, fmt.Errorf("user %s: %w", userID, shared.ErrNoActivePhase)
	}

	steps, err := c.program.Sequence(active.Tier)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, s := range steps {
		if s.Type == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: phase %q is not part of tier %q", shared.ErrConfiguration, t, active.Tier)
	}

	start := shared.Day(startDate)
	now := c.now().UTC()
	phases := c.materialize(Layout(steps[idx:], start), userID, active.Tier, now)
	phases[0].IsActive = true
	phases[0].IsManualOverride = true

	err = c.inTx(ctx, func(repo *Repository) error {
		if err := repo.Deactivate(ctx, userID); err != nil {
			return err
		}
		for _, p := range current {
			switch {
			case !p.StartDate.Before(start):
				if err := repo.Supersede(ctx, p.ID, now); err != nil {
					return err
				}
			case p.PlannedEndDate == nil || !p.PlannedEndDate.Before(start):
				if err := repo.Truncate(ctx, p.ID, start.AddDate(0, 0, -1)); err != nil {
					return err
				}
			}
		}
		for _, p := range phases {
			if err := repo.Insert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to override phase for user %s: %w", userID, err)
	}

	c.log.Info("manual phase override", "user_id", userID, "type", t, "start", shared.FormatDate(start))
	return phases, nil
}

// Advance moves the active flag to the phase covering today once the active
// phase's planned end has passed. The last phase of a finished program stays active.
func (c *Calendar) Advance(ctx context.Context, userID string, today time.Time) (*Phase, error) {
	current, err := c.repo.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := Active(current)
	if active == nil {
		return nil, fmt.Errorf("user %s: %w", userID, shared.ErrNoActivePhase)
	}

	today = shared.Day(today)
	if active.PlannedEndDate == nil || !today.After(*active.PlannedEndDate) {
		return active, nil
	}
	next := Owning(current, today)
	if next == nil || next.ID == active.ID {
		return active, nil
	}

	err = c.inTx(ctx, func(repo *Repository) error {
		if err := repo.Deactivate(ctx, userID); err != nil {
			return err
		}
		return repo.Activate(ctx, next.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance phase for user %s: %w", userID, err)
	}

	c.log.Info("phase advanced", "user_id", userID, "from", active.Type, "to", next.Type)
	advanced := *next
	advanced.IsActive = true
	return &advanced, nil
}

// AdvanceAll runs Advance for every user with an active phase and returns how
// many calendars moved.
func (c *Calendar) AdvanceAll(ctx context.Context, today time.Time) (int, error) {
	users, err := c.repo.UsersWithActivePhase(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, userID := range users {
		before, err := c.repo.Current(ctx, userID)
		if err != nil {
			return moved, err
		}
		after, err := c.Advance(ctx, userID, today)
		if err != nil {
			c.log.Warn("phase advance failed", "user_id", userID, "error", err)
			continue
		}
		if prev := Active(before); prev != nil && prev.ID != after.ID {
			moved++
		}
	}
	return moved, nil
}

// Current returns the user's current calendar ordered by start date.
func (c *Calendar) Current(ctx context.Context, userID string) ([]Phase, error) {
	return c.repo.Current(ctx, userID)
}

// Covering returns the current phase covering date, or nil.
func (c *Calendar) Covering(ctx context.Context, userID string, date time.Time) (*Phase, error) {
	return c.repo.Covering(ctx, userID, date)
}

// UsersWithActivePhase lists users enrolled in a program.
func (c *Calendar) UsersWithActivePhase(ctx context.Context) ([]string, error) {
	return c.repo.UsersWithActivePhase(ctx)
}

func (c *Calendar) materialize(phases []Phase, userID, tier string, now time.Time) []Phase {
	for i := range phases {
		phases[i].ID = uuid.NewString()
		phases[i].UserID = userID
		phases[i].Tier = tier
		phases[i].CreatedAt = now
	}
	return phases
}

func (c *Calendar) inTx(ctx context.Context, fn func(repo *Repository) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(c.repo.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
