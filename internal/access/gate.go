// Package access decides whether the content of a calendar date may be shown yet.
package access

import (
	"fmt"
	"time"

	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/shared"
)

// UnlockWindow is how long before a phase starts its content becomes visible.
const UnlockWindow = 48 * time.Hour

// Reason explains a locked decision.
type Reason string

const (
	ReasonUpcomingPhase     Reason = "UPCOMING_PHASE"
	ReasonBeyondEntitlement Reason = "BEYOND_ENTITLEMENT"
)

// Boundary is the slice of the phase calendar that matters for one target date.
type Boundary struct {
	// ActiveEnd is the last date of the active phase. Zero means open-ended.
	ActiveEnd time.Time
	// OwnerStart is the instant the phase owning the target date begins.
	// Only meaningful when the target lies after ActiveEnd.
	OwnerStart time.Time
	// Entitled is false when the target lies past the last phase of a finite program.
	Entitled bool
}

// Decision is the outcome of Evaluate. UnlockAt is set only for ReasonUpcomingPhase.
type Decision struct {
	Allowed  bool
	UnlockAt time.Time
	Reason   Reason
}

// Evaluate is a pure function of its inputs. A target inside or before the active
// phase is always allowed; a later target unlocks UnlockWindow before its owning
// phase starts, boundary inclusive.
func Evaluate(now, target time.Time, b Boundary) Decision {
	if b.ActiveEnd.IsZero() || !shared.Day(target).After(shared.Day(b.ActiveEnd)) {
		return Decision{Allowed: true}
	}
	if !b.Entitled {
		return Decision{Reason: ReasonBeyondEntitlement}
	}
	unlockAt := b.OwnerStart.Add(-UnlockWindow)
	if !now.Before(unlockAt) {
		return Decision{Allowed: true}
	}
	return Decision{UnlockAt: unlockAt, Reason: ReasonUpcomingPhase}
}

// BoundaryFor builds the boundary for target from a user's current calendar.
// Phase starts are taken as midnight in loc.
func BoundaryFor(phases []phase.Phase, target time.Time, loc *time.Location) (Boundary, error) {
	active := phase.Active(phases)
	if active == nil {
		return Boundary{}, fmt.Errorf("no phase for target %s: %w", shared.FormatDate(target), shared.ErrNoActivePhase)
	}

	b := Boundary{Entitled: true}
	if active.PlannedEndDate == nil {
		return b, nil
	}
	b.ActiveEnd = *active.PlannedEndDate
	if !shared.Day(target).After(b.ActiveEnd) {
		return b, nil
	}

	owner := phase.Owning(phases, shared.Day(target))
	if owner == nil {
		b.Entitled = false
		return b, nil
	}
	b.OwnerStart = shared.StartOfDayIn(owner.StartDate, loc)
	return b, nil
}
