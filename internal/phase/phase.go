// Package phase owns the multi-phase program calendar: which phase a user is in,
// when each phase starts and ends, and the transitions between them.
package phase

import (
	"time"
)

// Type is the program stage a phase belongs to.
type Type string

const (
	Detox         Type = "DETOX"
	Equilibre     Type = "EQUILIBRE"
	Consolidation Type = "CONSOLIDATION"
	Entretien     Type = "ENTRETIEN"
)

// Phase is one stage of a user's program calendar.
type Phase struct {
	ID               string
	UserID           string
	Tier             string
	Type             Type
	StartDate        time.Time
	PlannedEndDate   *time.Time // nil for the open-ended last phase
	IsActive         bool
	IsManualOverride bool
	SupersededAt     *time.Time
	CreatedAt        time.Time
}

// Covers reports whether date falls inside the phase span (both ends inclusive).
func (p Phase) Covers(date time.Time) bool {
	if date.Before(p.StartDate) {
		return false
	}
	return p.PlannedEndDate == nil || !date.After(*p.PlannedEndDate)
}

// Active returns the active phase of a calendar, or nil.
func Active(phases []Phase) *Phase {
	for i := range phases {
		if phases[i].IsActive {
			return &phases[i]
		}
	}
	return nil
}

// Owning returns the phase of a calendar whose span covers date, or nil.
func Owning(phases []Phase, date time.Time) *Phase {
	var found *Phase
	for i := range phases {
		if phases[i].Covers(date) {
			found = &phases[i]
		}
	}
	return found
}
