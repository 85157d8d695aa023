package resolver

import (
	"time"

	"ikonga-nutrition/internal/access"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/recipe"
)

// Status is the caller-facing outcome of a resolution.
type Status string

const (
	StatusOK          Status = "OK"
	StatusLocked      Status = "LOCKED"
	StatusUnavailable Status = "UNAVAILABLE"
)

// Source labels which content tier a resolved menu came from.
type Source string

const (
	SourceUser  Source = "USER"
	SourceCoach Source = "COACH"
)

// UnavailableKind classifies why content could not be produced.
type UnavailableKind string

const (
	KindNotFoundTransient UnavailableKind = "NOT_FOUND_TRANSIENT"
	KindLockTimeout       UnavailableKind = "LOCK_TIMEOUT"
	KindGenerationFailure UnavailableKind = "GENERATION_FAILURE"
	KindConfiguration     UnavailableKind = "CONFIGURATION"
	KindUserAuthoredWeek  UnavailableKind = "USER_AUTHORED_WEEK"
	KindNoProgram         UnavailableKind = "NO_PROGRAM"
	KindInternal          UnavailableKind = "INTERNAL"
)

// Result is one of Resolved, Locked or Unavailable.
type Result interface {
	Status() Status
	isResult()
}

// Dish is a menu entry. Recipe is nil when the dish could not be enriched.
type Dish struct {
	Name   string         `json:"name"`
	Recipe *recipe.Detail `json:"recipe,omitempty"`
}

// Meal is an enriched meal slot.
type Meal struct {
	Slot   string `json:"slot"`
	Dishes []Dish `json:"dishes"`
	Notes  string `json:"notes,omitempty"`
}

// Menu is the effective content of a day.
type Menu struct {
	Meals []Meal `json:"meals"`
}

// Resolved carries the effective menu and the tier it came from.
type Resolved struct {
	Date   time.Time
	Source Source
	Phase  phase.Type
	Menu   Menu
}

// Locked means the date is not visible yet. UnlockAt is zero when the date lies
// past the user's entitlement.
type Locked struct {
	UnlockAt time.Time
	Reason   access.Reason
}

// Unavailable means the content could not be produced right now.
type Unavailable struct {
	Kind   UnavailableKind
	Reason string
}

func (Resolved) Status() Status    { return StatusOK }
func (Locked) Status() Status      { return StatusLocked }
func (Unavailable) Status() Status { return StatusUnavailable }

func (Resolved) isResult()    {}
func (Locked) isResult()      {}
func (Unavailable) isResult() {}

// Retryable reports whether the same request may succeed later.
func (u Unavailable) Retryable() bool {
	switch u.Kind {
	case KindNotFoundTransient, KindLockTimeout, KindGenerationFailure, KindInternal:
		return true
	}
	return false
}
