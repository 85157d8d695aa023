// Package planner owns week plans and day overrides, and the orchestration of
// the single expensive generation call that creates a week plan.
package planner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/shared"
)

// Meal is one slot of a day (breakfast, lunch, ...). Dishes are opaque names.
type Meal struct {
	Slot   string   `json:"slot"`
	Dishes []string `json:"dishes"`
	Notes  string   `json:"notes,omitempty"`
}

// DayMenu is the content of one day.
type DayMenu struct {
	Meals []Meal `json:"meals"`
}

// Validate rejects a menu without meals or with an empty dish name.
func (d DayMenu) Validate() error {
	if len(d.Meals) == 0 {
		return errors.New("menu has no meals")
	}
	for i, m := range d.Meals {
		if len(m.Dishes) == 0 {
			return fmt.Errorf("meal %d has no dishes", i)
		}
		for _, dish := range m.Dishes {
			if strings.TrimSpace(dish) == "" {
				return fmt.Errorf("meal %d has an empty dish name", i)
			}
		}
	}
	return nil
}

// DishNames returns the distinct dish names of the menu in order of appearance.
func (d DayMenu) DishNames() []string {
	return distinctDishes([]DayMenu{d})
}

// WeekContent is the generated content of a program week, Monday first.
type WeekContent struct {
	Days []DayMenu `json:"days"`
}

// Validate checks the content covers exactly one week of valid menus.
func (w WeekContent) Validate() error {
	if len(w.Days) != shared.DaysPerWeek {
		return fmt.Errorf("expected %d days, got %d", shared.DaysPerWeek, len(w.Days))
	}
	for i, d := range w.Days {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("day %d: %w", i, err)
		}
	}
	return nil
}

// DishNames returns the distinct dish names of the week in order of appearance.
func (w WeekContent) DishNames() []string {
	return distinctDishes(w.Days)
}

func distinctDishes(days []DayMenu) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range days {
		for _, m := range d.Meals {
			for _, dish := range m.Dishes {
				key := recipe.NormalizeName(dish)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				names = append(names, strings.TrimSpace(dish))
			}
		}
	}
	return names
}

// WeekPlan is the generated level of a user's content for one week. Content is
// written once; Overrides holds coach patches keyed by day index.
type WeekPlan struct {
	ID        string
	UserID    string
	WeekStart time.Time
	PhaseType phase.Type
	Content   WeekContent
	Overrides map[int]DayMenu
	CreatedAt time.Time
}

// Day returns the effective menu of a day index and whether it comes from a patch.
func (p *WeekPlan) Day(idx int) (DayMenu, bool, error) {
	if idx < 0 || idx >= len(p.Content.Days) {
		return DayMenu{}, false, fmt.Errorf("day index %d outside week %s", idx, shared.FormatDate(p.WeekStart))
	}
	if patch, ok := p.Overrides[idx]; ok {
		return patch, true, nil
	}
	return p.Content.Days[idx], false, nil
}

// DayOverride is user-level content for a single date. It always wins over the
// week plan.
type DayOverride struct {
	ID        string
	UserID    string
	Date      time.Time
	Content   DayMenu
	AuthorID  string
	CreatedAt time.Time
}
