// Package shopping derives the grocery list of a program week from its effective
// menus and the cached recipes of their dishes.
package shopping

import "time"

// Item is one ingredient line and the dishes that need it.
type Item struct {
	Ingredient string   `json:"ingredient"`
	Dishes     []string `json:"dishes"`
}

// List is the shopping list of one user week. MissingRecipes names dishes whose
// recipe has not been generated yet and therefore contribute no items.
type List struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	WeekStart      time.Time `json:"week_start"`
	Items          []Item    `json:"items"`
	MissingRecipes []string  `json:"missing_recipes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
