// Package recipe resolves dish names to structured recipes, generating and
// caching each (dish, phase) pair once.
package recipe

import (
	"strings"

	"ikonga-nutrition/internal/phase"
)

// Macros holds per-serving nutrition values.
type Macros struct {
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// Detail is a cached recipe for one dish in one phase.
type Detail struct {
	Name         string     `json:"name"`
	Phase        phase.Type `json:"phase"`
	Ingredients  []string   `json:"ingredients"`
	Instructions string     `json:"instructions"`
	Macros       Macros     `json:"macros"`
	PrepTime     string     `json:"prep_time"`
}

// NormalizeName returns the cache key form of a dish name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
