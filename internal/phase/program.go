package phase

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ikonga-nutrition/internal/shared"
)

//go:embed programs.yaml
var defaultProgram []byte

// Definition describes the nutritional constraints of a phase type.
type Definition struct {
	Label         string   `yaml:"label"`
	CalorieHint   int      `yaml:"calorie_hint"`
	Guidelines    []string `yaml:"guidelines"`
	ExcludedFoods []string `yaml:"excluded_foods"`
}

// Step is one entry of a tier sequence. Days == 0 means open-ended.
type Step struct {
	Type Type `yaml:"type"`
	Days int  `yaml:"days"`
}

// Program maps subscription tiers to phase sequences.
type Program struct {
	Phases map[Type]Definition `yaml:"phases"`
	Tiers  map[string][]Step   `yaml:"tiers"`
}

// Constraints is what the week generator needs to know about a phase.
type Constraints struct {
	Type Type
	Definition
}

// LoadProgram reads the program from path, or the embedded default when path is empty.
func LoadProgram(path string) (*Program, error) {
	data := defaultProgram
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read program file: %w", err)
		}
	}
	return ParseProgram(data)
}

// ParseProgram decodes and validates a YAML program.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to parse program: %v", shared.ErrConfiguration, err)
	}
	if len(p.Tiers) == 0 {
		return nil, fmt.Errorf("%w: program defines no tiers", shared.ErrConfiguration)
	}
	for tier, steps := range p.Tiers {
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: tier %q has no phases", shared.ErrConfiguration, tier)
		}
		for i, s := range steps {
			if _, ok := p.Phases[s.Type]; !ok {
				return nil, fmt.Errorf("%w: tier %q references unknown phase %q", shared.ErrConfiguration, tier, s.Type)
			}
			if s.Days < 0 || (s.Days == 0 && i != len(steps)-1) {
				return nil, fmt.Errorf("%w: tier %q step %d has invalid duration", shared.ErrConfiguration, tier, i)
			}
		}
	}
	return &p, nil
}

// Sequence returns the steps of a tier.
func (p *Program) Sequence(tier string) ([]Step, error) {
	steps, ok := p.Tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", shared.ErrConfiguration, tier)
	}
	return steps, nil
}

// ConstraintsFor returns the generation constraints of a phase type.
func (p *Program) ConstraintsFor(t Type) (Constraints, error) {
	def, ok := p.Phases[t]
	if !ok {
		return Constraints{}, fmt.Errorf("%w: unknown phase type %q", shared.ErrConfiguration, t)
	}
	return Constraints{Type: t, Definition: def}, nil
}

// Layout lays steps out back to back from start. Dates are calendar dates.
func Layout(steps []Step, start time.Time) []Phase {
	cursor := shared.Day(start)
	out := make([]Phase, 0, len(steps))
	for _, s := range steps {
		p := Phase{Type: s.Type, StartDate: cursor}
		if s.Days > 0 {
			end := cursor.AddDate(0, 0, s.Days-1)
			p.PlannedEndDate = &end
			cursor = end.AddDate(0, 0, 1)
		}
		out = append(out, p)
	}
	return out
}
