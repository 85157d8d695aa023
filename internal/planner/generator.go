package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"ikonga-nutrition/internal/llm"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/profile"
	"ikonga-nutrition/internal/shared"
)

//go:embed week_prompt.md
var weekPrompt string

var weekTemplate = template.Must(template.New("week").Funcs(template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}).Parse(weekPrompt))

// WeekGenerator produces the content of a whole program week. It is slow,
// may fail, and is not idempotent.
type WeekGenerator interface {
	GenerateWeek(ctx context.Context, snapshot profile.Snapshot, constraints phase.Constraints) (WeekContent, shared.AgentMeta, error)
}

// LLMWeekGenerator generates week content with a text model.
type LLMWeekGenerator struct {
	textGen llm.TextGenerator
}

// NewLLMWeekGenerator creates a new LLMWeekGenerator.
func NewLLMWeekGenerator(textGen llm.TextGenerator) *LLMWeekGenerator {
	return &LLMWeekGenerator{textGen: textGen}
}

func (g *LLMWeekGenerator) GenerateWeek(ctx context.Context, snapshot profile.Snapshot, constraints phase.Constraints) (WeekContent, shared.AgentMeta, error) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: "WeekPlanner"}

	prompt, err := buildWeekPrompt(snapshot, constraints)
	if err != nil {
		return WeekContent{}, meta, err
	}

	resp, err := g.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		return WeekContent{}, meta, fmt.Errorf("%w: %v", shared.ErrGeneration, err)
	}
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)

	var content WeekContent
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Content)), &content); err != nil {
		return WeekContent{}, meta, fmt.Errorf("%w: failed to parse week content: %v", shared.ErrGeneration, err)
	}
	if err := content.Validate(); err != nil {
		return WeekContent{}, meta, fmt.Errorf("%w: %v", shared.ErrGeneration, err)
	}
	return content, meta, nil
}

func buildWeekPrompt(snapshot profile.Snapshot, constraints phase.Constraints) (string, error) {
	var buf bytes.Buffer
	err := weekTemplate.Execute(&buf, struct {
		Profile profile.Snapshot
		Phase   phase.Constraints
	}{snapshot, constraints})
	if err != nil {
		return "", fmt.Errorf("failed to build week prompt: %w", err)
	}
	return buf.String(), nil
}
