package recipe

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"ikonga-nutrition/internal/llm"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/shared"
)

//go:embed recipe_prompt.md
var recipePrompt string

var recipeTemplate = template.Must(template.New("recipe").Parse(recipePrompt))

// Generator produces a recipe for a dish. Calling it twice for the same input may
// return different but equally valid recipes.
type Generator interface {
	GenerateRecipe(ctx context.Context, name string, p phase.Type) (*Detail, shared.AgentMeta, error)
}

// LLMGenerator generates recipes with a text model.
type LLMGenerator struct {
	textGen llm.TextGenerator
}

// NewLLMGenerator creates a new LLMGenerator.
func NewLLMGenerator(textGen llm.TextGenerator) *LLMGenerator {
	return &LLMGenerator{textGen: textGen}
}

func (g *LLMGenerator) GenerateRecipe(ctx context.Context, name string, p phase.Type) (*Detail, shared.AgentMeta, error) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: "RecipeWriter"}

	var buf bytes.Buffer
	if err := recipeTemplate.Execute(&buf, struct {
		Name  string
		Phase phase.Type
	}{name, p}); err != nil {
		return nil, meta, fmt.Errorf("failed to build recipe prompt: %w", err)
	}

	resp, err := g.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %v", shared.ErrGeneration, err)
	}
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)

	d, err := parseDetail(resp.Content)
	if err != nil {
		return nil, meta, err
	}
	d.Name = name
	d.Phase = p
	return d, meta, nil
}

func parseDetail(content string) (*Detail, error) {
	var d Detail
	if err := json.Unmarshal([]byte(llm.StripCodeFence(content)), &d); err != nil {
		return nil, fmt.Errorf("%w: failed to parse recipe: %v", shared.ErrGeneration, err)
	}
	if len(d.Ingredients) == 0 {
		return nil, fmt.Errorf("%w: recipe has no ingredients", shared.ErrGeneration)
	}
	d.Instructions = FlattenHTML(d.Instructions)
	if d.Instructions == "" {
		return nil, fmt.Errorf("%w: recipe has no instructions", shared.ErrGeneration)
	}
	return &d, nil
}
