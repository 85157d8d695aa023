package recipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/shared"
)

// UsageRecorder persists token usage of a generation call.
type UsageRecorder interface {
	RecordMeta(ctx context.Context, meta shared.AgentMeta) error
}

// Cache resolves (dish, phase) pairs, generating on miss. Concurrent misses for
// the same key may both call the generator; the first stored row wins and every
// caller returns it.
type Cache struct {
	repo  *Repository
	gen   Generator
	usage UsageRecorder
	log   *logger.Logger
}

// NewCache creates a new Cache. usage may be nil.
func NewCache(repo *Repository, gen Generator, usage UsageRecorder, log *logger.Logger) *Cache {
	return &Cache{
		repo:  repo,
		gen:   gen,
		usage: usage,
		log:   log.With("component", "RecipeCache"),
	}
}

// Count returns the number of cached recipes.
func (c *Cache) Count(ctx context.Context) (int, error) {
	return c.repo.Count(ctx)
}

// Lookup returns the cached recipe without generating. Nil when absent.
func (c *Cache) Lookup(ctx context.Context, name string, p phase.Type) (*Detail, error) {
	return c.repo.Get(ctx, name, p)
}

// GetOrGenerate returns the cached recipe for (name, p), generating it on a miss.
func (c *Cache) GetOrGenerate(ctx context.Context, name string, p phase.Type) (*Detail, error) {
	if NormalizeName(name) == "" {
		return nil, errors.New("empty dish name")
	}

	d, err := c.repo.Get(ctx, name, p)
	if err != nil {
		metrics.ObserveRecipeLookup("error")
		return nil, err
	}
	if d != nil {
		metrics.ObserveRecipeLookup("hit")
		return d, nil
	}
	metrics.ObserveRecipeLookup("miss")

	start := time.Now()
	generated, meta, err := c.gen.GenerateRecipe(ctx, name, p)
	c.recordUsage(ctx, meta)
	if err != nil {
		metrics.ObserveGeneration("recipe", "error", time.Since(start))
		return nil, fmt.Errorf("failed to generate recipe %q: %w", name, err)
	}
	metrics.ObserveGeneration("recipe", "ok", time.Since(start))

	generated.Name = name
	generated.Phase = p
	created, err := c.repo.CreateIfAbsent(ctx, *generated)
	if err != nil {
		return nil, err
	}
	if created {
		c.log.Debug("recipe cached", "dish", name, "phase", p)
		return generated, nil
	}

	// Lost the race: return the winner's row.
	stored, err := c.repo.Get(ctx, name, p)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("recipe %q: %w", name, shared.ErrNotFound)
	}
	return stored, nil
}

func (c *Cache) recordUsage(ctx context.Context, meta shared.AgentMeta) {
	if c.usage == nil {
		return
	}
	if err := c.usage.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
		c.log.Warn("failed to record recipe usage", "error", err)
	}
}
