// Package app wires the storage, generation and delivery components together.
package app

import (
	"context"
	"fmt"

	"ikonga-nutrition/internal/api"
	"ikonga-nutrition/internal/config"
	"ikonga-nutrition/internal/database"
	"ikonga-nutrition/internal/genlock"
	"ikonga-nutrition/internal/llm"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/phase"
	"ikonga-nutrition/internal/planner"
	"ikonga-nutrition/internal/profile"
	"ikonga-nutrition/internal/recipe"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/scheduler"
	"ikonga-nutrition/internal/shopping"
)

// App holds the application's dependencies.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	DB        *database.DB
	Program   *phase.Program
	Calendar  *phase.Calendar
	Plans     *planner.WeekPlanRepository
	Overrides *planner.DayOverrideRepository
	Profiles  *profile.Repository
	Recipes   *recipe.Cache
	Metrics   *metrics.Store
	Shopping  *shopping.Builder

	Orchestrator *planner.Orchestrator
	Resolver     *resolver.Resolver

	closers []func() error
}

// New opens the database and builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	program, err := phase.LoadProgram(cfg.ProgramsFile)
	if err != nil {
		return nil, err
	}
	a.Program = program

	textGen, llmCloser, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create text generator: %w", err)
	}
	if llmCloser != nil {
		a.closers = append(a.closers, llmCloser.Close)
	}

	locker, err := newLocker(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := locker.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	db, err := database.NewDB(cfg.DatabasePath, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Calendar = phase.NewCalendar(db.SQL, program, log)
	a.Plans = planner.NewWeekPlanRepository(db.SQL)
	a.Overrides = planner.NewDayOverrideRepository(db.SQL)
	a.Profiles = profile.NewRepository(db.SQL)
	a.Metrics = metrics.NewStore(db.SQL)
	a.Recipes = recipe.NewCache(recipe.NewRepository(db.SQL), recipe.NewLLMGenerator(textGen), a.Metrics, log)

	a.Shopping = shopping.NewBuilder(a.Plans, a.Overrides, a.Recipes, shopping.NewRepository(db.SQL), log)

	a.Orchestrator = planner.NewOrchestrator(planner.Deps{
		Plans:     a.Plans,
		Overrides: a.Overrides,
		Phases:    a.Calendar,
		Program:   program,
		Profiles:  a.Profiles,
		Generator: planner.NewLLMWeekGenerator(textGen),
		Recipes:   a.Recipes,
		Locker:    locker,
		Usage:     a.Metrics,
	}, planner.Options{
		GenerationTimeout: cfg.GenerationTimeout,
		RecipeFanout:      cfg.RecipeFanout,
		BackgroundFanout:  true,
	}, log)

	a.Resolver = resolver.New(a.Calendar, a.Overrides, a.Plans, a.Orchestrator, a.Recipes, resolver.Options{
		Location:     cfg.ProgramTimezone,
		ResolveWait:  cfg.ResolveWait,
		EnrichFanout: cfg.RecipeFanout,
	}, log)

	return a, nil
}

// newLocker uses Redis when REDIS_ADDR is set, the in-process lock otherwise.
func newLocker(cfg *config.Config, log *logger.Logger) (genlock.Locker, error) {
	if cfg.RedisAddr == "" {
		log.Info("using in-process generation lock")
		return genlock.NewMemory(), nil
	}
	// The lock outlives the generation deadline so a slow holder keeps it.
	r, err := genlock.NewRedis(cfg.RedisAddr, 2*cfg.GenerationTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect generation lock: %w", err)
	}
	return r, nil
}

// APIServer builds the HTTP API on top of the resolver and calendar.
func (a *App) APIServer() *api.Server {
	h := api.NewHandlers(a.Resolver, a.Calendar, a.Overrides, a.Plans, a.Shopping)
	return api.NewServer(a.Config.Port, h, api.NewAuthenticator(a.Config.JWTSecret), a.Log)
}

// Scheduler builds the phase advance and prefetch jobs.
func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.NewScheduler(a.Calendar, a.Orchestrator, a.Config.ProgramTimezone, scheduler.Options{}, a.Log)
}

// Close waits for background recipe generation and releases resources in
// reverse order of acquisition.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
