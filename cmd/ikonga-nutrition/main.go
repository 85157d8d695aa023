package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ikonga-nutrition/internal/app"
	"ikonga-nutrition/internal/config"
	"ikonga-nutrition/internal/database"
	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
	"ikonga-nutrition/internal/resolver"
	"ikonga-nutrition/internal/shared"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "migrate":
		if err := database.RunMigrations(cfg.DatabasePath, log); err != nil {
			log.Fatal("migration failed", "error", err)
		}
	case "serve":
		err = withApp(ctx, cfg, log, func(a *app.App) error { return serve(ctx, a) })
	case "calendar":
		err = withApp(ctx, cfg, log, func(a *app.App) error { return generateCalendar(ctx, a, os.Args[2:]) })
	case "resolve":
		err = withApp(ctx, cfg, log, func(a *app.App) error { return resolveDay(ctx, a, os.Args[2:]) })
	case "metrics-cleanup":
		err = withApp(ctx, cfg, log, func(a *app.App) error { return cleanupMetrics(ctx, a.Metrics, os.Args[2:]) })
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("command failed", "command", os.Args[1], "error", err)
	}
}

func withApp(ctx context.Context, cfg *config.Config, log *logger.Logger, fn func(a *app.App) error) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serve(ctx context.Context, a *app.App) error {
	sched := a.Scheduler()
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()
	return a.APIServer().Run(ctx)
}

func generateCalendar(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: calendar <user-id> <tier> <YYYY-MM-DD>")
	}
	start, err := shared.ParseDate(args[2])
	if err != nil {
		return err
	}
	phases, err := a.Calendar.GenerateCalendar(ctx, args[0], args[1], start)
	if err != nil {
		return err
	}
	for _, p := range phases {
		end := "open"
		if p.PlannedEndDate != nil {
			end = shared.FormatDate(*p.PlannedEndDate)
		}
		fmt.Printf("%-14s %s -> %s active=%t\n", p.Type, shared.FormatDate(p.StartDate), end, p.IsActive)
	}
	return nil
}

func resolveDay(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: resolve <user-id> <YYYY-MM-DD>")
	}
	date, err := shared.ParseDate(args[1])
	if err != nil {
		return err
	}
	res := a.Resolver.ResolveDayContent(ctx, args[0], date)

	var out any = res
	if r, ok := res.(resolver.Resolved); ok {
		out = struct {
			Status resolver.Status `json:"status"`
			Source resolver.Source `json:"source"`
			Phase  string          `json:"phase"`
			Menu   resolver.Menu   `json:"menu"`
		}{r.Status(), r.Source, string(r.Phase), r.Menu}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func cleanupMetrics(ctx context.Context, store *metrics.Store, args []string) error {
	cleanupCmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
	days := cleanupCmd.Int("days", 30, "Keep records for the last N days")
	if err := cleanupCmd.Parse(args); err != nil {
		return err
	}

	affected, err := store.Cleanup(ctx, *days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Successfully removed %d old metric records.\n", affected)
	return nil
}

func printUsage() {
	fmt.Println("Usage: ikonga-nutrition <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  serve                              Run the HTTP API and the scheduled jobs")
	fmt.Println("  migrate                            Apply database migrations")
	fmt.Println("  calendar <user> <tier> <date>      Generate a user's phase calendar")
	fmt.Println("  resolve <user> <date>              Resolve the content of a day")
	fmt.Println("  metrics-cleanup -days N            Remove old metric records")
}
