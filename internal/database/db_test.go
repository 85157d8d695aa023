package database

import (
	"path/filepath"
	"testing"

	"ikonga-nutrition/internal/logger"
)

func TestNewDB_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := NewDB(path, logger.Nop())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"phases", "week_plans", "day_overrides", "recipe_cache", "user_profiles", "execution_metrics", "shopping_lists"} {
		var name string
		err := db.SQL.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}

	// Re-running migrations on an up-to-date database is a no-op.
	if err := RunMigrations(path, logger.Nop()); err != nil {
		t.Errorf("Expected second migration run to succeed, got %v", err)
	}
}

func TestOneActivePhaseIndex(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	insert := `INSERT INTO phases (id, user_id, tier, type, start_date, is_active, created_at) VALUES (?, 'u1', 'standard', 'DETOX', '2024-01-01', 1, '2024-01-01T00:00:00Z')`
	if _, err := db.SQL.Exec(insert, "p1"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.SQL.Exec(insert, "p2"); err == nil {
		t.Fatal("Expected the second active phase for the same user to be rejected")
	}
}
