// Package testutil holds helpers shared by package tests that need a real database.
package testutil

import (
	"path/filepath"
	"testing"

	"ikonga-nutrition/internal/database"
	"ikonga-nutrition/internal/logger"
)

// DB opens a migrated SQLite database in a per-test temporary directory.
func DB(tb testing.TB) *database.DB {
	tb.Helper()
	db, err := database.NewDB(filepath.Join(tb.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}
