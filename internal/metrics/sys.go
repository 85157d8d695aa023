package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

// RecipeCounter reports how many recipes are cached.
type RecipeCounter interface {
	Count(ctx context.Context) (int, error)
}

// Health is the admin view of the process and of the content it stores.
type Health struct {
	AllocMB       uint64
	SysMB         uint64
	NumGC         uint32
	Goroutines    int
	DatabaseBytes int64
	CachedRecipes int
}

// CollectHealth reads runtime memory figures, the size of the SQLite database
// at dbPath (WAL and shared-memory files included) and the recipe cache size.
func CollectHealth(ctx context.Context, dbPath string, recipes RecipeCounter) (Health, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h := Health{
		AllocMB:       m.Alloc / 1024 / 1024,
		SysMB:         m.Sys / 1024 / 1024,
		NumGC:         m.NumGC,
		Goroutines:    runtime.NumGoroutine(),
		DatabaseBytes: databaseSize(dbPath),
	}
	if recipes != nil {
		n, err := recipes.Count(ctx)
		if err != nil {
			return h, fmt.Errorf("failed to count cached recipes: %w", err)
		}
		h.CachedRecipes = n
	}
	return h, nil
}

func databaseSize(path string) int64 {
	var size int64
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			size += info.Size()
		}
	}
	return size
}

// FormatBytes renders a byte count with a binary unit, e.g. "1.5 MB".
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
