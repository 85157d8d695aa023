package genlock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/shared"
)

func TestWeekKey(t *testing.T) {
	ws, _ := shared.ParseDate("2024-01-01")
	assert.Equal(t, "weekplan:u1:2024-01-01", WeekKey("u1", ws))
}

func TestMemory_Exclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	release, ok, err := m.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = m.TryLock(ctx, "other")
	assert.True(t, ok, "keys are independent")

	release()
	release()
	assert.False(t, m.Held("k"))

	_, ok, _ = m.TryLock(ctx, "k")
	assert.True(t, ok)
}

func TestMemory_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryLock(ctx, "k"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(addr, 500*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	key := "genlock-test:" + t.Name()
	release, ok, err := r.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, err = r.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	// The lease expires on its own.
	time.Sleep(700 * time.Millisecond)
	_, ok, err = r.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}
