// Package genlock provides keyed mutual exclusion for expensive generation calls.
// Memory works within one process; Redis extends the guarantee across instances.
package genlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ikonga-nutrition/internal/shared"
)

// Locker grants exclusive ownership of a key without blocking. When acquired is
// false another holder owns the key and release is nil.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// WeekKey is the lock key of a week plan generation.
func WeekKey(userID string, weekStart time.Time) string {
	return fmt.Sprintf("weekplan:%s:%s", userID, shared.FormatDate(weekStart))
}

// Memory is an in-process Locker. Keys die with the process.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
