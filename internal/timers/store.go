package timers

import (
	"context"
	"sync"
)

// Store persists the full timer set. SaveAll replaces what was stored.
type Store interface {
	LoadAll(ctx context.Context) ([]Timer, error)
	SaveAll(ctx context.Context, timers []Timer) error
}

// MemoryStore keeps timers in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	timers []Timer
	saves  int
	err    error
}

func NewMemoryStore(initial ...Timer) *MemoryStore {
	m := &MemoryStore{}
	for _, t := range initial {
		m.timers = append(m.timers, t.Clone())
	}
	return m
}

func (m *MemoryStore) LoadAll(context.Context) ([]Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Timer, len(m.timers))
	for i, t := range m.timers {
		out[i] = t.Clone()
	}
	return out, nil
}

func (m *MemoryStore) SaveAll(_ context.Context, timers []Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.timers = make([]Timer, len(timers))
	for i, t := range timers {
		m.timers[i] = t.Clone()
	}
	return nil
}

// FailSaves makes every SaveAll return err until called with nil.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Saves returns the number of successful SaveAll calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
