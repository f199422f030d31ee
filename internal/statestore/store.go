// Package statestore reads and writes entity attribute records in the
// external state store shared with the home-automation platform.
package statestore

import (
	"context"
	"slices"
	"sync"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
)

// Reader returns the current attributes of an entity. Unknown entities
// produce a not_found classified error.
type Reader interface {
	Read(ctx context.Context, entity string) (Attributes, error)
}

// Writer merges patch into the entity record. Keys with nil values are
// removed. Writing an unknown entity creates it.
type Writer interface {
	Write(ctx context.Context, entity string, patch Attributes) error
}

// Store reads and writes entity attribute records.
type Store interface {
	Reader
	Writer
}

// IsNotFound reports whether err is an unknown-entity error.
func IsNotFound(err error) bool {
	return ferrors.HasCategory(err, ferrors.CategoryNotFound)
}

func notFound(entity string) error {
	return ferrors.NotFoundError("entity not found").WithContext("entity", entity).Build()
}

// WriteRecord is one applied write, kept by MemoryStore.
type WriteRecord struct {
	Entity string
	Patch  Attributes
}

// MemoryStore is an in-process Store. It records every applied write and
// can be told to fail writes.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]Attributes
	writes   []WriteRecord
	failNext int
	failErr  error
	onWrite  func(WriteRecord)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]Attributes)}
}

// Set replaces an entity record without recording a write, as an external
// change would.
func (m *MemoryStore) Set(entity string, attrs Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity] = attrs.Clone()
}

// Update merges patch without recording a write.
func (m *MemoryStore) Update(entity string, patch Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity] = m.entities[entity].Apply(patch)
}

// FailWrites makes the next n writes return err.
func (m *MemoryStore) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext, m.failErr = n, err
}

// OnWrite registers a hook called after every applied write.
func (m *MemoryStore) OnWrite(fn func(WriteRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

func (m *MemoryStore) Read(_ context.Context, entity string) (Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.entities[entity]
	if !ok {
		return nil, notFound(entity)
	}
	return attrs.Clone(), nil
}

func (m *MemoryStore) Write(_ context.Context, entity string, patch Attributes) error {
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		m.mu.Unlock()
		return ferrors.ExternalWriteError("write rejected").WithCause(err).WithContext("entity", entity).Build()
	}
	m.entities[entity] = m.entities[entity].Apply(patch)
	rec := WriteRecord{Entity: entity, Patch: patch.Clone()}
	m.writes = append(m.writes, rec)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return nil
}

// Writes returns the applied writes, optionally filtered to one entity.
func (m *MemoryStore) Writes(entity string) []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entity == "" {
		return slices.Clone(m.writes)
	}
	var out []WriteRecord
	for _, w := range m.writes {
		if w.Entity == entity {
			out = append(out, w)
		}
	}
	return out
}
