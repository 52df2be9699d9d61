// Package store owns the in-memory job hierarchy and its durable snapshot.
//
// A single exclusive lock guards the hierarchy. The lock is never held
// across network or filesystem I/O: callers mutate in memory, clone what
// they need, release, then perform I/O on the clone.
package store

import (
	"log/slog"
	"sync"

	"boltzflow/internal/model"
)

// Store is the single-writer owner of the hierarchy.
type Store struct {
	mu    sync.Mutex
	state *model.State
	dirty bool
	root  string

	logger *slog.Logger
}

// New wraps an already-loaded state. Use Load to read it from disk.
func New(root string, state *model.State) *Store {
	return &Store{
		state:  state,
		root:   root,
		logger: slog.With("component", "store"),
	}
}

// Root returns the workspace root directory.
func (s *Store) Root() string {
	return s.root
}

// View runs fn with read access to the state under the lock.
// fn must not retain pointers into the state and must not perform I/O.
func (s *Store) View(fn func(st *model.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Update runs fn with write access under the lock and marks the store
// dirty. fn must not perform I/O.
func (s *Store) Update(fn func(st *model.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	s.dirty = true
}

// Snapshot returns a deep copy of the current state, taken under the lock.
func (s *Store) Snapshot() *model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// MarkDirty flags in-memory state as diverged from the last snapshot.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// takeDirtySnapshot atomically clears the dirty flag and clones the state.
// Returns nil when the store is clean.
func (s *Store) takeDirtySnapshot() *model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	s.dirty = false
	return s.state.Clone()
}

// FlushIfIdle persists pending dirty state only if the lock is free right
// now. Used on shutdown: if the lock is contended the value is allowed to
// be lost; the flush cycle is the safety net during normal operation.
func (s *Store) FlushIfIdle() {
	if !s.mu.TryLock() {
		s.logger.Warn("Skipping shutdown flush, store lock contended")
		return
	}
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	clone := s.state.Clone()
	s.mu.Unlock()

	if err := Persist(s.root, clone); err != nil {
		s.logger.Error("Shutdown flush failed", "error", err)
	}
}

// PersistSnapshot writes a previously-taken snapshot to disk. Never call
// while holding the store lock through View/Update.
func (s *Store) PersistSnapshot(state *model.State) error {
	return Persist(s.root, state)
}
