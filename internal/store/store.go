// Package store persists units of work. The orchestrator reloads each unit
// through the store before every stage, so external status changes (notably
// cancellation) are observed at stage boundaries.
package store

import (
	"sort"
	"sync"

	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Store is the persistence boundary for units of work.
type Store interface {
	// Save persists the unit, overwriting any previous version.
	Save(u *unit.UnitOfWork) error

	// Load returns the unit with the given ID, or ErrUnitNotFound.
	Load(id string) (*unit.UnitOfWork, error)

	// List returns all known units ordered by ID.
	List() ([]*unit.UnitOfWork, error)

	// UnitStatus reports the lifecycle status of a unit, if known.
	UnitStatus(id string) (unit.Status, bool)
}

// MemStore is an in-memory Store. Units are deep-copied on every boundary
// so callers never share mutable state with the store.
type MemStore struct {
	mu    sync.RWMutex
	units map[string]*unit.UnitOfWork
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{units: make(map[string]*unit.UnitOfWork)}
}

// Save persists a copy of the unit.
func (s *MemStore) Save(u *unit.UnitOfWork) error {
	if u.ID == "" {
		return errors.NewValidationError("unit id is required").WithField("id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u.Clone()
	return nil
}

// Load returns a copy of the stored unit.
func (s *MemStore) Load(id string) (*unit.UnitOfWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, errors.NewNotFoundError("unit", id).WithCause(errors.ErrUnitNotFound)
	}
	return u.Clone(), nil
}

// List returns copies of all stored units, ordered by ID.
func (s *MemStore) List() ([]*unit.UnitOfWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*unit.UnitOfWork, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UnitStatus reports the stored unit's status. Satisfies the reservation
// manager's StatusSource.
func (s *MemStore) UnitStatus(id string) (unit.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return "", false
	}
	return u.Status, true
}
