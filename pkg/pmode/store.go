package pmode

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no live PMode matches
var ErrNotFound = errors.New("pmode: not found")

// Store persists PModes. Deleting is a soft delete: the PMode stays
// readable through Get and List(ctx, true) with Deleted set.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the PMode with the given ID, including tombstones, or ErrNotFound
	Get(ctx context.Context, id string) (*PMode, error)

	// Put creates or replaces a PMode
	Put(ctx context.Context, p *PMode) error

	// SoftDelete marks a PMode as deleted
	SoftDelete(ctx context.Context, id string) error

	// List returns all PModes ordered by ID
	List(ctx context.Context, includeDeleted bool) ([]*PMode, error)

	// DefaultID returns the document level default PMode ID, empty if unset
	DefaultID(ctx context.Context) (string, error)

	// SetDefaultID changes the default PMode ID
	SetDefaultID(ctx context.Context, id string) error
}

// MemoryStore keeps PModes in memory
type MemoryStore struct {
	mu        sync.RWMutex
	pmodes    map[string]*PMode
	defaultID string
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pmodes: make(map[string]*PMode),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*PMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pmodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, p *PMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := p.Clone()
	stamp(c, s.pmodes[c.ID], s.now())
	s.pmodes[c.ID] = c
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pmodes[id]
	if !ok {
		return ErrNotFound
	}
	p.Deleted = true
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context, includeDeleted bool) ([]*PMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PMode, 0, len(s.pmodes))
	for _, p := range s.pmodes {
		if p.Deleted && !includeDeleted {
			continue
		}
		out = append(out, p.Clone())
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) DefaultID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultID, nil
}

func (s *MemoryStore) SetDefaultID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultID = id
	return nil
}

// stamp keeps the creation time of a replaced PMode and sets the update time
func stamp(p, prev *PMode, now time.Time) {
	now = now.UTC()
	switch {
	case prev != nil && !prev.CreatedAt.IsZero():
		p.CreatedAt = prev.CreatedAt
	case p.CreatedAt.IsZero():
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

func sortByID(pmodes []*PMode) {
	sort.Slice(pmodes, func(i, j int) bool { return pmodes[i].ID < pmodes[j].ID })
}
