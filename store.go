package osp

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Backend persists anchors. FindByID returns (nil, nil) when no anchor has
// the id. Implementations must be safe for concurrent use and must return
// the same *Anchor for an id while it stays live, so that archetype values
// keep their identity across lookups.
type Backend interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Anchor, error)
	Put(ctx context.Context, a *Anchor) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryBackend keeps anchors in a map. It is the default backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	anchors map[uuid.UUID]*Anchor
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{anchors: make(map[uuid.UUID]*Anchor)}
}

func (m *MemoryBackend) FindByID(_ context.Context, id uuid.UUID) (*Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.anchors[id], nil
}

func (m *MemoryBackend) Put(_ context.Context, a *Anchor) error {
	m.mu.Lock()
	m.anchors[a.ID] = a
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.anchors, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored anchors.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.anchors)
}

// Store resolves anchor ids through a Backend and serializes graph
// mutations. Reads share the lock; mutations hold it exclusively and write
// every anchor they touched through to the backend when they complete.
type Store struct {
	mu      sync.RWMutex
	backend Backend
}

// NewStore wraps backend. A nil backend selects a MemoryBackend.
func NewStore(backend Backend) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{backend: backend}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// FindByID returns the anchor with id, or nil when none exists.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Anchor, error) {
	var found *Anchor
	err := s.view(ctx, func(tx *txn) error {
		a, err := tx.find(id)
		found = a
		return err
	})
	return found, err
}

// Put writes a through to the backend.
func (s *Store) Put(ctx context.Context, a *Anchor) error {
	return s.mutate(ctx, func(tx *txn) error {
		tx.touch(a)
		return nil
	})
}

// Delete removes the anchor with id. Deleting a node removes its incident
// edges first; deleting an edge detaches it from both endpoints. Unknown ids
// are ignored.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, func(tx *txn) error {
		a, err := tx.find(id)
		if err != nil || a == nil {
			return err
		}
		return tx.delete(a)
	})
}

func (s *Store) view(ctx context.Context, fn func(*txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{ctx: ctx, store: s})
}

func (s *Store) mutate(ctx context.Context, fn func(*txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &txn{
		ctx:     ctx,
		store:   s,
		writes:  make(map[uuid.UUID]*Anchor),
		deletes: make(map[uuid.UUID]struct{}),
		created: make(map[uuid.UUID]struct{}),
		saved:   make(map[uuid.UUID]anchorState),
	}
	err := fn(tx)
	if err == nil {
		err = tx.flush()
	}
	if err != nil {
		return tx.rollback(err)
	}
	return nil
}

// anchorState is the part of an anchor a mutation may change in place.
type anchorState struct {
	edges  []uuid.UUID
	access Access
}

// txn is one locked unit of store work. Read-only units have nil write sets.
type txn struct {
	ctx     context.Context
	store   *Store
	writes  map[uuid.UUID]*Anchor
	order   []uuid.UUID
	deletes map[uuid.UUID]struct{}

	// created anchors were attached by this unit; saved holds the state of
	// the others as it was before their first change.
	created map[uuid.UUID]struct{}
	saved   map[uuid.UUID]anchorState
	removed []*Anchor
	// written and dropped record what flush already sent to the backend.
	written []*Anchor
	dropped []*Anchor
}

func (tx *txn) find(id uuid.UUID) (*Anchor, error) {
	if _, gone := tx.deletes[id]; gone {
		return nil, nil
	}
	if a, ok := tx.writes[id]; ok {
		return a, nil
	}
	a, err := tx.store.backend.FindByID(tx.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("osp: find %s: %w", id, err)
	}
	return a, nil
}

func (tx *txn) resolve(id uuid.UUID) (*Anchor, error) {
	a, err := tx.find(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, unresolved(id)
	}
	return a, nil
}

// resolveArchetype returns the stored anchor of arch. An inert archetype, or
// one whose anchor has been deleted, does not resolve.
func (tx *txn) resolveArchetype(arch Archetype) (*Anchor, error) {
	if isNil(arch) {
		return nil, ErrNilArchetype
	}
	a := arch.Anchor()
	if a == nil {
		return nil, fmt.Errorf("%w: %T is not attached", ErrUnresolvedAnchor, arch)
	}
	return tx.resolve(a.ID)
}

// create registers an anchor attached by this unit.
func (tx *txn) create(a *Anchor) {
	tx.created[a.ID] = struct{}{}
	tx.touch(a)
}

// touch marks a for write-through. Callers touch an anchor before changing
// its edges or access so that a failed unit can restore them.
func (tx *txn) touch(a *Anchor) {
	a.dirty = true
	if _, seen := tx.writes[a.ID]; !seen {
		tx.order = append(tx.order, a.ID)
		if _, fresh := tx.created[a.ID]; !fresh {
			tx.saved[a.ID] = snapshot(a)
		}
	}
	tx.writes[a.ID] = a
}

func snapshot(a *Anchor) anchorState {
	st := anchorState{access: a.Access}
	st.access.Roots = maps.Clone(a.Access.Roots)
	if a.Node != nil {
		st.edges = slices.Clone(a.Node.Edges)
	}
	return st
}

func (st anchorState) restore(a *Anchor) {
	a.Access = st.access
	if a.Node != nil {
		a.Node.Edges = st.edges
	}
}

func (tx *txn) delete(a *Anchor) error {
	switch a.Kind {
	case KindNode:
		if _, isRoot := a.Archetype.(*Root); isRoot {
			return fmt.Errorf("%w: %s", ErrRootDeletion, a.ID)
		}
		for _, eid := range append([]uuid.UUID(nil), a.Node.Edges...) {
			edge, err := tx.find(eid)
			if err != nil {
				return err
			}
			if edge != nil {
				if err := tx.deleteEdge(edge); err != nil {
					return err
				}
			}
		}
	case KindEdge:
		return tx.deleteEdge(a)
	}
	tx.remove(a)
	return nil
}

func (tx *txn) deleteEdge(e *Anchor) error {
	for _, end := range []uuid.UUID{e.Edge.Source, e.Edge.Target} {
		n, err := tx.find(end)
		if err != nil {
			return err
		}
		if n != nil && n.Node != nil && slices.Contains(n.Node.Edges, e.ID) {
			tx.touch(n)
			n.Node.removeEdge(e.ID)
		}
	}
	tx.remove(e)
	return nil
}

func (tx *txn) remove(a *Anchor) {
	if _, gone := tx.deletes[a.ID]; gone {
		return
	}
	tx.deletes[a.ID] = struct{}{}
	tx.removed = append(tx.removed, a)
}

// flush writes new edges first, then the other new and changed anchors and
// finally the deletions, so that a stored node never lists an edge that was
// not stored yet or is already gone.
func (tx *txn) flush() error {
	puts := make([]*Anchor, 0, len(tx.order))
	for _, id := range tx.order {
		if _, gone := tx.deletes[id]; !gone {
			puts = append(puts, tx.writes[id])
		}
	}
	slices.SortStableFunc(puts, func(a, b *Anchor) int {
		return tx.rank(a) - tx.rank(b)
	})
	for _, a := range puts {
		if err := tx.store.backend.Put(tx.ctx, a); err != nil {
			return fmt.Errorf("osp: put %s: %w", a.ID, err)
		}
		tx.written = append(tx.written, a)
	}
	for _, a := range tx.removed {
		if err := tx.store.backend.Delete(tx.ctx, a.ID); err != nil {
			return fmt.Errorf("osp: delete %s: %w", a.ID, err)
		}
		tx.dropped = append(tx.dropped, a)
	}
	for _, a := range puts {
		a.dirty = false
	}
	return nil
}

func (tx *txn) rank(a *Anchor) int {
	_, fresh := tx.created[a.ID]
	switch {
	case fresh && a.Kind == KindEdge:
		return 0
	case fresh:
		return 1
	default:
		return 2
	}
}

// rollback restores the anchors changed by a failed unit, unbinds the ones it
// attached and undoes what flush already wrote. It returns cause joined with
// any backend error met on the way.
func (tx *txn) rollback(cause error) error {
	for id, st := range tx.saved {
		a := tx.writes[id]
		st.restore(a)
		a.dirty = false
	}
	ctx := context.WithoutCancel(tx.ctx)
	errs := []error{cause}
	for _, a := range tx.dropped {
		if err := tx.store.backend.Put(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("osp: restore %s: %w", a.ID, err))
		}
	}
	for _, a := range tx.written {
		var err error
		if _, fresh := tx.created[a.ID]; fresh {
			err = tx.store.backend.Delete(ctx, a.ID)
		} else {
			err = tx.store.backend.Put(ctx, a)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("osp: restore %s: %w", a.ID, err))
		}
	}
	for id := range tx.created {
		a := tx.writes[id]
		if a.Archetype != nil {
			a.Archetype.bindAnchor(nil)
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}
