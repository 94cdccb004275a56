package osp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Level is an access level granted to a root on an anchor.
type Level int8

const (
	NoAccess Level = iota - 1
	ReadAccess
	ConnectAccess
	WriteAccess
)

func (l Level) String() string {
	switch l {
	case ReadAccess:
		return "read"
	case ConnectAccess:
		return "connect"
	case WriteAccess:
		return "write"
	default:
		return "none"
	}
}

// Access is the access-control envelope of an anchor.
type Access struct {
	Owner uuid.UUID
	All   Level
	Roots map[uuid.UUID]Level
}

// LevelFor returns the level root holds. The owner and the system root hold
// write access; an explicit grant for root wins over All.
func (a Access) LevelFor(root uuid.UUID) Level {
	if root == SystemRootID || root == a.Owner {
		return WriteAccess
	}
	if lvl, ok := a.Roots[root]; ok {
		return lvl
	}
	return a.All
}

func (rt *Runtime) allows(a *Anchor, need Level) bool {
	return a.Access.LevelFor(rt.root) >= need
}

func (rt *Runtime) require(a *Anchor, need Level) error {
	if !rt.allows(a, need) {
		return denied(a.ID, need)
	}
	return nil
}

func (rt *Runtime) requireOwner(a *Anchor) error {
	if rt.root != SystemRootID && rt.root != a.Access.Owner {
		return fmt.Errorf("%w: %s is not owned by %s", ErrAccessDenied, a.ID, rt.root)
	}
	return nil
}

// AllowRoot grants root the given level on arch.
func (rt *Runtime) AllowRoot(ctx context.Context, arch Archetype, root uuid.UUID, level Level) error {
	return rt.changeAccess(ctx, arch, func(acc *Access) {
		if acc.Roots == nil {
			acc.Roots = make(map[uuid.UUID]Level)
		}
		acc.Roots[root] = level
	})
}

// DisallowRoot removes any explicit grant for root on arch.
func (rt *Runtime) DisallowRoot(ctx context.Context, arch Archetype, root uuid.UUID) error {
	return rt.changeAccess(ctx, arch, func(acc *Access) {
		delete(acc.Roots, root)
	})
}

// Grant sets the level every root without an explicit grant holds on arch.
func (rt *Runtime) Grant(ctx context.Context, arch Archetype, level Level) error {
	return rt.changeAccess(ctx, arch, func(acc *Access) {
		acc.All = level
	})
}

// Revoke makes arch private to its owner again.
func (rt *Runtime) Revoke(ctx context.Context, arch Archetype) error {
	return rt.Grant(ctx, arch, NoAccess)
}

func (rt *Runtime) changeAccess(ctx context.Context, arch Archetype, fn func(*Access)) error {
	if isNil(arch) {
		return ErrNilArchetype
	}
	return rt.store.mutate(ctx, func(tx *txn) error {
		a, err := tx.resolveArchetype(arch)
		if err != nil {
			return err
		}
		if err := rt.requireOwner(a); err != nil {
			return err
		}
		tx.touch(a)
		fn(&a.Access)
		return nil
	})
}
