package osp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// ConnectOption configures Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	edge       EdgeArchetype
	undirected bool
	attrs      map[string]any
}

// WithEdge uses edge, an inert edge archetype, as the new edge. GenericEdge
// is used otherwise.
func WithEdge(edge EdgeArchetype) ConnectOption {
	return func(o *connectOptions) {
		o.edge = edge
	}
}

// Undirected makes the new edge traversable in both directions from both
// endpoints.
func Undirected() ConnectOption {
	return func(o *connectOptions) {
		o.undirected = true
	}
}

// WithAttrs assigns attrs to the new edge before it is attached.
func WithAttrs(attrs map[string]any) ConnectOption {
	return func(o *connectOptions) {
		if o.attrs == nil {
			o.attrs = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			o.attrs[k] = v
		}
	}
}

// Connect creates one edge from left to right and returns right, so that
// Connect(ctx, rt, Connect(ctx, rt, a, b), c) joins a to b and b to c. left
// must be attached; an inert right node is attached inline. Both endpoints
// need connect access. Nothing is attached when the edge attributes do not
// fit.
func Connect[N NodeArchetype](ctx context.Context, rt *Runtime, left NodeArchetype, right N, opts ...ConnectOption) (N, error) {
	var o connectOptions
	for _, opt := range opts {
		opt(&o)
	}
	if isNil(left) || isNil(right) {
		return right, ErrNilArchetype
	}
	edge := o.edge
	if isNil(edge) {
		edge = &GenericEdge{}
	}
	if edge.Anchor() != nil {
		return right, fmt.Errorf("%w: %s", ErrEdgeAttached, edge.Anchor().ID)
	}

	err := rt.store.mutate(ctx, func(tx *txn) error {
		l, err := tx.resolveArchetype(left)
		if err != nil {
			return err
		}
		if err := rt.require(l, ConnectAccess); err != nil {
			return err
		}
		var r *Anchor
		if right.Anchor() != nil {
			if r, err = tx.resolveArchetype(right); err != nil {
				return err
			}
			if err := rt.require(r, ConnectAccess); err != nil {
				return err
			}
		}
		if err := assignAttributes(edge, o.attrs); err != nil {
			return err
		}
		if r == nil {
			if r, err = rt.attach(tx, right); err != nil {
				return err
			}
		}
		e, err := rt.attach(tx, edge)
		if err != nil {
			return err
		}
		e.Edge.Source = l.ID
		e.Edge.Target = r.ID
		e.Edge.Undirected = o.undirected

		tx.touch(l)
		l.Node.Edges = append(l.Node.Edges, e.ID)
		if r.ID != l.ID {
			tx.touch(r)
			r.Node.Edges = append(r.Node.Edges, e.ID)
		}
		rt.logger.Debug("connected",
			slog.String("edge", e.ID.String()),
			slog.String("type", e.Type),
			slog.String("source", l.ID.String()),
			slog.String("target", r.ID.String()),
			slog.Bool("undirected", o.undirected),
		)
		return nil
	})
	return right, err
}

// DisconnectOption narrows the edges Disconnect removes.
type DisconnectOption func(*disconnectOptions)

type disconnectOptions struct {
	dir   Direction
	edge  Matcher
	where func(EdgeArchetype) bool
}

// DisconnectDirection only removes edges leading from left to right in dir.
func DisconnectDirection(dir Direction) DisconnectOption {
	return func(o *disconnectOptions) {
		o.dir = dir
	}
}

// DisconnectEdge only removes edges matched by m.
func DisconnectEdge(m Matcher) DisconnectOption {
	return func(o *disconnectOptions) {
		o.edge = m
	}
}

// DisconnectIf only removes edges for which fn returns true. fn runs under
// the store lock.
func DisconnectIf(fn func(EdgeArchetype) bool) DisconnectOption {
	return func(o *disconnectOptions) {
		o.where = fn
	}
}

// Disconnect removes every edge joining left and right that the options
// select and returns how many were removed. Each removed edge needs write
// access; nothing is removed when one is denied.
func (rt *Runtime) Disconnect(ctx context.Context, left, right NodeArchetype, opts ...DisconnectOption) (int, error) {
	o := disconnectOptions{dir: AnyDirection}
	for _, opt := range opts {
		opt(&o)
	}
	removed := 0
	err := rt.store.mutate(ctx, func(tx *txn) error {
		l, err := tx.resolveArchetype(left)
		if err != nil {
			return err
		}
		r, err := tx.resolveArchetype(right)
		if err != nil {
			return err
		}

		var victims []*Anchor
		for _, eid := range slices.Clone(l.Node.Edges) {
			e, err := tx.find(eid)
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			far, ok := e.Edge.FarEnd(l.ID, o.dir)
			if !ok || far != r.ID || !o.edge.Matches(e.Archetype) {
				continue
			}
			if o.where != nil && !o.where(e.Archetype.(EdgeArchetype)) {
				continue
			}
			if err := rt.require(e, WriteAccess); err != nil {
				return err
			}
			victims = append(victims, e)
		}
		for _, e := range victims {
			if err := tx.deleteEdge(e); err != nil {
				return err
			}
		}
		removed = len(victims)
		return nil
	})
	return removed, err
}
