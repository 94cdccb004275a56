package osp

import (
	"context"

	"github.com/google/uuid"
)

// Direction selects which incident edges a query follows.
type Direction uint8

const (
	Outgoing Direction = 1 << iota
	Incoming

	AnyDirection = Outgoing | Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "out"
	case Incoming:
		return "in"
	case AnyDirection:
		return "any"
	default:
		return "none"
	}
}

// Query is a one-hop traversal query. Queries are values; the filter methods
// return a narrowed copy.
type Query struct {
	dir       Direction
	edge      Matcher
	edgeWhere func(EdgeArchetype) bool
	node      Matcher
	nodeWhere func(NodeArchetype) bool
}

// Out follows outgoing edges.
func Out() Query { return Query{dir: Outgoing} }

// In follows incoming edges.
func In() Query { return Query{dir: Incoming} }

// Both follows edges in either direction.
func Both() Query { return Query{dir: AnyDirection} }

// Direction returns the direction the query follows.
func (q Query) Direction() Direction { return q.dir }

// OfEdge keeps edges matched by m.
func (q Query) OfEdge(m Matcher) Query {
	q.edge = m
	return q
}

// WhereEdge keeps edges for which fn returns true. fn runs under the store
// read lock and must not call back into the runtime.
func (q Query) WhereEdge(fn func(EdgeArchetype) bool) Query {
	prev := q.edgeWhere
	q.edgeWhere = func(e EdgeArchetype) bool {
		return (prev == nil || prev(e)) && fn(e)
	}
	return q
}

// OfNode keeps far-end nodes matched by m.
func (q Query) OfNode(m Matcher) Query {
	q.node = m
	return q
}

// WhereNode keeps far-end nodes for which fn returns true.
func (q Query) WhereNode(fn func(NodeArchetype) bool) Query {
	prev := q.nodeWhere
	q.nodeWhere = func(n NodeArchetype) bool {
		return (prev == nil || prev(n)) && fn(n)
	}
	return q
}

type hop struct {
	edge *Anchor
	node *Anchor
}

// Refs returns the nodes one hop away from from that q selects, in edge
// insertion order. From an edge, Out yields its target and In its source.
func (rt *Runtime) Refs(ctx context.Context, from Archetype, q Query) ([]NodeArchetype, error) {
	var out []NodeArchetype
	err := rt.store.view(ctx, func(tx *txn) error {
		hops, err := rt.resolveQuery(tx, from, q)
		for _, h := range hops {
			out = append(out, h.node.Archetype.(NodeArchetype))
		}
		return err
	})
	return out, err
}

// EdgeRefs returns the edges q follows from the node from, in insertion
// order.
func (rt *Runtime) EdgeRefs(ctx context.Context, from NodeArchetype, q Query) ([]EdgeArchetype, error) {
	var out []EdgeArchetype
	err := rt.store.view(ctx, func(tx *txn) error {
		hops, err := rt.resolveQuery(tx, from, q)
		for _, h := range hops {
			if h.edge != nil {
				out = append(out, h.edge.Archetype.(EdgeArchetype))
			}
		}
		return err
	})
	return out, err
}

func (rt *Runtime) resolveQuery(tx *txn, from Archetype, q Query) ([]hop, error) {
	here, err := tx.resolveArchetype(from)
	if err != nil {
		return nil, err
	}
	if q.dir == 0 {
		q.dir = Outgoing
	}
	switch here.Kind {
	case KindNode:
		return rt.nodeHops(tx, here, q)
	case KindEdge:
		return rt.edgeHops(tx, here, q)
	default:
		return nil, nil
	}
}

func (rt *Runtime) nodeHops(tx *txn, here *Anchor, q Query) ([]hop, error) {
	var hops []hop
	for _, eid := range here.Node.Edges {
		e, err := tx.find(eid)
		if err != nil {
			return nil, err
		}
		if e == nil || !rt.allows(e, ReadAccess) {
			continue
		}
		far, ok := e.Edge.FarEnd(here.ID, q.dir)
		if !ok || !q.keepsEdge(e.Archetype) {
			continue
		}
		n, err := rt.readableNode(tx, far, q)
		if err != nil {
			return nil, err
		}
		if n != nil {
			hops = append(hops, hop{edge: e, node: n})
		}
	}
	return hops, nil
}

func (rt *Runtime) edgeHops(tx *txn, here *Anchor, q Query) ([]hop, error) {
	var ends []uuid.UUID
	if q.dir&Incoming != 0 {
		ends = append(ends, here.Edge.Source)
	}
	if q.dir&Outgoing != 0 {
		ends = append(ends, here.Edge.Target)
	}
	var hops []hop
	for _, id := range ends {
		n, err := rt.readableNode(tx, id, q)
		if err != nil {
			return nil, err
		}
		if n != nil {
			hops = append(hops, hop{node: n})
		}
	}
	return hops, nil
}

func (rt *Runtime) readableNode(tx *txn, id uuid.UUID, q Query) (*Anchor, error) {
	n, err := tx.find(id)
	if err != nil || n == nil {
		return nil, err
	}
	if !rt.allows(n, ReadAccess) || !q.keepsNode(n.Archetype) {
		return nil, nil
	}
	return n, nil
}

func (q Query) keepsEdge(a Archetype) bool {
	if !q.edge.Matches(a) {
		return false
	}
	return q.edgeWhere == nil || q.edgeWhere(a.(EdgeArchetype))
}

func (q Query) keepsNode(a Archetype) bool {
	if !q.node.Matches(a) {
		return false
	}
	return q.nodeWhere == nil || q.nodeWhere(a.(NodeArchetype))
}
