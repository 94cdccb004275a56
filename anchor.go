package osp

import (
	"slices"

	"github.com/google/uuid"
)

// SystemRootID is the well-known id of the default root node.
var SystemRootID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Kind tags the archetype variant an anchor wraps.
type Kind uint8

const (
	KindObj Kind = iota + 1
	KindNode
	KindEdge
	KindWalker
)

func (k Kind) String() string {
	switch k {
	case KindObj:
		return "obj"
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	case KindWalker:
		return "walker"
	default:
		return "unknown"
	}
}

// WalkerState is the lifecycle state of a walker.
type WalkerState uint8

const (
	WalkerIdle WalkerState = iota
	WalkerActive
	WalkerDone
)

func (s WalkerState) String() string {
	switch s {
	case WalkerActive:
		return "active"
	case WalkerDone:
		return "done"
	default:
		return "idle"
	}
}

// Anchor is the graph-resident identity of an archetype instance. Graph
// structure is expressed with anchor ids only; the store owns anchor lifetime.
type Anchor struct {
	ID         uuid.UUID
	Kind       Kind
	Type       string
	Archetype  Archetype
	Access     Access
	Persistent bool

	Node   *NodeAnchor
	Edge   *EdgeAnchor
	Walker *WalkerAnchor

	dirty bool
}

// Dirty reports whether the anchor changed since it was last written to the backend.
func (a *Anchor) Dirty() bool {
	return a.dirty
}

// NodeAnchor keeps the incident edges of a node in insertion order.
type NodeAnchor struct {
	Edges []uuid.UUID
}

func (n *NodeAnchor) removeEdge(id uuid.UUID) bool {
	idx := slices.Index(n.Edges, id)
	if idx < 0 {
		return false
	}
	n.Edges = slices.Delete(n.Edges, idx, idx+1)
	return true
}

// EdgeAnchor joins two node anchors.
type EdgeAnchor struct {
	Source     uuid.UUID
	Target     uuid.UUID
	Undirected bool
}

// FarEnd returns the endpoint reached from here when travelling in dir, and
// false when the edge does not lead away from here in that direction. An
// undirected edge leads both ways.
func (e *EdgeAnchor) FarEnd(here uuid.UUID, dir Direction) (uuid.UUID, bool) {
	if e.Source == here && (dir&Outgoing != 0 || e.Undirected) {
		return e.Target, true
	}
	if e.Target == here && (dir&Incoming != 0 || e.Undirected) {
		return e.Source, true
	}
	return uuid.UUID{}, false
}

// Joins reports whether the edge connects a and b in either orientation.
func (e *EdgeAnchor) Joins(a, b uuid.UUID) bool {
	return (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a)
}

// WalkerAnchor is the traversal state of a walker.
type WalkerAnchor struct {
	State      WalkerState
	Location   uuid.UUID
	Queue      []uuid.UUID
	Ignored    map[uuid.UUID]struct{}
	Disengaged bool
	Reports    []any
	Path       []uuid.UUID
}

// BindAnchor links an archetype and its anchor. Persistence backends use it
// when rehydrating anchors.
func BindAnchor(a *Anchor, arch Archetype) {
	a.Archetype = arch
	arch.bindAnchor(a)
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
