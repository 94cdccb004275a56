package osp

import (
	"reflect"
	"slices"
)

// Archetype is a user-defined value known to the engine. A type becomes an
// archetype by embedding exactly one of Obj, Node, Edge or Walker, and is
// used through a pointer.
type Archetype interface {
	// Anchor returns the anchor bound to the value, or nil while it is inert.
	Anchor() *Anchor
	archetypeKind() Kind
	bindAnchor(*Anchor)
}

// NodeArchetype is an archetype embedding Node.
type NodeArchetype interface {
	Archetype
	isNode()
}

// EdgeArchetype is an archetype embedding Edge.
type EdgeArchetype interface {
	Archetype
	isEdge()
}

// WalkerArchetype is an archetype embedding Walker.
type WalkerArchetype interface {
	Archetype
	walker() *Walker
}

// ObjArchetype is an archetype embedding Obj.
type ObjArchetype interface {
	Archetype
	isObj()
}

// Obj is the base for plain data archetypes that do not join the graph.
type Obj struct {
	anchor *Anchor
}

func (o *Obj) Anchor() *Anchor      { return o.anchor }
func (o *Obj) archetypeKind() Kind  { return KindObj }
func (o *Obj) bindAnchor(a *Anchor) { o.anchor = a }
func (o *Obj) isObj()               {}

// Node is the base for node archetypes.
type Node struct {
	anchor *Anchor
}

func (n *Node) Anchor() *Anchor      { return n.anchor }
func (n *Node) archetypeKind() Kind  { return KindNode }
func (n *Node) bindAnchor(a *Anchor) { n.anchor = a }
func (n *Node) isNode()              {}

// Edge is the base for edge archetypes. Exported fields of the embedding
// type are the edge attributes.
type Edge struct {
	anchor *Anchor
}

func (e *Edge) Anchor() *Anchor      { return e.anchor }
func (e *Edge) archetypeKind() Kind  { return KindEdge }
func (e *Edge) bindAnchor(a *Anchor) { e.anchor = a }
func (e *Edge) isEdge()              {}

// Walker is the base for walker archetypes.
type Walker struct {
	anchor *Anchor
}

func (w *Walker) Anchor() *Anchor      { return w.anchor }
func (w *Walker) archetypeKind() Kind  { return KindWalker }
func (w *Walker) bindAnchor(a *Anchor) { w.anchor = a }
func (w *Walker) walker() *Walker      { return w }

// Reports returns a copy of the values reported during the walk.
func (w *Walker) Reports() []any {
	if w.anchor == nil || w.anchor.Walker == nil {
		return nil
	}
	return slices.Clone(w.anchor.Walker.Reports)
}

// Disengaged reports whether the walker stopped through Disengage.
func (w *Walker) Disengaged() bool {
	return w.anchor != nil && w.anchor.Walker != nil && w.anchor.Walker.Disengaged
}

// State returns the walker lifecycle state.
func (w *Walker) State() WalkerState {
	if w.anchor == nil || w.anchor.Walker == nil {
		return WalkerIdle
	}
	return w.anchor.Walker.State
}

// Root is the distinguished entry node of an execution context.
type Root struct {
	Node
}

// GenericEdge is the edge type Connect uses when none is given.
type GenericEdge struct {
	Edge
}

// Opaque is implemented by the placeholder archetypes a Program built with
// WithOpaque returns for type names it does not define.
type Opaque interface {
	Archetype
	RawFields() map[string]any
	SetRawFields(map[string]any)
}

// OpaqueNode stands in for a node type the program does not define.
type OpaqueNode struct {
	Node
	Fields map[string]any
}

func (o *OpaqueNode) RawFields() map[string]any     { return o.Fields }
func (o *OpaqueNode) SetRawFields(f map[string]any) { o.Fields = f }

// OpaqueEdge stands in for an edge type the program does not define.
type OpaqueEdge struct {
	Edge
	Fields map[string]any
}

func (o *OpaqueEdge) RawFields() map[string]any     { return o.Fields }
func (o *OpaqueEdge) SetRawFields(f map[string]any) { o.Fields = f }

// OpaqueObj stands in for an obj type the program does not define.
type OpaqueObj struct {
	Obj
	Fields map[string]any
}

func (o *OpaqueObj) RawFields() map[string]any     { return o.Fields }
func (o *OpaqueObj) SetRawFields(f map[string]any) { o.Fields = f }

func isNil(a Archetype) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
