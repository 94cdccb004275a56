// Package osp is an object-spatial execution engine. Typed walkers move
// across a mutable graph of typed nodes connected by typed edges and trigger
// type-matched abilities as they arrive at each location.
//
// A Program holds the compiled archetype definitions and their abilities.
// A Runtime binds a Program to a Store and a root node, and offers the graph
// operations (Connect, Disconnect, Delete, Refs), the walk scheduler (Spawn)
// and a fire-and-join wrapper for running independent walks in parallel
// (ThreadRun, ThreadWait).
package osp
