package osp

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnresolvedAnchor indicates an operation referenced an anchor that is not in the store.
	ErrUnresolvedAnchor = errors.New("osp: unresolved anchor")
	// ErrInvalidAttributeAssignment indicates attribute names or types do not fit the archetype.
	ErrInvalidAttributeAssignment = errors.New("osp: invalid attribute assignment")
	// ErrDisengagedQueueOperation reports a visit attempted after disengage. Visit never
	// returns it; it is only logged.
	ErrDisengagedQueueOperation = errors.New("osp: visit after disengage")
	// ErrAccessDenied indicates the current root lacks the access level an operation needs.
	ErrAccessDenied = errors.New("osp: access denied")
	// ErrWalkerNotIdle indicates a walker that is active or finished was spawned again.
	ErrWalkerNotIdle = errors.New("osp: walker is not idle")
	// ErrRootDeletion indicates an attempt to delete a root node.
	ErrRootDeletion = errors.New("osp: root cannot be deleted")
	// ErrEdgeAttached indicates an edge instance that already joins two nodes was reused.
	ErrEdgeAttached = errors.New("osp: edge is already attached")
	// ErrUndefinedType indicates a type name unknown to the program.
	ErrUndefinedType = errors.New("osp: undefined archetype type")
	// ErrNilArchetype indicates a nil archetype was supplied.
	ErrNilArchetype = errors.New("osp: nil archetype")
	// ErrInvalidLocation indicates a walker was spawned on something other than a node or edge.
	ErrInvalidLocation = errors.New("osp: location must be a node or edge")
)

// AbilityExecutionError wraps an error returned or raised by an ability body.
type AbilityExecutionError struct {
	Ability   string
	Archetype string
	Location  uuid.UUID
	Err       error
}

func (e *AbilityExecutionError) Error() string {
	return fmt.Sprintf("osp: ability %s.%s at %s: %v", e.Archetype, e.Ability, e.Location, e.Err)
}

func (e *AbilityExecutionError) Unwrap() error {
	return e.Err
}

// AbilityPanicError wraps a panic recovered from an ability.
type AbilityPanicError struct {
	Value any
}

func (e *AbilityPanicError) Error() string {
	return fmt.Sprintf("osp: panic: %v", e.Value)
}

// ThreadPanicError wraps a panic recovered from a unit submitted with ThreadRun.
type ThreadPanicError struct {
	Thread uuid.UUID
	Value  any
}

func (e *ThreadPanicError) Error() string {
	return fmt.Sprintf("osp: panic in thread %s: %v", e.Thread, e.Value)
}

func unresolved(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedAnchor, id)
}

func denied(id uuid.UUID, need Level) error {
	return fmt.Errorf("%w: %s requires %s", ErrAccessDenied, id, need)
}
