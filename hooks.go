package osp

import (
	"context"

	"github.com/google/uuid"
)

// WalkEvent is passed to hook callbacks to describe walk progress.
type WalkEvent struct {
	WalkerID     uuid.UUID
	WalkerType   string
	LocationID   uuid.UUID
	LocationType string
	Report       any
	Err          error
	Metrics      WalkMetrics
}

// HookFunc is invoked for lifecycle notifications. Hooks run on the walking
// goroutine, between abilities.
type HookFunc func(context.Context, WalkEvent)

// Hooks aggregates optional walk lifecycle callbacks.
type Hooks struct {
	OnSpawn     HookFunc
	OnArrive    HookFunc
	OnReport    HookFunc
	OnDisengage HookFunc
	OnFinish    HookFunc
	OnFailure   HookFunc
}

// Merge combines two hook sets, running the receiver first.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnSpawn:     chainHooks(h.OnSpawn, other.OnSpawn),
		OnArrive:    chainHooks(h.OnArrive, other.OnArrive),
		OnReport:    chainHooks(h.OnReport, other.OnReport),
		OnDisengage: chainHooks(h.OnDisengage, other.OnDisengage),
		OnFinish:    chainHooks(h.OnFinish, other.OnFinish),
		OnFailure:   chainHooks(h.OnFailure, other.OnFailure),
	}
}

func chainHooks(first, second HookFunc) HookFunc {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	default:
		return func(ctx context.Context, event WalkEvent) {
			first(ctx, event)
			second(ctx, event)
		}
	}
}
