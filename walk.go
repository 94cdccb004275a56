package osp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaseci-labs/osp/internal/ctxlog"
)

// Walk is one traversal of a walker. Abilities receive it to steer the walk;
// Spawn returns it once the walk is over. A Walk is confined to the
// goroutine running Spawn until Spawn returns.
type Walk struct {
	ctx     context.Context
	rt      *Runtime
	walker  WalkerArchetype
	anchor  *Anchor
	here    *Anchor
	logger  *slog.Logger
	metrics WalkMetrics
	err     error
}

// Spawn binds walker to location and runs the walk to completion. location
// must be an attached node or edge readable from the context root, and is
// the first entry of the visit queue. A walker can be spawned once.
//
// An error or panic inside an ability aborts the walk and is returned as an
// *AbilityExecutionError together with the Walk, whose reports stay
// available.
func (rt *Runtime) Spawn(ctx context.Context, location Archetype, walker WalkerArchetype) (*Walk, error) {
	if isNil(location) || isNil(walker) {
		return nil, ErrNilArchetype
	}

	var wa, loc *Anchor
	err := rt.store.mutate(ctx, func(tx *txn) error {
		if walker.Anchor() != nil {
			return fmt.Errorf("%w: %s is %s", ErrWalkerNotIdle, walker.Anchor().ID, walker.walker().State())
		}
		l, err := tx.resolveArchetype(location)
		if err != nil {
			return err
		}
		if l.Kind != KindNode && l.Kind != KindEdge {
			return fmt.Errorf("%w: %s is a %s", ErrInvalidLocation, l.ID, l.Kind)
		}
		if err := rt.require(l, ReadAccess); err != nil {
			return err
		}
		a, err := rt.attach(tx, walker)
		if err != nil {
			return err
		}
		a.Walker.State = WalkerActive
		a.Walker.Location = l.ID
		a.Walker.Queue = []uuid.UUID{l.ID}
		wa, loc = a, l
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx, span := rt.tracer.Start(ctx, "osp.Spawn",
		trace.WithAttributes(
			attribute.String("osp.walker.id", wa.ID.String()),
			attribute.String("osp.walker.type", wa.Type),
			attribute.String("osp.location.id", loc.ID.String()),
			attribute.String("osp.location.type", loc.Type),
		),
	)
	defer span.End()

	logger := rt.logger.With(
		slog.String("walker", wa.ID.String()),
		slog.String("walker_type", wa.Type),
	)
	w := &Walk{
		ctx:    ctxlog.WithLogger(ctx, logger),
		rt:     rt,
		walker: walker,
		anchor: wa,
		logger: logger,
	}
	w.metrics.start()
	logger.Debug("walk started", slog.String("location", loc.ID.String()))
	w.invokeHook(rt.hooks.OnSpawn, WalkEvent{LocationID: loc.ID, LocationType: loc.Type})

	w.err = w.drain()
	w.finish()

	span.SetAttributes(
		attribute.Int("osp.walk.visits", w.metrics.Visits),
		attribute.Int("osp.walk.reports", w.metrics.Reports),
	)
	if w.err != nil {
		span.RecordError(w.err)
		span.SetStatus(codes.Error, w.err.Error())
		return w, w.err
	}
	span.SetStatus(codes.Ok, "")
	return w, nil
}

func (w *Walk) state() *WalkerAnchor {
	return w.anchor.Walker
}

func (w *Walk) drain() error {
	st := w.state()
	for {
		if st.Disengaged || len(st.Queue) == 0 {
			return w.exit()
		}
		id := st.Queue[0]
		st.Queue = st.Queue[1:]

		target, err := w.arrive(id)
		if err != nil {
			return err
		}
		if target == nil {
			w.metrics.Skipped++
			w.logger.Debug("skipped queued anchor", slog.String("anchor", id.String()))
			continue
		}
		w.here = target
		st.Location = id
		st.Path = append(st.Path, id)
		w.metrics.Visits++
		w.invokeHook(w.rt.hooks.OnArrive, WalkEvent{})

		if err := w.dispatch(target.Archetype, w.walker, EntryEvent); err != nil {
			return err
		}
		if st.Disengaged {
			continue
		}
		if err := w.dispatch(w.walker, target.Archetype, EntryEvent); err != nil {
			return err
		}
	}
}

// arrive resolves a queued id. Deleted and unreadable anchors resolve to nil.
func (w *Walk) arrive(id uuid.UUID) (*Anchor, error) {
	var target *Anchor
	err := w.rt.store.view(w.ctx, func(tx *txn) error {
		a, err := tx.find(id)
		if err != nil || a == nil {
			return err
		}
		if w.rt.allows(a, ReadAccess) {
			target = a
		}
		return nil
	})
	return target, err
}

// exit runs the exit abilities of the walker against the last location, then
// those of the last location against the walker.
func (w *Walk) exit() error {
	if w.here == nil {
		return nil
	}
	if err := w.dispatch(w.walker, w.here.Archetype, ExitEvent); err != nil {
		return err
	}
	return w.dispatch(w.here.Archetype, w.walker, ExitEvent)
}

func (w *Walk) dispatch(self, other Archetype, ev Event) error {
	for _, ab := range w.rt.program.abilities(self, ev) {
		if ev == EntryEvent && w.state().Disengaged {
			return nil
		}
		if !ab.Trigger.Matches(other) {
			continue
		}
		w.metrics.AbilitiesRun++
		if err := w.runAbility(ab, self, other); err != nil {
			return &AbilityExecutionError{
				Ability:   ab.Name,
				Archetype: w.rt.program.TypeName(self),
				Location:  w.here.ID,
				Err:       err,
			}
		}
	}
	return nil
}

func (w *Walk) runAbility(ab Ability, self, other Archetype) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &AbilityPanicError{Value: recovered}
		}
	}()
	return ab.run(w, self, other)
}

func (w *Walk) finish() {
	st := w.state()
	st.State = WalkerDone
	st.Queue = nil
	w.metrics.finish()

	if err := w.rt.store.Delete(context.WithoutCancel(w.ctx), w.anchor.ID); err != nil {
		w.logger.Warn("walker anchor not released", slog.Any("error", err))
	}

	if w.err != nil {
		w.logger.Debug("walk failed", slog.Any("error", w.err), slog.Int("visits", w.metrics.Visits))
		w.invokeHook(w.rt.hooks.OnFailure, WalkEvent{Err: w.err})
	} else {
		w.logger.Debug("walk finished",
			slog.Int("visits", w.metrics.Visits),
			slog.Int("reports", w.metrics.Reports),
			slog.Duration("duration", w.metrics.Duration),
		)
	}
	w.invokeHook(w.rt.hooks.OnFinish, WalkEvent{Err: w.err})
}

func (w *Walk) invokeHook(hook HookFunc, event WalkEvent) {
	if hook == nil {
		return
	}
	event.WalkerID = w.anchor.ID
	event.WalkerType = w.anchor.Type
	if w.here != nil && event.LocationID == uuid.Nil {
		event.LocationID = w.here.ID
		event.LocationType = w.here.Type
	}
	event.Metrics = w.metrics
	hook(w.ctx, event)
}

// Visit appends the anchors of targets to the visit queue, in order. Inert,
// ignored and non-graph targets are left out. It returns whether anything was
// queued, and always false once the walker is disengaged.
func (w *Walk) Visit(targets ...Archetype) bool {
	ids := make([]uuid.UUID, 0, len(targets))
	for _, t := range targets {
		if isNil(t) {
			continue
		}
		a := t.Anchor()
		if a == nil || (a.Kind != KindNode && a.Kind != KindEdge) {
			continue
		}
		ids = append(ids, a.ID)
	}
	return w.VisitIDs(ids...)
}

// VisitNodes is Visit for a node slice such as the result of Refs.
func (w *Walk) VisitNodes(nodes ...NodeArchetype) bool {
	targets := make([]Archetype, len(nodes))
	for i, n := range nodes {
		targets[i] = n
	}
	return w.Visit(targets...)
}

// VisitEdges is Visit for an edge slice.
func (w *Walk) VisitEdges(edges ...EdgeArchetype) bool {
	targets := make([]Archetype, len(edges))
	for i, e := range edges {
		targets[i] = e
	}
	return w.Visit(targets...)
}

// VisitIDs queues anchors by id. Ids that no longer resolve when dequeued are
// skipped.
func (w *Walk) VisitIDs(ids ...uuid.UUID) bool {
	st := w.state()
	if st.Disengaged || st.State != WalkerActive {
		w.logger.Debug("visit ignored", slog.Any("error", ErrDisengagedQueueOperation))
		return false
	}
	queued := false
	for _, id := range ids {
		if _, skip := st.Ignored[id]; skip {
			continue
		}
		st.Queue = append(st.Queue, id)
		queued = true
	}
	return queued
}

// Ignore keeps targets out of every later Visit of this walk.
func (w *Walk) Ignore(targets ...Archetype) {
	st := w.state()
	if st.Ignored == nil {
		st.Ignored = make(map[uuid.UUID]struct{}, len(targets))
	}
	for _, t := range targets {
		if !isNil(t) && t.Anchor() != nil {
			st.Ignored[t.Anchor().ID] = struct{}{}
		}
	}
}

// Disengage stops the walk: the queue is cleared and no further entry
// abilities run. The calling ability should return right after. Repeated
// calls have no effect.
func (w *Walk) Disengage() {
	st := w.state()
	st.Queue = nil
	if st.Disengaged {
		return
	}
	st.Disengaged = true
	w.logger.Debug("walker disengaged")
	w.invokeHook(w.rt.hooks.OnDisengage, WalkEvent{})
}

// Report appends v to the report list.
func (w *Walk) Report(v any) {
	st := w.state()
	st.Reports = append(st.Reports, v)
	w.metrics.Reports++
	w.invokeHook(w.rt.hooks.OnReport, WalkEvent{Report: v})
}

// Here returns the current location, or nil before the first arrival.
func (w *Walk) Here() Archetype {
	if w.here == nil {
		return nil
	}
	return w.here.Archetype
}

// Walker returns the walking archetype.
func (w *Walk) Walker() WalkerArchetype {
	return w.walker
}

// Refs resolves q from the current location.
func (w *Walk) Refs(q Query) ([]NodeArchetype, error) {
	if w.here == nil {
		return nil, nil
	}
	return w.rt.Refs(w.ctx, w.here.Archetype, q)
}

// Path returns the ids of the visited locations in visiting order.
func (w *Walk) Path() []uuid.UUID {
	return slices.Clone(w.state().Path)
}

// Reports returns a copy of the report list.
func (w *Walk) Reports() []any {
	return slices.Clone(w.state().Reports)
}

// Disengaged reports whether Disengage was called.
func (w *Walk) Disengaged() bool {
	return w.state().Disengaged
}

// Metrics returns the walk metrics.
func (w *Walk) Metrics() WalkMetrics {
	return w.metrics
}

// Err returns the error that aborted the walk.
func (w *Walk) Err() error {
	return w.err
}

// Context returns the walk context. It carries the walk logger.
func (w *Walk) Context() context.Context {
	return w.ctx
}

// Logger returns the walk logger.
func (w *Walk) Logger() *slog.Logger {
	return w.logger
}

// Runtime returns the runtime running the walk.
func (w *Walk) Runtime() *Runtime {
	return w.rt
}
