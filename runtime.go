package osp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jaseci-labs/osp"

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	hooks      Hooks
	dispatcher Dispatcher
	root       uuid.UUID
	tracer     trace.TracerProvider
}

func defaultOptions() options {
	return options{
		logger:     slog.New(slog.DiscardHandler),
		dispatcher: goroutineDispatcher{},
		root:       SystemRootID,
	}
}

// WithLogger sets the logger used by the runtime and by walks.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHooks registers walk lifecycle hooks. Repeated calls chain the hooks in
// registration order.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = o.hooks.Merge(h)
	}
}

// WithDispatcher supplies the dispatcher ThreadRun submits units to.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(o *options) {
		if dispatcher != nil {
			o.dispatcher = dispatcher
		}
	}
}

// WithRoot selects the root node of the execution context.
func WithRoot(root uuid.UUID) Option {
	return func(o *options) {
		o.root = root
	}
}

// WithTracerProvider sets the provider spans are created with. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// Runtime executes walkers of one program against one store, in the
// execution context of one root.
type Runtime struct {
	store      *Store
	program    *Program
	root       uuid.UUID
	logger     *slog.Logger
	hooks      Hooks
	dispatcher Dispatcher
	tracer     trace.Tracer
}

// New returns a runtime over backend. A nil backend selects a MemoryBackend
// and a nil program a program with only the built-in types.
func New(backend Backend, program *Program, opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if program == nil {
		program = NewProgram()
	}
	tp := o.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Runtime{
		store:      NewStore(backend),
		program:    program,
		root:       o.root,
		logger:     o.logger,
		hooks:      o.hooks,
		dispatcher: o.dispatcher,
		tracer:     tp.Tracer(instrumentationName),
	}
}

// As returns a runtime sharing the store, program and dispatcher of rt that
// acts in the execution context of root.
func (rt *Runtime) As(root uuid.UUID) *Runtime {
	clone := *rt
	clone.root = root
	return &clone
}

// RootID returns the id of the context root.
func (rt *Runtime) RootID() uuid.UUID {
	return rt.root
}

// Program returns the program the runtime dispatches with.
func (rt *Runtime) Program() *Program {
	return rt.program
}

// Store returns the anchor store.
func (rt *Runtime) Store() *Store {
	return rt.store
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Root returns the context root, creating it on first access.
func (rt *Runtime) Root(ctx context.Context) (*Root, error) {
	var root *Root
	err := rt.store.view(ctx, func(tx *txn) error {
		a, err := tx.find(rt.root)
		if err != nil || a == nil {
			return err
		}
		root, err = rootOf(a)
		return err
	})
	if err != nil || root != nil {
		return root, err
	}

	err = rt.store.mutate(ctx, func(tx *txn) error {
		a, err := tx.find(rt.root)
		if err != nil {
			return err
		}
		if a != nil {
			root, err = rootOf(a)
			return err
		}
		root = &Root{}
		a = &Anchor{
			ID:         rt.root,
			Kind:       KindNode,
			Type:       rt.program.TypeName(root),
			Access:     Access{Owner: rt.root, All: NoAccess},
			Persistent: true,
			Node:       &NodeAnchor{},
		}
		BindAnchor(a, root)
		tx.create(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rt.logger.Debug("root created", slog.String("root", rt.root.String()))
	return root, nil
}

func rootOf(a *Anchor) (*Root, error) {
	root, ok := a.Archetype.(*Root)
	if !ok {
		return nil, fmt.Errorf("osp: anchor %s holds %s, not a root", a.ID, a.Type)
	}
	return root, nil
}

// Save attaches a free-standing obj or node to the store, or writes the
// current state of an attached archetype through to the backend.
func (rt *Runtime) Save(ctx context.Context, arch Archetype) error {
	if isNil(arch) {
		return ErrNilArchetype
	}
	return rt.store.mutate(ctx, func(tx *txn) error {
		if arch.Anchor() != nil {
			a, err := tx.resolveArchetype(arch)
			if err != nil {
				return err
			}
			if err := rt.require(a, WriteAccess); err != nil {
				return err
			}
			tx.touch(a)
			return nil
		}
		switch arch.archetypeKind() {
		case KindEdge:
			return fmt.Errorf("osp: %T: edges are attached with Connect", arch)
		case KindWalker:
			return fmt.Errorf("osp: %T: walkers are attached with Spawn", arch)
		}
		_, err := rt.attach(tx, arch)
		return err
	})
}

// Delete removes arch from the store. Deleting a node first deletes every
// incident edge.
func (rt *Runtime) Delete(ctx context.Context, arch Archetype) error {
	return rt.store.mutate(ctx, func(tx *txn) error {
		a, err := tx.resolveArchetype(arch)
		if err != nil {
			return err
		}
		if err := rt.require(a, WriteAccess); err != nil {
			return err
		}
		return tx.delete(a)
	})
}

// Assign sets the fields named in attrs on arch. Keys match exported field
// names case-insensitively or an `osp` struct tag; unknown names and
// mismatched types fail with ErrInvalidAttributeAssignment and leave arch
// unchanged.
func (rt *Runtime) Assign(ctx context.Context, arch Archetype, attrs map[string]any) error {
	if isNil(arch) {
		return ErrNilArchetype
	}
	if arch.Anchor() == nil {
		return assignAttributes(arch, attrs)
	}
	return rt.store.mutate(ctx, func(tx *txn) error {
		a, err := tx.resolveArchetype(arch)
		if err != nil {
			return err
		}
		if err := rt.require(a, WriteAccess); err != nil {
			return err
		}
		if err := assignAttributes(a.Archetype, attrs); err != nil {
			return err
		}
		tx.touch(a)
		return nil
	})
}

// Update runs fn under the store lock and persists arch afterwards. fn must
// not call back into the runtime.
func (rt *Runtime) Update(ctx context.Context, arch Archetype, fn func() error) error {
	return rt.store.mutate(ctx, func(tx *txn) error {
		a, err := tx.resolveArchetype(arch)
		if err != nil {
			return err
		}
		if err := rt.require(a, WriteAccess); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		tx.touch(a)
		return nil
	})
}

// Lookup returns the archetype stored under id.
func (rt *Runtime) Lookup(ctx context.Context, id uuid.UUID) (Archetype, error) {
	var arch Archetype
	err := rt.store.view(ctx, func(tx *txn) error {
		a, err := tx.resolve(id)
		if err != nil {
			return err
		}
		if err := rt.require(a, ReadAccess); err != nil {
			return err
		}
		arch = a.Archetype
		return nil
	})
	return arch, err
}

// Close stops the dispatcher and closes the backend when it is an io.Closer.
func (rt *Runtime) Close() error {
	rt.dispatcher.Stop()
	if c, ok := rt.store.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// attach binds a fresh anchor owned by the context root to an inert
// archetype. Attached archetypes resolve to their stored anchor.
func (rt *Runtime) attach(tx *txn, arch Archetype) (*Anchor, error) {
	if isNil(arch) {
		return nil, ErrNilArchetype
	}
	if arch.Anchor() != nil {
		return tx.resolveArchetype(arch)
	}
	a := &Anchor{
		ID:         newID(),
		Kind:       arch.archetypeKind(),
		Type:       rt.program.TypeName(arch),
		Access:     Access{Owner: rt.root, All: NoAccess},
		Persistent: true,
	}
	switch a.Kind {
	case KindNode:
		a.Node = &NodeAnchor{}
	case KindEdge:
		a.Edge = &EdgeAnchor{}
	case KindWalker:
		a.Walker = &WalkerAnchor{}
		a.Persistent = false
	case KindObj:
	default:
		return nil, errors.New("osp: archetype has no kind")
	}
	BindAnchor(a, arch)
	tx.create(a)
	return a, nil
}
