package osp

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Event selects when an ability fires.
type Event uint8

const (
	// EntryEvent abilities fire when a walker arrives at a location.
	EntryEvent Event = iota
	// ExitEvent abilities fire once when the walk terminates.
	ExitEvent
)

func (e Event) String() string {
	if e == ExitEvent {
		return "exit"
	}
	return "entry"
}

// Matcher decides whether a counterpart archetype triggers an ability. The
// zero Matcher matches everything.
type Matcher struct {
	name  string
	match func(Archetype) bool
}

// AnyType matches every archetype.
var AnyType = Matcher{name: "any"}

// TypeOf matches archetypes assignable to T. T may be a concrete archetype
// pointer type or an interface implemented by several archetypes.
func TypeOf[T Archetype]() Matcher {
	return Matcher{
		name: typeLabel(reflect.TypeFor[T]()),
		match: func(a Archetype) bool {
			_, ok := a.(T)
			return ok
		},
	}
}

// AnyOf matches when any of ms matches.
func AnyOf(ms ...Matcher) Matcher {
	names := make([]string, 0, len(ms))
	for _, m := range ms {
		names = append(names, m.String())
	}
	set := append([]Matcher(nil), ms...)
	return Matcher{
		name: "(" + strings.Join(names, ", ") + ")",
		match: func(a Archetype) bool {
			for _, m := range set {
				if m.Matches(a) {
					return true
				}
			}
			return false
		},
	}
}

// Matches reports whether a triggers the matcher.
func (m Matcher) Matches(a Archetype) bool {
	if m.match == nil {
		return true
	}
	return m.match(a)
}

func (m Matcher) String() string {
	if m.name == "" {
		return "any"
	}
	return m.name
}

// AbilityFunc is the body of an ability. self is the archetype declaring the
// ability and other is the counterpart that triggered it.
type AbilityFunc func(w *Walk, self, other Archetype) error

// Ability is a type-matched handler attached to a node, edge or walker type.
type Ability struct {
	Name    string
	Event   Event
	Trigger Matcher

	owner reflect.Type
	run   AbilityFunc
}

// OnEntry declares an entry ability on S fired by counterparts of type C.
func OnEntry[S Archetype, C Archetype](name string, fn func(w *Walk, self S, other C) error) Ability {
	return typedAbility(name, EntryEvent, fn)
}

// OnExit declares an exit ability on S fired by counterparts of type C.
func OnExit[S Archetype, C Archetype](name string, fn func(w *Walk, self S, other C) error) Ability {
	return typedAbility(name, ExitEvent, fn)
}

// OnEntryMatch declares an entry ability on S fired by counterparts accepted by m.
func OnEntryMatch[S Archetype](name string, m Matcher, fn func(w *Walk, self S, other Archetype) error) Ability {
	return matchedAbility(name, EntryEvent, m, fn)
}

// OnExitMatch declares an exit ability on S fired by counterparts accepted by m.
func OnExitMatch[S Archetype](name string, m Matcher, fn func(w *Walk, self S, other Archetype) error) Ability {
	return matchedAbility(name, ExitEvent, m, fn)
}

func typedAbility[S Archetype, C Archetype](name string, ev Event, fn func(*Walk, S, C) error) Ability {
	ab := Ability{
		Name:    name,
		Event:   ev,
		Trigger: TypeOf[C](),
		owner:   reflect.TypeFor[S](),
	}
	if fn != nil {
		ab.run = func(w *Walk, self, other Archetype) error {
			return fn(w, self.(S), other.(C))
		}
	}
	return ab
}

func matchedAbility[S Archetype](name string, ev Event, m Matcher, fn func(*Walk, S, Archetype) error) Ability {
	ab := Ability{
		Name:    name,
		Event:   ev,
		Trigger: m,
		owner:   reflect.TypeFor[S](),
	}
	if fn != nil {
		ab.run = func(w *Walk, self, other Archetype) error {
			return fn(w, self.(S), other)
		}
	}
	return ab
}

var (
	// ErrDuplicateType indicates a type name or Go type was defined twice.
	ErrDuplicateType = errors.New("osp: archetype type already defined")
	// ErrInvalidArchetype indicates a type that cannot be used as an archetype.
	ErrInvalidArchetype = errors.New("osp: invalid archetype type")
	// ErrForeignAbility indicates an ability declared for another type was passed to Define.
	ErrForeignAbility = errors.New("osp: ability belongs to another type")
	// ErrNilAbility indicates an ability without a body.
	ErrNilAbility = errors.New("osp: ability function must not be nil")
)

type typeDef struct {
	name   string
	kind   Kind
	goType reflect.Type
	entry  []Ability
	exit   []Ability
}

// Program holds the archetype types of a compiled program and their
// dispatch tables. Tables are built once, when a type is defined.
type Program struct {
	mu     sync.RWMutex
	byName map[string]*typeDef
	byType map[reflect.Type]*typeDef
	opaque bool
}

// ProgramOption configures a Program.
type ProgramOption func(*Program)

// WithOpaque makes Instantiate return Opaque placeholders for unknown type
// names instead of failing.
func WithOpaque() ProgramOption {
	return func(p *Program) {
		p.opaque = true
	}
}

// NewProgram returns a program that already defines Root and GenericEdge.
func NewProgram(opts ...ProgramOption) *Program {
	p := &Program{
		byName: make(map[string]*typeDef),
		byType: make(map[reflect.Type]*typeDef),
	}
	for _, opt := range opts {
		opt(p)
	}
	_ = Define[*Root](p)
	_ = Define[*GenericEdge](p)
	return p
}

// Define registers S under its Go type name together with its abilities.
// Abilities keep their declaration order.
func Define[S Archetype](p *Program, abilities ...Ability) error {
	return DefineAs[S](p, "", abilities...)
}

// DefineAs registers S under name.
func DefineAs[S Archetype](p *Program, name string, abilities ...Ability) error {
	if p == nil {
		return errors.New("osp: nil program")
	}
	t := reflect.TypeFor[S]()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s is not a pointer to struct", ErrInvalidArchetype, t)
	}
	if name == "" {
		name = t.Elem().Name()
	}
	if name == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidArchetype, t)
	}
	sample := reflect.New(t.Elem()).Interface().(Archetype)

	def := &typeDef{
		name:   name,
		kind:   sample.archetypeKind(),
		goType: t,
	}
	for _, ab := range abilities {
		if ab.run == nil {
			return fmt.Errorf("%w: %s.%s", ErrNilAbility, name, ab.Name)
		}
		if ab.owner != nil && ab.owner != t {
			return fmt.Errorf("%w: %s declared for %s, not %s", ErrForeignAbility, ab.Name, ab.owner, t)
		}
		if ab.Event == ExitEvent {
			def.exit = append(def.exit, ab)
		} else {
			def.entry = append(def.entry, ab)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	if _, exists := p.byType[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t)
	}
	p.byName[name] = def
	p.byType[t] = def
	return nil
}

// Instantiate returns a fresh, inert archetype of the named type. kind must
// agree with the definition.
func (p *Program) Instantiate(name string, kind Kind) (Archetype, error) {
	p.mu.RLock()
	def, ok := p.byName[name]
	p.mu.RUnlock()
	if ok {
		if def.kind != kind {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrUndefinedType, name, def.kind, kind)
		}
		return reflect.New(def.goType.Elem()).Interface().(Archetype), nil
	}
	if p.opaque {
		switch kind {
		case KindNode:
			return &OpaqueNode{}, nil
		case KindEdge:
			return &OpaqueEdge{}, nil
		case KindObj:
			return &OpaqueObj{}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUndefinedType, name)
}

// TypeName returns the name a is defined under, or its Go type name when a's
// type was never defined.
func (p *Program) TypeName(a Archetype) string {
	t := reflect.TypeOf(a)
	p.mu.RLock()
	def, ok := p.byType[t]
	p.mu.RUnlock()
	if ok {
		return def.name
	}
	return typeLabel(t)
}

// Types returns the defined type names in sorted order.
func (p *Program) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Program) abilities(a Archetype, ev Event) []Ability {
	p.mu.RLock()
	def, ok := p.byType[reflect.TypeOf(a)]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	if ev == ExitEvent {
		return def.exit
	}
	return def.entry
}

func typeLabel(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
