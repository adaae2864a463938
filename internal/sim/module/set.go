package module

import (
	"errors"
	"fmt"
	"sort"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/syncvar"
)

// Factory builds one module for a declaration. H is the host object type the
// modules of a registry attach to.
type Factory[H any] func(host H, decl defs.Declaration) (Module, error)

// Registry maps declaration types to factories. It is built once per process
// and passed to Assemble explicitly.
type Registry[H any] struct {
	factories map[string]Factory[H]
}

func NewRegistry[H any]() *Registry[H] {
	return &Registry[H]{factories: map[string]Factory[H]{}}
}

func (r *Registry[H]) Register(declType string, f Factory[H]) {
	r.factories[declType] = f
}

func (r *Registry[H]) Has(declType string) bool {
	_, ok := r.factories[declType]
	return ok
}

type Options struct {
	Side    Side
	Channel *syncvar.Channel // replicated fields are registered here, in set order
	Logger  *diag.Logger
}

// Phase selects the listener list ForEach walks.
type Phase uint8

const (
	PhaseAll Phase = iota
	PhasePrePhysics
	PhasePostPhysics
	PhaseTick
)

// Set is the ordered module collection of one object.
// Fixed after assembly; owned by the object's loop goroutine.
type Set struct {
	side Side
	log  *diag.Logger

	modules []Module
	byCap   map[Capability]Module

	pre    []PrePhysicsListener
	post   []PostPhysicsListener
	tick   []TickListener
	reload []ReloadListener
}

// Assemble instantiates one module per declaration of def, orders them by
// descending init priority (declaration order breaks ties), registers their
// replicated fields and runs InitProperties.
func Assemble[H any](host H, def *defs.Definition, reg *Registry[H], opts Options) (*Set, error) {
	s := &Set{
		side:  opts.Side,
		log:   opts.Logger,
		byCap: map[Capability]Module{},
	}
	for _, decl := range def.Declarations() {
		f, ok := reg.factories[decl.Type]
		if !ok {
			return nil, fmt.Errorf("module: %s: no factory for %q", def.Name, decl.Type)
		}
		m, err := f(host, decl)
		if err != nil {
			return nil, fmt.Errorf("module: %s: create %s: %w", def.Name, decl.Type, err)
		}
		if _, dup := s.byCap[m.Capability()]; dup {
			return nil, fmt.Errorf("module: %s: capability %s declared twice", def.Name, m.Capability())
		}
		s.byCap[m.Capability()] = m
		s.modules = append(s.modules, m)
	}
	sort.SliceStable(s.modules, func(i, j int) bool {
		return s.modules[i].InitPriority() > s.modules[j].InitPriority()
	})
	s.precompute()

	if opts.Channel != nil {
		for _, m := range s.modules {
			r, ok := m.(Replicated)
			if !ok {
				continue
			}
			if err := opts.Channel.Register(r.Fields()...); err != nil {
				return nil, fmt.Errorf("module: %s: %w", def.Name, err)
			}
		}
	}
	for _, m := range s.modules {
		if in, ok := m.(Initializer); ok {
			if err := in.InitProperties(); err != nil {
				return nil, fmt.Errorf("module: %s: init %s: %w", def.Name, m.Capability(), err)
			}
		}
	}
	return s, nil
}

func (s *Set) precompute() {
	s.pre, s.post, s.tick, s.reload = nil, nil, nil, nil
	for _, m := range s.modules {
		if l, ok := m.(PrePhysicsListener); ok {
			s.pre = append(s.pre, l)
		}
		if l, ok := m.(PostPhysicsListener); ok {
			s.post = append(s.post, l)
		}
		if l, ok := m.(TickListener); ok && l.WantsTick(s.side) {
			s.tick = append(s.tick, l)
		}
		if l, ok := m.(ReloadListener); ok {
			s.reload = append(s.reload, l)
		}
	}
}

func (s *Set) Side() Side { return s.side }
func (s *Set) Len() int   { return len(s.modules) }

// Modules returns the modules in dispatch order.
func (s *Set) Modules() []Module {
	return append([]Module(nil), s.modules...)
}

// ForEach calls action for every module taking part in phase, in dispatch order.
func (s *Set) ForEach(phase Phase, action func(Module)) {
	switch phase {
	case PhasePrePhysics:
		for _, l := range s.pre {
			action(l.(Module))
		}
	case PhasePostPhysics:
		for _, l := range s.post {
			action(l.(Module))
		}
	case PhaseTick:
		for _, l := range s.tick {
			action(l.(Module))
		}
	default:
		for _, m := range s.modules {
			action(m)
		}
	}
}

// Step runs the three phases of one simulation step in order. The integrator
// runs between PrePhysics and PostPhysics, so callers that integrate use the
// individual methods instead.
func (s *Set) Step(ctx StepContext) {
	s.PrePhysics(ctx)
	s.PostPhysics(ctx)
	s.Tick(ctx)
}

func (s *Set) PrePhysics(ctx StepContext) {
	for _, l := range s.pre {
		l.PrePhysics(ctx)
	}
}

func (s *Set) PostPhysics(ctx StepContext) {
	for _, l := range s.post {
		l.PostPhysics(ctx)
	}
}

func (s *Set) Tick(ctx StepContext) {
	for _, l := range s.tick {
		l.Tick(ctx)
	}
}

func (s *Set) Lookup(c Capability) (Module, bool) {
	m, ok := s.byCap[c]
	return m, ok
}

// Get is Lookup with the result asserted to T.
func Get[T any](s *Set, c Capability) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	m, ok := s.byCap[c]
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

// ReloadFailure is one listener that could not take a reload.
type ReloadFailure struct {
	Capability Capability
	Err        error
}

// Reload hands the reloaded definition to every ReloadListener. The set
// itself is not rebuilt. A listener that fails or panics is skipped for this
// reload only; the others still run.
func (s *Set) Reload(def *defs.Definition) []ReloadFailure {
	var failures []ReloadFailure
	for _, l := range s.reload {
		if err := safeReload(l, def); err != nil {
			c := l.(Module).Capability()
			s.log.Errorf("reload of %s failed: %v", c, err)
			failures = append(failures, ReloadFailure{Capability: c, Err: err})
		}
	}
	return failures
}

func safeReload(l ReloadListener, def *defs.Definition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.DefinitionReloaded(def)
}

// WriteState lets every persistent module write into tag.
func (s *Set) WriteState(tag tagstore.Tag) {
	for _, m := range s.modules {
		if p, ok := m.(Persistent); ok {
			p.WriteState(tag)
		}
	}
}

func (s *Set) ReadState(tag tagstore.Tag) error {
	var errs []error
	for _, m := range s.modules {
		if p, ok := m.(Persistent); ok {
			if err := p.ReadState(tag); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.Capability(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close tears modules down in reverse dispatch order.
func (s *Set) Close() {
	for i := len(s.modules) - 1; i >= 0; i-- {
		if c, ok := s.modules[i].(Closer); ok {
			c.Close()
		}
	}
}
