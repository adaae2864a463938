// Package module assembles an object's capability modules and drives them
// through the per-step phases.
package module

import (
	"time"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/syncvar"
)

// Capability is the lookup key of a module, one per module type.
type Capability string

// Side is where a module set runs.
type Side uint8

const (
	// SideSimulation integrates physics and owns authoritative state.
	SideSimulation Side = iota + 1
	// SideObserver mirrors replicated state.
	SideObserver
)

func (s Side) String() string {
	switch s {
	case SideSimulation:
		return "simulation"
	case SideObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// Module is the minimum every capability implements.
type Module interface {
	Capability() Capability
	// InitPriority orders modules within a set, highest first.
	InitPriority() int
}

// StepContext is handed to every phase callback.
type StepContext struct {
	Tick uint64
	DT   float64 // seconds
	Side Side
	Now  time.Time // simulation clock
}

type Initializer interface {
	InitProperties() error
}

type PrePhysicsListener interface {
	PrePhysics(ctx StepContext)
}

type PostPhysicsListener interface {
	PostPhysics(ctx StepContext)
}

type TickListener interface {
	WantsTick(side Side) bool
	Tick(ctx StepContext)
}

type Persistent interface {
	WriteState(tag tagstore.Tag)
	ReadState(tag tagstore.Tag) error
}

type Replicated interface {
	Fields() []syncvar.Var
}

// ReloadListener is notified when the object's definition was reloaded.
type ReloadListener interface {
	DefinitionReloaded(def *defs.Definition) error
}

type Closer interface {
	Close()
}

// Flags summarizes what a module takes part in.
type Flags uint8

const (
	FlagPhysicsStep Flags = 1 << iota
	FlagTick
	FlagPersists
	FlagReplicates
)

func (f Flags) Has(o Flags) bool { return f&o == o }

func FlagsOf(m Module) Flags {
	var f Flags
	_, pre := m.(PrePhysicsListener)
	_, post := m.(PostPhysicsListener)
	if pre || post {
		f |= FlagPhysicsStep
	}
	if _, ok := m.(TickListener); ok {
		f |= FlagTick
	}
	if _, ok := m.(Persistent); ok {
		f |= FlagPersists
	}
	if _, ok := m.(Replicated); ok {
		f |= FlagReplicates
	}
	return f
}
