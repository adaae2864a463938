// Package modules implements the capability modules an object definition
// can declare.
package modules

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

// Host is the object a module set is attached to.
type Host interface {
	ID() uuid.UUID
	// Definition resolves the object's definition; it fails until the
	// content pack providing it is loaded.
	Definition() (*defs.Definition, error)
	Side() module.Side
	Logger() *diag.Logger
	Authority() syncvar.Authority

	Scheduler() seats.Scheduler
	Resolver() seats.Resolver
	InputAuthority() seats.AuthorityController
	PublishSeats(seats.Snapshot)

	Position() mgl64.Vec3
	Rotation() mgl64.Quat
}

// SeatListener modules are told about mount and dismount events of the
// object they belong to.
type SeatListener interface {
	SeatChanged(ev seats.Event)
}

const (
	CapEngine     module.Capability = defs.ModuleEngine
	CapHelicopter module.Capability = defs.ModuleHelicopterEngine
	CapSeats      module.Capability = defs.ModuleSeats
	CapStorage    module.Capability = defs.ModuleStorage
)

// NewRegistry returns the registry of every built-in module.
func NewRegistry() *module.Registry[Host] {
	reg := module.NewRegistry[Host]()
	reg.Register(defs.ModuleSeats, func(h Host, _ defs.Declaration) (module.Module, error) {
		return NewSeats(h)
	})
	reg.Register(defs.ModuleEngine, func(h Host, _ defs.Declaration) (module.Module, error) {
		return NewEngine(h)
	})
	reg.Register(defs.ModuleHelicopterEngine, func(h Host, _ defs.Declaration) (module.Module, error) {
		return NewHelicopter(h)
	})
	reg.Register(defs.ModuleStorage, func(h Host, _ defs.Declaration) (module.Module, error) {
		return NewStorage(h)
	})
	return reg
}

func definitionOf(h Host) (*defs.Definition, error) {
	def, err := h.Definition()
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, seats.ErrDefinitionUnresolved
	}
	return def, nil
}
