package modules

import (
	"fmt"
	"math"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

// Engine control bits.
const (
	ControlAccelerate int32 = 1 << iota
	ControlHandbrake
	ControlReverse
	ControlLeft
	ControlRight
	ControlEngineOn
)

// Indexes into the engine telemetry array.
const (
	PropSpeed = iota
	PropRevs
	PropGear
	propCount
)

const (
	engineStartedKey = "engine_started"
	noSpeedLimit     = math.MaxFloat32
)

// Engine drives a ground vehicle from the controller's inputs.
type Engine struct {
	host   Host
	params defs.Engine

	controls   *syncvar.Field[int32]
	speedLimit *syncvar.Field[float32]
	props      *syncvar.Field[[]float32]

	speed float64 // km/h, negative when reversing
}

func NewEngine(h Host) (*Engine, error) {
	e := &Engine{
		host:       h,
		controls:   syncvar.NewField[int32]("engine.controls", syncvar.ControllerToObservers, syncvar.Int32(), ControlHandbrake),
		speedLimit: syncvar.NewField[float32]("engine.speed_limit", syncvar.ControllerToObservers, syncvar.Float32(), noSpeedLimit),
		props:      syncvar.NewField[[]float32]("engine.props", syncvar.SimulationToObservers, syncvar.Float32Array(propCount), make([]float32, propCount)),
	}
	return e, nil
}

func (e *Engine) Capability() module.Capability { return CapEngine }
func (e *Engine) InitPriority() int             { return 100 }

func (e *Engine) Fields() []syncvar.Var {
	return []syncvar.Var{e.controls, e.speedLimit, e.props}
}

func (e *Engine) InitProperties() error {
	def, err := definitionOf(e.host)
	if err != nil {
		return err
	}
	return e.DefinitionReloaded(def)
}

func (e *Engine) DefinitionReloaded(def *defs.Definition) error {
	if def.Engine == nil {
		return fmt.Errorf("definition %s has no engine section", def.Name)
	}
	e.params = *def.Engine
	return nil
}

func (e *Engine) Controls() int32 { return e.controls.Get() }

func (e *Engine) SetControls(c int32) { e.controls.Set(c) }

func (e *Engine) SetSpeedLimit(kmh float32) { e.speedLimit.Set(kmh) }

func (e *Engine) Started() bool { return e.controls.Get()&ControlEngineOn != 0 }

// Props returns speed, revs and gear as last reported by the simulation.
func (e *Engine) Props() (speed, revs float32, gear int) {
	p := e.props.Get()
	return p[PropSpeed], p[PropRevs], int(p[PropGear])
}

// ResetControls drops every input except engine-on and handbrake. Used when
// nobody sits at the controls.
func (e *Engine) ResetControls() {
	e.controls.Set(e.controls.Get() & (ControlEngineOn | ControlHandbrake))
}

func (e *Engine) SeatChanged(ev seats.Event) {
	if ev.Kind == seats.Dismount && ev.Controlling {
		e.ResetControls()
	}
}

// PrePhysics turns the controls into a target speed.
func (e *Engine) PrePhysics(ctx module.StepContext) {
	if ctx.Side != module.SideSimulation || ctx.DT <= 0 {
		return
	}
	c := e.controls.Get()
	maxSpeed := e.params.MaxSpeed
	if lim := float64(e.speedLimit.Get()); lim < maxSpeed {
		maxSpeed = lim
	}
	accel := e.params.Power / 10 // km/h per second
	switch {
	case c&ControlEngineOn == 0:
		e.speed = approach(e.speed, 0, accel/4*ctx.DT)
	case c&ControlHandbrake != 0:
		e.speed = approach(e.speed, 0, (e.params.Braking+1)*10*ctx.DT)
	case c&ControlAccelerate != 0 && c&ControlReverse != 0:
		e.speed = approach(e.speed, -maxSpeed/3, accel*ctx.DT)
	case c&ControlAccelerate != 0:
		e.speed = approach(e.speed, maxSpeed, accel*ctx.DT)
	default:
		e.speed = approach(e.speed, 0, accel/4*ctx.DT)
	}
	if math.Abs(e.speed) > maxSpeed {
		e.speed = math.Copysign(maxSpeed, e.speed)
	}
}

// PostPhysics publishes telemetry.
func (e *Engine) PostPhysics(ctx module.StepContext) {
	if ctx.Side != module.SideSimulation {
		return
	}
	gear := e.gear()
	revs := 0.0
	if e.Started() && e.params.MaxSpeed > 0 {
		revs = e.params.MaxRevs * math.Min(1, math.Abs(e.speed)/e.params.MaxSpeed)
		if revs < e.params.MaxRevs/8 {
			revs = e.params.MaxRevs / 8 // idle
		}
	}
	next := []float32{float32(e.speed), float32(revs), float32(gear)}
	cur := e.props.Get()
	if cur[PropSpeed] == next[PropSpeed] && cur[PropRevs] == next[PropRevs] && cur[PropGear] == next[PropGear] {
		return
	}
	e.props.Set(next)
}

// gear picks the active gear: -1 reversing, 0 idle, then 1..n by speed band.
func (e *Engine) gear() int {
	switch {
	case e.speed < 0:
		return -1
	case e.speed == 0:
		return 0
	}
	forward := 0
	for _, g := range e.params.Gears {
		if g > 0 {
			forward++
		}
	}
	if forward == 0 || e.params.MaxSpeed <= 0 {
		return 1
	}
	g := int(e.speed/e.params.MaxSpeed*float64(forward)) + 1
	if g > forward {
		g = forward
	}
	return g
}

func (e *Engine) WriteState(tag tagstore.Tag) {
	tag.SetBool(engineStartedKey, e.Started())
}

func (e *Engine) ReadState(tag tagstore.Tag) error {
	on, ok := tag.Bool(engineStartedKey)
	if !ok {
		return nil
	}
	c := e.controls.Get()
	if on {
		c |= ControlEngineOn
	} else {
		c &^= ControlEngineOn
	}
	e.controls.Set(c)
	return nil
}

func approach(v, target, step float64) float64 {
	if v < target {
		return math.Min(v+step, target)
	}
	return math.Max(v-step, target)
}
