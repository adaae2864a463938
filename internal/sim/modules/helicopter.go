package modules

import (
	"fmt"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

const powerKey = "power"

// Helicopter is the rotor engine: a throttle, two roll axes and a spool
// that ramps up over the startup time once the engine is on.
type Helicopter struct {
	host   Host
	params defs.Helicopter

	controls *syncvar.Field[int32]     // ControlEngineOn only
	power    *syncvar.Field[float32]   // throttle 0..1
	roll     *syncvar.Field[[]float32] // pitch, roll in -1..1
	spool    *syncvar.Field[float32]   // 0..1, simulation side

	timer int
}

func NewHelicopter(h Host) (*Helicopter, error) {
	return &Helicopter{
		host:     h,
		controls: syncvar.NewField[int32]("heli.controls", syncvar.ControllerToObservers, syncvar.Int32(), 0),
		power:    syncvar.NewField[float32]("heli.power", syncvar.ControllerToObservers, syncvar.Float32(), 0),
		roll:     syncvar.NewField[[]float32]("heli.roll_controls", syncvar.ControllerToObservers, syncvar.Float32Array(2), make([]float32, 2)),
		spool:    syncvar.NewField[float32]("heli.spool", syncvar.SimulationToObservers, syncvar.Float32(), 0),
	}, nil
}

func (h *Helicopter) Capability() module.Capability { return CapHelicopter }
func (h *Helicopter) InitPriority() int             { return 100 }

func (h *Helicopter) Fields() []syncvar.Var {
	return []syncvar.Var{h.controls, h.power, h.roll, h.spool}
}

func (h *Helicopter) InitProperties() error {
	def, err := definitionOf(h.host)
	if err != nil {
		return err
	}
	return h.DefinitionReloaded(def)
}

func (h *Helicopter) DefinitionReloaded(def *defs.Definition) error {
	if def.Helicopter == nil {
		return fmt.Errorf("definition %s has no helicopter section", def.Name)
	}
	h.params = *def.Helicopter
	if h.params.StartupTicks <= 0 {
		h.params.StartupTicks = 1
	}
	if h.timer > h.params.StartupTicks {
		h.timer = h.params.StartupTicks
	}
	return nil
}

func (h *Helicopter) Power() float32 { return h.power.Get() }

// SetPower clamps p to 0..1.
func (h *Helicopter) SetPower(p float32) {
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	h.power.Set(p)
}

func (h *Helicopter) SetRoll(pitch, roll float32) {
	h.roll.Set([]float32{clampUnit(pitch), clampUnit(roll)})
}

func (h *Helicopter) Roll() (pitch, roll float32) {
	r := h.roll.Get()
	return r[0], r[1]
}

func (h *Helicopter) SetEngineOn(on bool) {
	if on {
		h.controls.Set(ControlEngineOn)
	} else {
		h.controls.Set(0)
	}
}

func (h *Helicopter) EngineOn() bool { return h.controls.Get()&ControlEngineOn != 0 }

// Spool is the rotor speed fraction reached so far.
func (h *Helicopter) Spool() float32 { return h.spool.Get() }

// Lift is the effective thrust fraction.
func (h *Helicopter) Lift() float32 { return h.power.Get() * h.spool.Get() }

func (h *Helicopter) SeatChanged(ev seats.Event) {
	if ev.Kind == seats.Dismount && ev.Controlling {
		h.SetPower(0)
		h.roll.Set(make([]float32, 2))
	}
}

func (h *Helicopter) WantsTick(side module.Side) bool { return side == module.SideSimulation }

// Tick ramps the spool towards full while the engine is on and back to zero
// when it is off.
func (h *Helicopter) Tick(module.StepContext) {
	if h.EngineOn() {
		if h.timer < h.params.StartupTicks {
			h.timer++
		}
	} else if h.timer > 0 {
		h.timer--
	}
	s := float32(h.timer) / float32(h.params.StartupTicks)
	if s != h.spool.Get() {
		h.spool.Set(s)
	}
}

func (h *Helicopter) WriteState(tag tagstore.Tag) {
	tag.SetFloat(powerKey, float64(h.power.Get()))
}

func (h *Helicopter) ReadState(tag tagstore.Tag) error {
	if p, ok := tag.Float(powerKey); ok {
		h.SetPower(float32(p))
	}
	return nil
}

func clampUnit(v float32) float32 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}
