package modules

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

type testHost struct {
	id      uuid.UUID
	def     *defs.Definition
	side    module.Side
	tasks   []func()
	sent    []seats.Snapshot
	dropped []ItemStack
	rot     mgl64.Quat
	pos     mgl64.Vec3
}

func newHost(def *defs.Definition) *testHost {
	return &testHost{id: uuid.New(), def: def, side: module.SideSimulation, rot: mgl64.QuatIdent()}
}

func (h *testHost) ID() uuid.UUID { return h.id }
func (h *testHost) Definition() (*defs.Definition, error) {
	if h.def == nil {
		return nil, errors.New("not loaded")
	}
	return h.def, nil
}
func (h *testHost) Side() module.Side                         { return h.side }
func (h *testHost) Logger() *diag.Logger                      { return diag.Discard() }
func (h *testHost) Authority() syncvar.Authority              { return nil }
func (h *testHost) Scheduler() seats.Scheduler                { return h }
func (h *testHost) Schedule(task func())                      { h.tasks = append(h.tasks, task) }
func (h *testHost) Resolver() seats.Resolver                  { return nil }
func (h *testHost) InputAuthority() seats.AuthorityController { return nil }
func (h *testHost) PublishSeats(s seats.Snapshot)             { h.sent = append(h.sent, s) }
func (h *testHost) Position() mgl64.Vec3                      { return h.pos }
func (h *testHost) Rotation() mgl64.Quat                      { return h.rot }
func (h *testHost) DropItems(stacks []ItemStack)              { h.dropped = append(h.dropped, stacks...) }

var car = &defs.Definition{
	Name:    "car",
	Modules: []string{defs.ModuleStorage, defs.ModuleEngine, defs.ModuleSeats},
	Seats: []defs.Seat{
		{ID: 0, Controlling: true, Door: true, Position: [3]float64{-0.5, 0.6, 0.2}},
		{ID: 1, Position: [3]float64{0.5, 0.6, 0.2}},
	},
	Storages: []defs.Storage{{ID: 0, Size: 4}, {ID: 1, Size: 2}},
	Engine:   &defs.Engine{MaxRevs: 6000, MaxSpeed: 100, Power: 200, Braking: 5, Gears: []float64{-1, 0, 1, 2, 3}},
}

func assemble(t *testing.T, h *testHost, def *defs.Definition) (*module.Set, *syncvar.Channel) {
	t.Helper()
	ch := syncvar.NewChannel(nil, diag.Discard())
	set, err := module.Assemble[Host](h, def, NewRegistry(), module.Options{Side: h.side, Channel: ch, Logger: diag.Discard()})
	require.NoError(t, err)
	return set, ch
}

func TestCarAssemblyOrder(t *testing.T) {
	set, ch := assemble(t, newHost(car), car)
	var caps []module.Capability
	set.ForEach(module.PhaseAll, func(m module.Module) { caps = append(caps, m.Capability()) })
	assert.Equal(t, []module.Capability{CapSeats, CapEngine, CapStorage}, caps)
	assert.Equal(t, 4, ch.Len(), "doors + three engine fields")
}

func TestEngineAcceleratesAndReportsTelemetry(t *testing.T) {
	h := newHost(car)
	set, _ := assemble(t, h, car)
	eng, ok := module.Get[*Engine](set, CapEngine)
	require.True(t, ok)
	assert.Equal(t, ControlHandbrake, eng.Controls(), "default controls")

	eng.SetControls(ControlEngineOn | ControlAccelerate)
	for i := 0; i < 20; i++ {
		set.Step(module.StepContext{Tick: uint64(i), DT: 0.05, Side: module.SideSimulation})
	}
	speed, revs, gear := eng.Props()
	assert.InDelta(t, 20.0, speed, 1e-3) // 20 km/h per second for one second
	assert.Greater(t, revs, float32(0))
	assert.Equal(t, 1, gear)

	eng.SetSpeedLimit(10)
	set.Step(module.StepContext{Tick: 21, DT: 0.05, Side: module.SideSimulation})
	speed, _, _ = eng.Props()
	assert.InDelta(t, 10.0, speed, 1e-3)
}

func TestControllerDismountResetsEngineControls(t *testing.T) {
	h := newHost(car)
	set, _ := assemble(t, h, car)
	eng, _ := module.Get[*Engine](set, CapEngine)
	eng.SetControls(ControlEngineOn | ControlAccelerate | ControlLeft)

	eng.SeatChanged(seats.Event{Kind: seats.Dismount, Seat: 1})
	assert.Equal(t, ControlEngineOn|ControlAccelerate|ControlLeft, eng.Controls(), "passenger leaving changes nothing")

	eng.SeatChanged(seats.Event{Kind: seats.Dismount, Seat: 0, Controlling: true})
	assert.Equal(t, ControlEngineOn, eng.Controls())
}

func TestSeatsDoorsAndPositions(t *testing.T) {
	h := newHost(car)
	h.pos = mgl64.Vec3{10, 64, 10}
	h.rot = mgl64.QuatRotate(mgl64.DegToRad(180), mgl64.Vec3{0, 1, 0})
	set, _ := assemble(t, h, car)
	st, ok := module.Get[*Seats](set, CapSeats)
	require.True(t, ok)

	assert.True(t, st.SetDoor(0, true))
	assert.True(t, st.DoorOpen(0))
	assert.False(t, st.SetDoor(1, true), "seat 1 has no door")

	p, ok := st.SeatPosition(0)
	require.True(t, ok)
	assert.True(t, p.ApproxEqualThreshold(mgl64.Vec3{10.5, 64.6, 9.8}, 1e-9), "%v", p)

	occ := uuid.New()
	require.Equal(t, seats.Assigned, st.Ledger().Assign(0, occ))
	require.Len(t, h.sent, 1)
}

func TestObjectStateRoundTrip(t *testing.T) {
	h := newHost(car)
	set, _ := assemble(t, h, car)
	store, _ := module.Get[*Storage](set, CapStorage)
	inv, ok := store.Inventory(0)
	require.True(t, ok)
	require.NoError(t, inv.Put(2, ItemStack{Item: "apple", Count: 5}))
	eng, _ := module.Get[*Engine](set, CapEngine)
	eng.SetControls(ControlEngineOn)
	driver := uuid.New()
	st, _ := module.Get[*Seats](set, CapSeats)
	st.Ledger().Assign(0, driver)

	tag := tagstore.NewTag()
	set.WriteState(tag)
	raw, err := tag.Marshal()
	require.NoError(t, err)
	back, err := tagstore.Unmarshal(raw)
	require.NoError(t, err)

	h2 := newHost(car)
	set2, _ := assemble(t, h2, car)
	require.NoError(t, set2.ReadState(back))

	store2, _ := module.Get[*Storage](set2, CapStorage)
	inv2, _ := store2.Inventory(0)
	got, _ := inv2.Get(2)
	assert.Equal(t, ItemStack{Item: "apple", Count: 5}, got)
	eng2, _ := module.Get[*Engine](set2, CapEngine)
	assert.True(t, eng2.Started())
	st2, _ := module.Get[*Seats](set2, CapSeats)
	ctrl, ok := st2.Ledger().Controller()
	require.True(t, ok)
	assert.Equal(t, driver, ctrl)
}

func TestStorageReloadAndClose(t *testing.T) {
	h := newHost(car)
	set, _ := assemble(t, h, car)
	store, _ := module.Get[*Storage](set, CapStorage)
	inv0, _ := store.Inventory(0)
	require.NoError(t, inv0.Put(3, ItemStack{Item: "rope", Count: 1}))
	inv1, _ := store.Inventory(1)
	require.NoError(t, inv1.Put(0, ItemStack{Item: "fuel", Count: 2}))

	reloaded := *car
	reloaded.Storages = []defs.Storage{{ID: 0, Size: 3}, {ID: 2, Size: 9}}
	assert.Empty(t, set.Reload(&reloaded))
	assert.Equal(t, []uint8{0, 2}, store.IDs())
	inv0, _ = store.Inventory(0)
	assert.Equal(t, 3, inv0.Size())
	assert.Equal(t, []ItemStack{{Item: "rope", Count: 1}, {Item: "fuel", Count: 2}}, h.dropped)

	h.dropped = nil
	inv2, _ := store.Inventory(2)
	require.NoError(t, inv2.Put(8, ItemStack{Item: "map", Count: 1}))
	set.Close()
	assert.Equal(t, []ItemStack{{Item: "map", Count: 1}}, h.dropped)
}

func TestReloadFailureIsIsolated(t *testing.T) {
	h := newHost(car)
	set, _ := assemble(t, h, car)
	broken := *car
	broken.Engine = nil
	broken.Seats = car.Seats[:1]

	failures := set.Reload(&broken)
	require.Len(t, failures, 1)
	assert.Equal(t, CapEngine, failures[0].Capability)
	st, _ := module.Get[*Seats](set, CapSeats)
	_, ok := st.Ledger().Seat(1)
	assert.False(t, ok, "seats still took the reload")
}

var heli = &defs.Definition{
	Name:       "heli",
	Modules:    []string{defs.ModuleSeats, defs.ModuleHelicopterEngine},
	Seats:      []defs.Seat{{ID: 0, Controlling: true}},
	Helicopter: &defs.Helicopter{StartupTicks: 4},
}

func TestHelicopterSpoolAndPower(t *testing.T) {
	h := newHost(heli)
	set, _ := assemble(t, h, heli)
	hc, ok := module.Get[*Helicopter](set, CapHelicopter)
	require.True(t, ok)

	hc.SetPower(1.7)
	assert.Equal(t, float32(1), hc.Power())
	hc.SetPower(-1)
	assert.Equal(t, float32(0), hc.Power())

	hc.SetPower(0.5)
	hc.SetEngineOn(true)
	step := func() { set.Step(module.StepContext{DT: 0.05, Side: module.SideSimulation}) }
	step()
	step()
	assert.InDelta(t, 0.5, hc.Spool(), 1e-6)
	step()
	step()
	step()
	assert.InDelta(t, 1.0, hc.Spool(), 1e-6)
	assert.InDelta(t, 0.5, hc.Lift(), 1e-6)

	hc.SeatChanged(seats.Event{Kind: seats.Dismount, Controlling: true})
	assert.Zero(t, hc.Power())

	tag := tagstore.NewTag()
	hc.SetPower(0.25)
	hc.WriteState(tag)
	p, _ := tag.Float("power")
	assert.InDelta(t, 0.25, p, 1e-6)
}

func TestHelicopterTickOnlyOnSimulationSide(t *testing.T) {
	h := newHost(heli)
	h.side = module.SideObserver
	set, _ := assemble(t, h, heli)
	var ticking []module.Capability
	set.ForEach(module.PhaseTick, func(m module.Module) { ticking = append(ticking, m.Capability()) })
	assert.Empty(t, ticking)
}

func TestAssembleFailsWithoutDefinition(t *testing.T) {
	h := newHost(nil)
	_, err := module.Assemble[Host](h, car, NewRegistry(), module.Options{Side: module.SideSimulation})
	assert.Error(t, err)
}
