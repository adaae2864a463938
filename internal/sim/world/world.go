// Package world runs the simulation loop that owns every simulated object,
// and the observer-side replica that mirrors it.
package world

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/modules"
	"dynacraft.ai/internal/sim/object"
	"dynacraft.ai/internal/sim/physics"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	ChunkSize  int

	Padding           [3]float64
	InvalidationRate  float64
	InvalidationBurst int

	SaveEveryTicks int
	Compression    protocol.Compression
	DebugSync      bool
}

// ConfigFromTuning maps tuning.yaml onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) (WorldConfig, error) {
	c, err := protocol.ParseCompression(t.Transport.Compression)
	if err != nil {
		return WorldConfig{}, err
	}
	return WorldConfig{
		ID:                id,
		TickRateHz:        t.TickRateHz,
		ChunkSize:         t.ChunkSize,
		Padding:           t.Collision.Padding,
		InvalidationRate:  t.Collision.InvalidationRate,
		InvalidationBurst: t.Collision.InvalidationBurst,
		SaveEveryTicks:    t.SaveEveryTicks,
		Compression:       c,
		DebugSync:         t.DebugSync,
	}, nil
}

type Deps struct {
	Library  *defs.Library
	Registry *module.Registry[modules.Host] // nil uses the built-in modules
	Store    ObjectStore                    // optional
	Journal  Journal                        // optional
	Regions  *Regions                       // nil treats every chunk as available
	Log      *diag.Logger
}

type World struct {
	cfg WorldConfig
	log *diag.Logger

	lib     *defs.Library
	reg     *module.Registry[modules.Host]
	store   ObjectStore
	journal Journal

	regions *Regions
	index   *spatial.Index
	broad   *physics.BroadPhase

	objects map[uuid.UUID]*object.Object
	order   []uuid.UUID

	observers    map[string]*observerClient
	nextObserver uint64
	players      map[uuid.UUID]int

	tick atomic.Uint64
	now  time.Time

	taskMu sync.Mutex
	tasks  []func()

	spawn         chan SpawnRequest
	despawn       chan despawnReq
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	interact      chan InteractRequest
	inbound       chan InboundFrame
	region        chan spatial.ChunkPos
	reload        chan reloadReq
	stop          chan struct{}
	stopOnce      sync.Once
}

func New(cfg WorldConfig, deps Deps) (*World, error) {
	if deps.Library == nil {
		return nil, fmt.Errorf("world: definition library is required")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 16
	}
	if deps.Registry == nil {
		deps.Registry = modules.NewRegistry()
	}
	if deps.Regions == nil {
		deps.Regions = AllAvailableRegions()
	}
	w := &World{
		cfg:     cfg,
		log:     deps.Log.With("world"),
		lib:     deps.Library,
		reg:     deps.Registry,
		store:   deps.Store,
		journal: deps.Journal,
		regions: deps.Regions,
		broad:   physics.NewBroadPhase(),

		objects:   map[uuid.UUID]*object.Object{},
		observers: map[string]*observerClient{},
		players:   map[uuid.UUID]int{},

		spawn:         make(chan SpawnRequest, 64),
		despawn:       make(chan despawnReq, 64),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerLeave: make(chan string, 64),
		interact:      make(chan InteractRequest, 1024),
		inbound:       make(chan InboundFrame, 1024),
		region:        make(chan spatial.ChunkPos, 256),
		reload:        make(chan reloadReq, 4),
		stop:          make(chan struct{}),
	}
	w.index = spatial.NewIndex(cfg.ChunkSize, w.regions, w.broad)
	w.broad.Bind(w.index)
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) TickRateHz() int { return w.cfg.TickRateHz }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Index() *spatial.Index { return w.index }

func (w *World) BroadPhase() *physics.BroadPhase { return w.broad }

func (w *World) Regions() *Regions { return w.regions }

func (w *World) SpawnCh() chan<- SpawnRequest { return w.spawn }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }

func (w *World) ObserverLeave() chan<- string { return w.observerLeave }

func (w *World) Interact() chan<- InteractRequest { return w.interact }

func (w *World) Inbound() chan<- InboundFrame { return w.inbound }

// Schedule runs fn on the loop goroutine at the start of the next step.
// Safe from any goroutine.
func (w *World) Schedule(fn func()) {
	w.taskMu.Lock()
	w.tasks = append(w.tasks, fn)
	w.taskMu.Unlock()
}

func (w *World) runTasks() {
	w.taskMu.Lock()
	tasks := w.tasks
	w.tasks = nil
	w.taskMu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

// Known reports whether occupant is a connected player.
func (w *World) Known(occupant uuid.UUID) bool { return w.players[occupant] > 0 }

// SpawnObject blocks until the loop created the object.
func (w *World) SpawnObject(ctx context.Context, req SpawnRequest) (uuid.UUID, error) {
	req.Resp = make(chan SpawnResponse, 1)
	select {
	case w.spawn <- req:
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.ID, resp.Err
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

func (w *World) DespawnObject(ctx context.Context, id uuid.UUID) error {
	req := despawnReq{id: id, resp: make(chan error, 1)}
	select {
	case w.despawn <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkRegionAvailable queues c as generated.
func (w *World) MarkRegionAvailable(c spatial.ChunkPos) {
	w.region <- c
}

// Reload re-reads the definition library and reloads affected objects.
func (w *World) Reload(ctx context.Context) ReloadResult {
	req := reloadReq{resp: make(chan ReloadResult, 1)}
	select {
	case w.reload <- req:
	case <-ctx.Done():
		return ReloadResult{Err: ctx.Err()}
	}
	select {
	case res := <-req.resp:
		return res
	case <-ctx.Done():
		return ReloadResult{Err: ctx.Err()}
	}
}

func (w *World) objectConfig(def string, id uuid.UUID) object.Config {
	return object.Config{
		ID:                id,
		Definition:        def,
		Library:           w.lib,
		Registry:          w.reg,
		Side:              module.SideSimulation,
		Index:             w.index,
		Scheduler:         w,
		Resolver:          w,
		Outbox:            w,
		Log:               w.log,
		Padding:           mgl64.Vec3(w.cfg.Padding),
		InvalidationRate:  w.cfg.InvalidationRate,
		InvalidationBurst: w.cfg.InvalidationBurst,
		DebugSync:         w.cfg.DebugSync,
		OnSeat:            w.seatChanged,
		OnDrop:            w.itemsDropped,
	}
}

func (w *World) add(o *object.Object) {
	w.objects[o.ID()] = o
	w.order = append(w.order, o.ID())
}

// Restore loads stored objects. Call before Run.
func (w *World) Restore(recs []tagstore.Record) int {
	n := 0
	for _, rec := range recs {
		o, err := object.Restore(w.objectConfig(rec.Definition, uuid.Nil), rec)
		if o == nil {
			w.log.Errorf("restore %s (%s): %v", rec.ID, rec.Definition, err)
			continue
		}
		if _, dup := w.objects[o.ID()]; dup {
			w.log.Warnf("restore %s: duplicate id", rec.ID)
			o.Destroy()
			continue
		}
		w.add(o)
		n++
	}
	return n
}

func (w *World) handleSpawn(req SpawnRequest) SpawnResponse {
	o, err := object.New(w.objectConfig(req.Definition, uuid.Nil))
	if err != nil {
		w.log.Warnf("spawn %s: %v", req.Definition, err)
		return SpawnResponse{Err: err}
	}
	o.SetPosition(mgl64.Vec3(req.Position))
	o.SetYawSteps(req.YawSteps)
	w.add(o)
	if w.store != nil {
		if err := w.store.Put(o.Record(w.now)); err != nil {
			w.log.Warnf("save %s: %v", o.ID(), err)
		}
	}
	w.log.Infof("spawned %s %s at %v", req.Definition, o.ID(), req.Position)
	for _, f := range w.introFrames(o) {
		w.broadcast(f, "")
	}
	return SpawnResponse{ID: o.ID()}
}

func (w *World) handleDespawn(id uuid.UUID) error {
	o, ok := w.objects[id]
	if !ok {
		return fmt.Errorf("object %s not found", id)
	}
	o.Destroy()
	delete(w.objects, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.store != nil {
		if err := w.store.Delete(id.String()); err != nil {
			w.log.Warnf("delete %s: %v", id, err)
		}
	}
	w.broadcast(protocol.DespawnFrame(id.String(), w.tick.Load()), "")
	return nil
}

func (w *World) handleRegion(c spatial.ChunkPos) {
	if !w.regions.add(c) {
		return
	}
	flushed := len(w.index.Pending(c))
	w.index.OnRegionBecameAvailable(c)
	if flushed > 0 {
		w.log.Debugf("region %v available, %d pending volumes flushed", c, flushed)
	}
	if w.journal != nil {
		w.journal.WriteRegion(RegionEntry{Tick: w.tick.Load(), Chunk: c, Flushed: flushed})
	}
}

func (w *World) handleReload() ReloadResult {
	changed, err := w.lib.Reload()
	if err != nil {
		w.log.Errorf("reload definitions: %v", err)
		return ReloadResult{Err: err}
	}
	res := ReloadResult{Changed: changed}
	want := map[string]bool{}
	for _, name := range changed {
		want[name] = true
	}
	for _, id := range w.order {
		o := w.objects[id]
		if !want[o.DefinitionName()] {
			continue
		}
		for _, f := range o.Reload() {
			res.Failures = append(res.Failures, fmt.Sprintf("%s/%s: %v", id, f.Capability, f.Err))
		}
	}
	sort.Strings(res.Failures)
	w.log.Infof("reloaded definitions %v, %d module failures", changed, len(res.Failures))
	return res
}

func (w *World) seatChanged(id uuid.UUID, ev seats.Event) {
	if w.journal == nil {
		return
	}
	def := ""
	if o, ok := w.objects[id]; ok {
		def = o.DefinitionName()
	}
	w.journal.WriteSeat(SeatEntry{
		Tick:        w.tick.Load(),
		Object:      id.String(),
		Definition:  def,
		Kind:        ev.Kind.String(),
		Seat:        uint8(ev.Seat),
		Occupant:    ev.Occupant.String(),
		Controlling: ev.Controlling,
	})
}

func (w *World) itemsDropped(id uuid.UUID, stacks []modules.ItemStack) {
	w.log.Infof("object %s dropped %d stacks", id, len(stacks))
}

func (w *World) object(raw string) (*object.Object, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	o, ok := w.objects[id]
	return o, ok
}
