// Package object wires modules, replication, occupancy and collision
// caching together for one simulated object instance.
package object

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/sim/collision"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/modules"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/syncvar"
)

// ErrNotReady is returned by authority transfers before the object finished
// assembling.
var ErrNotReady = errors.New("object: not ready")

// Outbox carries an object's outgoing replication traffic.
type Outbox interface {
	SendFields(id uuid.UUID, snap syncvar.Snapshot) error
	SendSeats(id uuid.UUID, snap seats.Snapshot) error
}

type Config struct {
	ID         uuid.UUID // zero picks a fresh id
	Definition string
	Library    *defs.Library
	Registry   *module.Registry[modules.Host]
	Side       module.Side

	// LocalOccupant is the player this side acts for; observers hold input
	// authority while it sits in the controlling seat.
	LocalOccupant uuid.UUID

	Index     *spatial.Index
	Scheduler seats.Scheduler
	Resolver  seats.Resolver
	Outbox    Outbox
	Log       *diag.Logger

	Padding mgl64.Vec3
	// Collision refreshes allowed per second and burst; zero disables limiting.
	InvalidationRate  float64
	InvalidationBurst int

	// DebugSync logs provisional writes on non-authoritative sides.
	DebugSync bool

	OnSeat func(id uuid.UUID, ev seats.Event)
	OnDrop func(id uuid.UUID, stacks []modules.ItemStack)
}

// Object is one simulated object. Owned by its world's loop goroutine.
type Object struct {
	id   uuid.UUID
	cfg  Config
	log  *diag.Logger
	side module.Side

	set   *module.Set
	ch    *syncvar.Channel
	seats *modules.Seats
	cache *collision.Cache

	tr Placement

	index           *spatial.Index
	registered      bool
	bounds          collision.AABB
	collisionsDirty bool
	limiter         *rate.Limiter
	reindexes       int

	inputHolder uuid.UUID
	ready       bool

	seatSnap *seats.Snapshot
}

func New(cfg Config) (*Object, error) {
	if cfg.Library == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("object: library and registry are required")
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.Side == 0 {
		cfg.Side = module.SideSimulation
	}
	if cfg.Padding == (mgl64.Vec3{}) {
		cfg.Padding = collision.DefaultPadding
	}
	o := &Object{
		id:    cfg.ID,
		cfg:   cfg,
		log:   cfg.Log.With(cfg.Definition),
		side:  cfg.Side,
		tr:    newPlacement(cfg.Padding),
		index: cfg.Index,
	}
	if cfg.InvalidationRate > 0 {
		burst := cfg.InvalidationBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.InvalidationRate), burst)
	}
	o.ch = syncvar.NewChannel(o, o.log)
	o.ch.Debug = cfg.DebugSync
	o.cache = collision.NewCache(collision.SourceFunc(o.shapes))

	def, err := o.Definition()
	if err != nil {
		return nil, err
	}
	set, err := module.Assemble[modules.Host](o, def, cfg.Registry, module.Options{
		Side:    cfg.Side,
		Channel: o.ch,
		Logger:  o.log,
	})
	if err != nil {
		return nil, err
	}
	o.set = set
	if st, ok := module.Get[*modules.Seats](set, modules.CapSeats); ok {
		o.seats = st
		set.ForEach(module.PhaseAll, func(m module.Module) {
			if l, ok := m.(modules.SeatListener); ok {
				st.Ledger().AddListener(l.SeatChanged)
			}
		})
		st.Ledger().AddListener(o.seatChanged)
	}
	o.ready = true
	o.collisionsDirty = true
	return o, nil
}

func (o *Object) ID() uuid.UUID { return o.id }

func (o *Object) DefinitionName() string { return o.cfg.Definition }

func (o *Object) Definition() (*defs.Definition, error) {
	d, ok := o.cfg.Library.Find(o.cfg.Definition)
	if !ok {
		return nil, fmt.Errorf("definition %q not loaded", o.cfg.Definition)
	}
	return d, nil
}

func (o *Object) Side() module.Side                         { return o.side }
func (o *Object) Logger() *diag.Logger                      { return o.log }
func (o *Object) Authority() syncvar.Authority              { return o }
func (o *Object) Scheduler() seats.Scheduler                { return o.cfg.Scheduler }
func (o *Object) Resolver() seats.Resolver                  { return o.cfg.Resolver }
func (o *Object) InputAuthority() seats.AuthorityController { return o }
func (o *Object) Modules() *module.Set                      { return o.set }
func (o *Object) Channel() *syncvar.Channel                 { return o.ch }
func (o *Object) Collisions() *collision.Cache              { return o.cache }

// Seats returns the occupancy ledger, nil for objects without seats.
func (o *Object) Seats() *seats.Ledger {
	if o.seats == nil {
		return nil
	}
	return o.seats.Ledger()
}

// HasInputAuthority: the simulation owner holds input while nobody else
// does; an observer holds it while its player is the controller.
func (o *Object) HasInputAuthority() bool {
	if o.side == module.SideSimulation {
		return o.inputHolder == uuid.Nil
	}
	return o.inputHolder != uuid.Nil && o.inputHolder == o.cfg.LocalOccupant
}

func (o *Object) SimulatesPhysics() bool { return o.side == module.SideSimulation }

// InputHolder is the occupant currently supplying inputs, if any.
func (o *Object) InputHolder() (uuid.UUID, bool) {
	return o.inputHolder, o.inputHolder != uuid.Nil
}

func (o *Object) GrantInput(occupant uuid.UUID) error {
	if !o.ready {
		return ErrNotReady
	}
	o.inputHolder = occupant
	return nil
}

func (o *Object) RevokeInput(occupant uuid.UUID) error {
	if !o.ready {
		return ErrNotReady
	}
	if o.inputHolder == occupant {
		o.inputHolder = uuid.Nil
		if o.HasInputAuthority() {
			// Inputs are ours again; resend their current values.
			o.ch.MarkAllDirty()
		}
	}
	return nil
}

func (o *Object) PublishSeats(s seats.Snapshot) { o.seatSnap = &s }

func (o *Object) seatChanged(ev seats.Event) {
	o.log.Infof("%s %s seat %d", ev.Occupant, ev.Kind, ev.Seat)
	if o.cfg.OnSeat != nil {
		o.cfg.OnSeat(o.id, ev)
	}
}

func (o *Object) DropItems(stacks []modules.ItemStack) {
	if o.cfg.OnDrop != nil {
		o.cfg.OnDrop(o.id, stacks)
	}
}

func (o *Object) shapes() []collision.Volume {
	d, err := o.Definition()
	if err != nil {
		return nil
	}
	return collision.FromShapes(d.Shapes)
}

// Step runs one simulation step: module phases, collision refresh and
// outgoing replication.
func (o *Object) Step(ctx module.StepContext) {
	ctx.Side = o.side
	o.set.PrePhysics(ctx)
	o.set.PostPhysics(ctx)
	o.set.Tick(ctx)
	o.refreshCollisions(ctx.Now)
	o.flush()
}

func (o *Object) flush() {
	if o.cfg.Outbox == nil {
		return
	}
	if snap := o.ch.CollectDirty(); !snap.Empty() {
		if err := o.cfg.Outbox.SendFields(o.id, snap); err != nil {
			o.log.Warnf("send fields: %v", err)
			o.ch.Requeue(snap)
		}
	}
	if o.seatSnap != nil {
		snap := *o.seatSnap
		if err := o.cfg.Outbox.SendSeats(o.id, snap); err != nil {
			o.log.Warnf("send seats: %v", err)
			return
		}
		o.seatSnap = nil
	}
}

// ApplyFields applies a replicated field snapshot.
func (o *Object) ApplyFields(snap syncvar.Snapshot) error {
	return o.ch.Apply(snap)
}

// ApplyInput applies fields sent by the input holder and returns the entries
// that were written. Simulation-owned fields are never accepted from input.
func (o *Object) ApplyInput(snap syncvar.Snapshot) (syncvar.Snapshot, error) {
	var in syncvar.Snapshot
	for _, e := range snap.Entries {
		if v, ok := o.ch.Lookup(e.ID); ok && v.Rule() == syncvar.SimulationToObservers {
			continue
		}
		in.Entries = append(in.Entries, e)
	}
	return o.ch.ApplyAccepted(in)
}

// ApplySeats reconciles the local ledger with the owner's.
func (o *Object) ApplySeats(snap seats.Snapshot) error {
	if o.seats == nil {
		return fmt.Errorf("object %s has no seats", o.id)
	}
	return o.seats.Ledger().Reconcile(snap)
}

// FullState is what a newly attached observer needs.
func (o *Object) FullState() (syncvar.Snapshot, seats.Snapshot) {
	var s seats.Snapshot
	if o.seats != nil {
		s = o.seats.Ledger().Snapshot()
	}
	return o.ch.FullSnapshot(), s
}

// Reload hands a reloaded definition to the modules and refreshes
// collisions.
func (o *Object) Reload() []module.ReloadFailure {
	d, err := o.Definition()
	if err != nil {
		o.log.Errorf("reload: %v", err)
		return nil
	}
	failures := o.set.Reload(d)
	// Shapes may have changed: local volumes recompute on the next read,
	// the index update waits for the limiter.
	o.cache.Invalidate()
	o.markCollisionsDirty()
	return failures
}

// Destroy removes the object from the index and tears its modules down.
func (o *Object) Destroy() {
	if o.index != nil && o.registered {
		o.index.Unregister(o.id, o.bounds)
		o.registered = false
	}
	o.set.Close()
}

func (o *Object) WorldVolumes() []collision.Volume {
	return o.cache.WorldVolumes(o.transform())
}

func (o *Object) WorldBounds() collision.AABB {
	return o.cache.WorldBounds(o.transform())
}

// Reindexes counts spatial index re-registrations.
func (o *Object) Reindexes() int { return o.reindexes }

func (o *Object) markCollisionsDirty() { o.collisionsDirty = true }

// refreshCollisions rebuilds the collision cache and moves the object in
// the spatial index. Limited refreshes stay pending for the next step.
func (o *Object) refreshCollisions(now time.Time) {
	if !o.collisionsDirty {
		return
	}
	if o.limiter != nil {
		if now.IsZero() {
			now = time.Now()
		}
		if !o.limiter.AllowN(now, 1) {
			return
		}
	}
	o.collisionsDirty = false
	o.cache.Invalidate()
	next := o.cache.WorldBounds(o.transform())
	if o.index == nil {
		o.bounds = next
		return
	}
	if o.registered {
		o.index.Reindex(o.id, o.bounds, next)
		o.reindexes++
	} else {
		o.index.Register(o.id, next)
		o.registered = true
	}
	o.bounds = next
}

// CollisionsPending reports whether a collision refresh is waiting.
func (o *Object) CollisionsPending() bool { return o.collisionsDirty }
