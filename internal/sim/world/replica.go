package world

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/modules"
	"dynacraft.ai/internal/sim/object"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/syncvar"
)

type ReplicaConfig struct {
	Library  *defs.Library
	Registry *module.Registry[modules.Host]

	// Occupant is the local player; zero for spectators.
	Occupant uuid.UUID

	TickRateHz  int
	ChunkSize   int
	Padding     [3]float64
	Compression protocol.Compression

	// Send delivers an encoded frame to the server. Nil makes the replica
	// read-only.
	Send func([]byte) error
	Log  *diag.Logger
}

// Replica mirrors the server's objects on an observer. Frames received from
// the transport are queued and applied at the start of the next frame, on
// the replica's own goroutine.
type Replica struct {
	cfg ReplicaConfig
	log *diag.Logger

	mu    sync.Mutex
	queue []protocol.Frame

	taskMu sync.Mutex
	tasks  []func()

	index   *spatial.Index
	objects map[uuid.UUID]*object.Object
	order   []uuid.UUID
	tick    uint64
}

func NewReplica(cfg ReplicaConfig) (*Replica, error) {
	if cfg.Library == nil {
		return nil, fmt.Errorf("replica: definition library is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = modules.NewRegistry()
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	return &Replica{
		cfg:     cfg,
		log:     cfg.Log.With("replica"),
		index:   spatial.NewIndex(cfg.ChunkSize, nil, nil),
		objects: map[uuid.UUID]*object.Object{},
	}, nil
}

// Enqueue queues f for the next frame. Safe from any goroutine.
func (r *Replica) Enqueue(f protocol.Frame) {
	r.mu.Lock()
	r.queue = append(r.queue, f)
	r.mu.Unlock()
}

// EnqueueRaw decodes an encoded frame and queues it.
func (r *Replica) EnqueueRaw(b []byte) error {
	f, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	r.Enqueue(f)
	return nil
}

func (r *Replica) Schedule(fn func()) {
	r.taskMu.Lock()
	r.tasks = append(r.tasks, fn)
	r.taskMu.Unlock()
}

func (r *Replica) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.TickRateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.Frame(now)
		}
	}
}

// Frame applies queued frames, then steps every object on the observer side.
func (r *Replica) Frame(now time.Time) {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	r.taskMu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.taskMu.Unlock()
	for _, fn := range tasks {
		fn()
	}

	for _, f := range queue {
		r.apply(f)
	}
	ctx := module.StepContext{Tick: r.tick, DT: 1 / float64(r.cfg.TickRateHz), Side: module.SideObserver, Now: now}
	for _, id := range r.order {
		r.objects[id].Step(ctx)
	}
	r.tick++
}

func (r *Replica) apply(f protocol.Frame) {
	id, err := uuid.Parse(f.Object)
	if err != nil {
		r.log.Warnf("frame %s: bad object id %q", f.Kind, f.Object)
		return
	}
	switch f.Kind {
	case protocol.FrameSpawn:
		r.spawn(id, f)
	case protocol.FrameDespawn:
		o, ok := r.objects[id]
		if !ok {
			return
		}
		o.Destroy()
		delete(r.objects, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	case protocol.FrameFields:
		o, ok := r.objects[id]
		if !ok {
			r.log.Debugf("fields for unknown object %s", id)
			return
		}
		snap, err := f.Fields()
		if err != nil {
			r.log.Warnf("fields %s: %v", id, err)
			return
		}
		if err := o.ApplyFields(snap); err != nil {
			r.log.Warnf("fields %s: %v", id, err)
		}
	case protocol.FrameSeats:
		o, ok := r.objects[id]
		if !ok {
			r.log.Debugf("seats for unknown object %s", id)
			return
		}
		snap, err := f.Seats()
		if err != nil {
			r.log.Warnf("seats %s: %v", id, err)
			return
		}
		_ = o.ApplySeats(snap) // the ledger reports its own failures
	}
}

func (r *Replica) spawn(id uuid.UUID, f protocol.Frame) {
	s, err := f.Spawn()
	if err != nil {
		r.log.Warnf("spawn %s: %v", id, err)
		return
	}
	for _, v := range s.Transform {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			r.log.Warnf("spawn %s: transform is not finite: %v", id, s.Transform)
			return
		}
	}
	o, ok := r.objects[id]
	if !ok {
		o, err = object.New(object.Config{
			ID:            id,
			Definition:    s.Definition,
			Library:       r.cfg.Library,
			Registry:      r.cfg.Registry,
			Side:          module.SideObserver,
			LocalOccupant: r.cfg.Occupant,
			Index:         r.index,
			Scheduler:     r,
			Outbox:        r,
			Log:           r.log,
			Padding:       mgl64.Vec3(r.cfg.Padding),
		})
		if err != nil {
			r.log.Warnf("spawn %s (%s): %v", id, s.Definition, err)
			return
		}
		r.objects[id] = o
		r.order = append(r.order, id)
	}
	x := s.Transform
	o.SetPosition(mgl64.Vec3{x[0], x[1], x[2]})
	o.SetYawSteps(s.YawSteps)
	o.SetScale(mgl64.Vec3{x[7], x[8], x[9]})
}

func (r *Replica) send(f protocol.Frame) error {
	if r.cfg.Send == nil {
		return nil
	}
	b, err := protocol.Encode(f, r.cfg.Compression)
	if err != nil {
		return err
	}
	return r.cfg.Send(b)
}

// SendFields implements object.Outbox; only fields this observer is
// authoritative for reach it.
func (r *Replica) SendFields(id uuid.UUID, snap syncvar.Snapshot) error {
	f, err := protocol.FieldsFrame(id.String(), r.tick, snap)
	if err != nil {
		return err
	}
	return r.send(f)
}

// SendSeats implements object.Outbox. Observers never publish occupancy.
func (r *Replica) SendSeats(uuid.UUID, seats.Snapshot) error { return nil }

func (r *Replica) Object(id uuid.UUID) (*object.Object, bool) {
	o, ok := r.objects[id]
	return o, ok
}

// Objects lists the mirrored object ids, sorted.
func (r *Replica) Objects() []uuid.UUID {
	out := append([]uuid.UUID(nil), r.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Replica) Index() *spatial.Index { return r.index }
