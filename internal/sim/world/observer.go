package world

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/object"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

// observerClient is one connected observer. All observer state is owned by
// the world loop goroutine.
type observerClient struct {
	id       string
	name     string
	occupant uuid.UUID
	out      chan []byte
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	w.nextObserver++
	c := &observerClient{
		id:       fmt.Sprintf("O%06d", w.nextObserver),
		name:     req.Name,
		occupant: req.Occupant,
		out:      req.Out,
	}
	w.observers[c.id] = c
	if c.occupant != uuid.Nil {
		w.players[c.occupant]++
	}
	w.log.Infof("observer %s (%s) joined", c.id, c.name)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ObserverID:      c.id,
		WorldParams: protocol.WorldParams{
			TickRateHz:  w.cfg.TickRateHz,
			ChunkSize:   w.cfg.ChunkSize,
			Compression: w.cfg.Compression.String(),
		},
	}
	if c.occupant != uuid.Nil {
		welcome.Occupant = c.occupant.String()
	}
	if req.Resp != nil {
		req.Resp <- ObserverJoinResponse{ObserverID: c.id, Welcome: welcome}
	}

	for _, id := range w.order {
		for _, f := range w.introFrames(w.objects[id]) {
			if !w.sendTo(c, f) {
				return
			}
		}
	}
}

func (w *World) handleObserverLeave(id string) {
	c, ok := w.observers[id]
	if !ok {
		return
	}
	w.dropObserver(c, "left")
}

// dropObserver closes the observer's queue and, when it was the last
// connection of its player, dismounts the player everywhere.
func (w *World) dropObserver(c *observerClient, why string) {
	delete(w.observers, c.id)
	close(c.out)
	w.log.Infof("observer %s %s", c.id, why)
	if c.occupant == uuid.Nil {
		return
	}
	w.players[c.occupant]--
	if w.players[c.occupant] > 0 {
		return
	}
	delete(w.players, c.occupant)
	for _, id := range w.order {
		if l := w.objects[id].Seats(); l != nil {
			l.Unassign(c.occupant)
		}
	}
}

// introFrames bring an observer up to date on o.
func (w *World) introFrames(o *object.Object) []protocol.Frame {
	tick := w.tick.Load()
	id := o.ID().String()
	out := make([]protocol.Frame, 0, 3)
	spawn, err := protocol.SpawnFrame(id, tick, protocol.Spawn{
		Definition: o.DefinitionName(),
		Transform:  o.TransformArray(),
		YawSteps:   o.Placement().YawSteps,
	})
	if err != nil {
		w.log.Errorf("spawn frame %s: %v", id, err)
		return nil
	}
	out = append(out, spawn)
	fields, seatSnap := o.FullState()
	if f, err := protocol.FieldsFrame(id, tick, fields); err == nil {
		out = append(out, f)
	}
	if o.Seats() != nil {
		if f, err := protocol.SeatsFrame(id, tick, seatSnap); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// sendTo queues f for c. A full queue drops the observer.
func (w *World) sendTo(c *observerClient, f protocol.Frame) bool {
	b, err := protocol.Encode(f, w.cfg.Compression)
	if err != nil {
		w.log.Errorf("encode %s: %v", f.Kind, err)
		return true
	}
	return w.deliver(c, b)
}

func (w *World) deliver(c *observerClient, b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		w.dropObserver(c, "dropped: queue full")
		return false
	}
}

// broadcast sends f to every observer except the one named by except.
func (w *World) broadcast(f protocol.Frame, except string) {
	if len(w.observers) == 0 {
		return
	}
	b, err := protocol.Encode(f, w.cfg.Compression)
	if err != nil {
		w.log.Errorf("encode %s: %v", f.Kind, err)
		return
	}
	ids := make([]string, 0, len(w.observers))
	for id := range w.observers {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if c, ok := w.observers[id]; ok {
			w.deliver(c, b)
		}
	}
}

// SendFields implements object.Outbox.
func (w *World) SendFields(id uuid.UUID, snap syncvar.Snapshot) error {
	f, err := protocol.FieldsFrame(id.String(), w.tick.Load(), snap)
	if err != nil {
		return err
	}
	w.broadcast(f, "")
	return nil
}

// SendSeats implements object.Outbox.
func (w *World) SendSeats(id uuid.UUID, snap seats.Snapshot) error {
	f, err := protocol.SeatsFrame(id.String(), w.tick.Load(), snap)
	if err != nil {
		return err
	}
	w.broadcast(f, "")
	return nil
}

// ObserverCount is for diagnostics; loop goroutine only.
func (w *World) ObserverCount() int { return len(w.observers) }
