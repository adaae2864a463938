package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/modules"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/world"
	"dynacraft.ai/internal/transport/ws"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "observer name")
		objects  = flag.String("objects", "./configs/objects", "object definition directory")
		occupant = flag.String("occupant", "", "player uuid (default: random)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	player := uuid.New()
	if *occupant != "" {
		var err error
		if player, err = uuid.Parse(*occupant); err != nil {
			logger.Fatalf("occupant: %v", err)
		}
	}
	lib, err := defs.Open(*objects)
	if err != nil {
		logger.Fatalf("load definitions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := ws.Dial(ctx, *url, protocol.HelloMsg{ObserverName: *name, Occupant: player.String()})
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	wp := c.Welcome.WorldParams
	logger.Printf("WELCOME observer=%s player=%s tick_rate=%d", c.Welcome.ObserverID, player, wp.TickRateHz)

	comp, err := protocol.ParseCompression(wp.Compression)
	if err != nil {
		logger.Fatalf("welcome: %v", err)
	}
	replica, err := world.NewReplica(world.ReplicaConfig{
		Library:     lib,
		Occupant:    player,
		TickRateHz:  wp.TickRateHz,
		ChunkSize:   wp.ChunkSize,
		Compression: comp,
		Send:        c.Send,
		Log:         diag.New(logger, "replica"),
	})
	if err != nil {
		logger.Fatalf("replica: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = replica.Run(ctx)
	}()
	d := &driver{replica: replica, player: player, interact: c.Interact, logger: logger}
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				replica.Schedule(d.step)
			}
		}
	}()

	err = c.ReadLoop(ctx, func(b []byte) {
		if err := replica.EnqueueRaw(b); err != nil {
			logger.Printf("frame: %v", err)
		}
	}, func(r protocol.ResultMsg) {
		logger.Printf("RESULT %s ok=%v %s %s", r.ReqID, r.OK, r.Code, r.Message)
		replica.Schedule(func() {
			if d.pending == r.ReqID {
				d.pending = ""
			}
		})
	})
	stop()
	wg.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Fatalf("read: %v", err)
	}
}

// driver runs on the replica loop: it claims the first free driver seat,
// then cycles the engine through a fixed control schedule.
type driver struct {
	replica  *world.Replica
	player   uuid.UUID
	interact func(protocol.InteractMsg) error
	logger   *log.Logger

	pending string
	seq     int
	steps   int
}

func (d *driver) step() {
	for _, id := range d.replica.Objects() {
		o, _ := d.replica.Object(id)
		l := o.Seats()
		if l == nil {
			continue
		}
		if c, ok := l.Controller(); ok && c == d.player {
			if !o.HasInputAuthority() {
				return
			}
			if eng, ok := module.Get[*modules.Engine](o.Modules(), modules.CapEngine); ok {
				eng.SetControls(controlsAt(d.steps))
				d.steps++
			}
			return
		}
	}
	if d.pending != "" {
		return
	}
	for _, id := range d.replica.Objects() {
		o, _ := d.replica.Object(id)
		l := o.Seats()
		def, err := o.Definition()
		if l == nil || err != nil {
			continue
		}
		seat, ok := freeDriverSeat(def, func(s uint8) bool {
			_, taken := l.OccupantOf(seats.SeatID(s))
			return taken
		})
		if !ok {
			continue
		}
		d.seq++
		d.pending = fmt.Sprintf("mount-%d", d.seq)
		msg := protocol.InteractMsg{ReqID: d.pending, Object: id.String(), Action: protocol.ActMount, Seat: &seat}
		if err := d.interact(msg); err != nil {
			d.logger.Printf("interact: %v", err)
			d.pending = ""
		}
		return
	}
}

func freeDriverSeat(d *defs.Definition, taken func(uint8) bool) (uint8, bool) {
	if !d.HasModule(defs.ModuleEngine) {
		return 0, false
	}
	for _, s := range d.Seats {
		if s.Controlling && !taken(s.ID) {
			return s.ID, true
		}
	}
	return 0, false
}

// controlsAt returns the control bits for the n-th second of driving:
// release the handbrake, accelerate, coast, then brake to a stop.
func controlsAt(n int) int32 {
	on := modules.ControlEngineOn
	switch phase := n % 12; {
	case phase < 1:
		return on | modules.ControlHandbrake
	case phase < 6:
		return on | modules.ControlAccelerate
	case phase < 8:
		return on | modules.ControlAccelerate | modules.ControlLeft
	case phase < 10:
		return on
	default:
		return on | modules.ControlHandbrake
	}
}
