package world

import (
	"context"
	"time"

	"dynacraft.ai/internal/sim/module"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingInteract []InteractRequest
	var pendingInbound []InboundFrame

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.spawn:
			req.Resp <- w.handleSpawn(req)
		case req := <-w.despawn:
			req.resp <- w.handleDespawn(req.id)
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case c := <-w.region:
			w.handleRegion(c)
		case req := <-w.reload:
			req.resp <- w.handleReload()
		case req := <-w.interact:
			pendingInteract = append(pendingInteract, req)
		case f := <-w.inbound:
			pendingInbound = append(pendingInbound, f)
		case now := <-ticker.C:
			w.step(now, pendingInbound, pendingInteract)
			pendingInbound = pendingInbound[:0]
			pendingInteract = pendingInteract[:0]
		}
	}
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// StepOnce advances the world by one tick outside Run. Used by tests and
// tools; never call it while Run is active.
func (w *World) StepOnce(now time.Time) uint64 {
	tick := w.tick.Load()
	w.step(now, nil, nil)
	return tick
}

// step order: scheduled tasks, inbound frames, interactions, then every
// object in spawn order, then periodic saves.
func (w *World) step(now time.Time, inbound []InboundFrame, interacts []InteractRequest) {
	w.now = now
	tick := w.tick.Load()

	w.runTasks()
	for _, f := range inbound {
		w.handleInbound(f)
	}
	for _, req := range interacts {
		res := w.handleInteract(req)
		if req.Resp != nil {
			req.Resp <- res
		}
	}

	ctx := module.StepContext{
		Tick: tick,
		DT:   1 / float64(w.cfg.TickRateHz),
		Side: module.SideSimulation,
		Now:  now,
	}
	for _, id := range w.order {
		w.objects[id].Step(ctx)
	}

	if w.store != nil && w.cfg.SaveEveryTicks > 0 && tick > 0 && tick%uint64(w.cfg.SaveEveryTicks) == 0 {
		w.saveAll()
	}
	w.tick.Add(1)
}

func (w *World) saveAll() {
	for _, id := range w.order {
		if err := w.store.Put(w.objects[id].Record(w.now)); err != nil {
			w.log.Warnf("save %s: %v", id, err)
		}
	}
}

// Shutdown saves every object. Call after Run returned.
func (w *World) Shutdown() {
	if w.store != nil {
		w.saveAll()
	}
	for id, o := range w.observers {
		close(o.out)
		delete(w.observers, id)
	}
}
