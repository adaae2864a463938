package world

import (
	"context"

	"dynacraft.ai/internal/sim/spatial"
)

type ObjectInfo struct {
	ID         string     `json:"id"`
	Definition string     `json:"definition"`
	Position   [3]float64 `json:"position"`
	YawSteps   int        `json:"yaw_steps"`
	Occupants  int        `json:"occupants"`
	Controller string     `json:"controller,omitempty"`
	Chunks     int        `json:"chunks"`
}

// State is a point-in-time summary for admin tooling.
type State struct {
	WorldID       string             `json:"world_id"`
	Tick          uint64             `json:"tick"`
	Observers     int                `json:"observers"`
	Players       int                `json:"players"`
	Objects       []ObjectInfo       `json:"objects"`
	Regions       []spatial.ChunkPos `json:"regions,omitempty"`
	PendingChunks []spatial.ChunkPos `json:"pending_chunks,omitempty"`
}

// Describe collects State on the loop goroutine. Run must be active.
func (w *World) Describe(ctx context.Context) (State, error) {
	ch := make(chan State, 1)
	w.Schedule(func() { ch <- w.describe() })
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (w *World) describe() State {
	s := State{
		WorldID:       w.cfg.ID,
		Tick:          w.tick.Load(),
		Observers:     len(w.observers),
		Players:       len(w.players),
		Objects:       make([]ObjectInfo, 0, len(w.order)),
		Regions:       w.regions.List(),
		PendingChunks: w.index.PendingChunks(),
	}
	for _, id := range w.order {
		o := w.objects[id]
		p := o.Position()
		info := ObjectInfo{
			ID:         id.String(),
			Definition: o.DefinitionName(),
			Position:   [3]float64{p[0], p[1], p[2]},
			YawSteps:   o.Placement().YawSteps,
			Chunks:     len(w.index.Chunks(id)),
		}
		if l := o.Seats(); l != nil {
			info.Occupants = l.Len()
			if c, ok := l.Controller(); ok {
				info.Controller = c.String()
			}
		}
		s.Objects = append(s.Objects, info)
	}
	return s
}
