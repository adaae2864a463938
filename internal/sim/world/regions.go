package world

import (
	"sort"
	"sync"

	"dynacraft.ai/internal/sim/spatial"
)

// Regions is the set of chunks that finished generating. Reads may come from
// any goroutine; additions go through the world loop so the spatial index
// sees them in order.
type Regions struct {
	mu        sync.RWMutex
	available map[spatial.ChunkPos]struct{}
	all       bool
}

func NewRegions() *Regions {
	return &Regions{available: map[spatial.ChunkPos]struct{}{}}
}

// AllAvailableRegions treats every chunk as generated.
func AllAvailableRegions() *Regions {
	r := NewRegions()
	r.all = true
	return r
}

func (r *Regions) Available(c spatial.ChunkPos) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.all {
		return true
	}
	_, ok := r.available[c]
	return ok
}

// add reports whether c was newly added.
func (r *Regions) add(c spatial.ChunkPos) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.all {
		return false
	}
	if _, ok := r.available[c]; ok {
		return false
	}
	r.available[c] = struct{}{}
	return true
}

func (r *Regions) List() []spatial.ChunkPos {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]spatial.ChunkPos, 0, len(r.available))
	for c := range r.available {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Square lists the chunks within radius of center, inclusive.
func Square(center spatial.ChunkPos, radius int) []spatial.ChunkPos {
	var out []spatial.ChunkPos
	for x := center.X - radius; x <= center.X+radius; x++ {
		for z := center.Z - radius; z <= center.Z+radius; z++ {
			out = append(out, spatial.ChunkPos{X: x, Z: z})
		}
	}
	return out
}
