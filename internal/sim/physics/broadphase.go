// Package physics holds the integrator-facing side of the spatial index.
package physics

import (
	"sync"

	"dynacraft.ai/internal/sim/collision"
	"dynacraft.ai/internal/sim/spatial"
)

// BroadPhase keeps per-chunk static collider lists. Chunks are rebuilt
// lazily from the index after it reports a change.
type BroadPhase struct {
	ix *spatial.Index

	mu        sync.Mutex
	dirty     map[spatial.ChunkPos]bool
	colliders map[spatial.ChunkPos][]spatial.Entry
	rebuilds  int
}

func NewBroadPhase() *BroadPhase {
	return &BroadPhase{
		dirty:     map[spatial.ChunkPos]bool{},
		colliders: map[spatial.ChunkPos][]spatial.Entry{},
	}
}

// Bind sets the index colliders are read from. The index is usually created
// with this broad phase as its integrator, hence the two-step setup.
func (b *BroadPhase) Bind(ix *spatial.Index) {
	b.mu.Lock()
	b.ix = ix
	b.mu.Unlock()
}

func (b *BroadPhase) StaticCollidersChanged(c spatial.ChunkPos) {
	b.mu.Lock()
	b.dirty[c] = true
	b.mu.Unlock()
}

// Colliders returns the static colliders of c, rebuilding the chunk first
// when it changed since the last read.
func (b *BroadPhase) Colliders(c spatial.ChunkPos) []spatial.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirty[c] || b.colliders[c] == nil {
		b.rebuildLocked(c)
	}
	return append([]spatial.Entry(nil), b.colliders[c]...)
}

func (b *BroadPhase) rebuildLocked(c spatial.ChunkPos) {
	delete(b.dirty, c)
	if b.ix == nil {
		b.colliders[c] = []spatial.Entry{}
		return
	}
	b.colliders[c] = b.ix.ChunkVolumes(c)
	b.rebuilds++
}

// Query returns the colliders overlapping box, each object once.
func (b *BroadPhase) Query(box collision.AABB) []spatial.Entry {
	if b.ix == nil {
		return nil
	}
	seen := map[spatial.ObjectID]bool{}
	var out []spatial.Entry
	for _, c := range b.ix.Footprint(box) {
		for _, e := range b.Colliders(c) {
			if seen[e.ID] || !e.Bounds.Intersects(box) {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

// DirtyChunks counts chunks waiting for a rebuild.
func (b *BroadPhase) DirtyChunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}

func (b *BroadPhase) Rebuilds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rebuilds
}
