// Package spatial indexes object collision bounds by chunk.
package spatial

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"dynacraft.ai/internal/sim/collision"
)

type ObjectID = uuid.UUID

// ChunkPos is a chunk coordinate on the X/Z plane. Chunks are also the
// regions whose availability gates registration.
type ChunkPos struct {
	X int `json:"x" msgpack:"x"`
	Z int `json:"z" msgpack:"z"`
}

// Availability reports whether a chunk has finished generating.
type Availability interface {
	Available(c ChunkPos) bool
}

// Integrator is told when the static collider set of a live chunk changed.
type Integrator interface {
	StaticCollidersChanged(c ChunkPos)
}

// Entry is one object bound stored under a chunk.
type Entry struct {
	ID     ObjectID
	Bounds collision.AABB
}

// Index maps chunks to the world bounds of the objects overlapping them.
// Mutations happen on the simulation goroutine; other goroutines use the
// copy-on-read accessors.
type Index struct {
	chunkSize float64
	avail     Availability
	integ     Integrator

	mu      sync.RWMutex
	live    map[ChunkPos]map[ObjectID]collision.AABB
	pending map[ChunkPos]map[ObjectID]collision.AABB
	member  map[ObjectID]map[ChunkPos]struct{}
}

func NewIndex(chunkSize int, avail Availability, integ Integrator) *Index {
	if chunkSize <= 0 {
		chunkSize = 16
	}
	return &Index{
		chunkSize: float64(chunkSize),
		avail:     avail,
		integ:     integ,
		live:      map[ChunkPos]map[ObjectID]collision.AABB{},
		pending:   map[ChunkPos]map[ObjectID]collision.AABB{},
		member:    map[ObjectID]map[ChunkPos]struct{}{},
	}
}

// Chunk coordinates past this are rejected before conversion to int.
const maxChunkCoord = 1 << 30

func (ix *Index) ChunkSize() int { return int(ix.chunkSize) }

// ChunkOf returns the chunk containing world coordinates x, z.
func (ix *Index) ChunkOf(x, z float64) ChunkPos {
	return ChunkPos{X: int(math.Floor(x / ix.chunkSize)), Z: int(math.Floor(z / ix.chunkSize))}
}

// MaxFootprintSpan caps the chunks a footprint covers along each axis.
const MaxFootprintSpan = 256

// Footprint lists the chunks the X/Z extent of b covers, walking it one
// chunk at a time. Bounds that are not finite or lie beyond the int range
// have no footprint; extents wider than MaxFootprintSpan are clipped.
func (ix *Index) Footprint(b collision.AABB) []ChunkPos {
	for _, v := range []float64{b.Min[0], b.Min[2], b.Max[0], b.Max[2]} {
		if math.IsNaN(v) || math.Abs(v/ix.chunkSize) > maxChunkCoord {
			return nil
		}
	}
	if b.Max[0] < b.Min[0] || b.Max[2] < b.Min[2] {
		return nil
	}
	lo := ix.ChunkOf(b.Min[0], b.Min[2])
	hi := ix.ChunkOf(b.Max[0], b.Max[2])
	hi.X = min(hi.X, lo.X+MaxFootprintSpan-1)
	hi.Z = min(hi.Z, lo.Z+MaxFootprintSpan-1)
	out := make([]ChunkPos, 0, (hi.X-lo.X+1)*(hi.Z-lo.Z+1))
	for x := lo.X; x <= hi.X; x++ {
		for z := lo.Z; z <= hi.Z; z++ {
			out = append(out, ChunkPos{X: x, Z: z})
		}
	}
	return out
}

// Register inserts id into every chunk b covers. Chunks that are not yet
// available hold the entry in the pending queue until
// OnRegionBecameAvailable.
func (ix *Index) Register(id ObjectID, b collision.AABB) {
	ix.mu.Lock()
	touched := ix.registerLocked(id, b, nil)
	ix.mu.Unlock()
	ix.notify(touched)
}

// Unregister removes id from live and pending entries across b's footprint
// and from any chunk it is still recorded under.
func (ix *Index) Unregister(id ObjectID, b collision.AABB) {
	ix.mu.Lock()
	touched := ix.unregisterLocked(id, b, nil)
	ix.mu.Unlock()
	ix.notify(touched)
}

// Reindex moves id from old to next bounds and notifies the integrator once
// per live chunk affected by either.
func (ix *Index) Reindex(id ObjectID, old, next collision.AABB) {
	ix.mu.Lock()
	touched := ix.unregisterLocked(id, old, nil)
	touched = ix.registerLocked(id, next, touched)
	ix.mu.Unlock()
	ix.notify(touched)
}

// OnRegionBecameAvailable flushes the pending entries of c into the live set.
func (ix *Index) OnRegionBecameAvailable(c ChunkPos) {
	ix.mu.Lock()
	queued := ix.pending[c]
	delete(ix.pending, c)
	if len(queued) > 0 {
		set := ix.liveSet(c)
		for id, b := range queued {
			set[id] = b
		}
	}
	ix.mu.Unlock()
	if len(queued) > 0 {
		ix.notify(map[ChunkPos]struct{}{c: {}})
	}
}

func (ix *Index) registerLocked(id ObjectID, b collision.AABB, touched map[ChunkPos]struct{}) map[ChunkPos]struct{} {
	if touched == nil {
		touched = map[ChunkPos]struct{}{}
	}
	for _, c := range ix.Footprint(b) {
		if ix.avail == nil || ix.avail.Available(c) {
			ix.liveSet(c)[id] = b
			touched[c] = struct{}{}
		} else {
			set := ix.pending[c]
			if set == nil {
				set = map[ObjectID]collision.AABB{}
				ix.pending[c] = set
			}
			set[id] = b
		}
		m := ix.member[id]
		if m == nil {
			m = map[ChunkPos]struct{}{}
			ix.member[id] = m
		}
		m[c] = struct{}{}
	}
	return touched
}

func (ix *Index) unregisterLocked(id ObjectID, b collision.AABB, touched map[ChunkPos]struct{}) map[ChunkPos]struct{} {
	if touched == nil {
		touched = map[ChunkPos]struct{}{}
	}
	remove := func(c ChunkPos) {
		if set, ok := ix.live[c]; ok {
			if _, ok := set[id]; ok {
				delete(set, id)
				touched[c] = struct{}{}
				if len(set) == 0 {
					delete(ix.live, c)
				}
			}
		}
		if set, ok := ix.pending[c]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.pending, c)
			}
		}
	}
	for _, c := range ix.Footprint(b) {
		remove(c)
	}
	for c := range ix.member[id] {
		remove(c)
	}
	delete(ix.member, id)
	return touched
}

func (ix *Index) liveSet(c ChunkPos) map[ObjectID]collision.AABB {
	set := ix.live[c]
	if set == nil {
		set = map[ObjectID]collision.AABB{}
		ix.live[c] = set
	}
	return set
}

func (ix *Index) notify(touched map[ChunkPos]struct{}) {
	if ix.integ == nil || len(touched) == 0 {
		return
	}
	for _, c := range sortChunks(touched) {
		ix.integ.StaticCollidersChanged(c)
	}
}

// ChunkVolumes returns a copy of the live entries of c, ordered by id.
func (ix *Index) ChunkVolumes(c ChunkPos) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return entries(ix.live[c])
}

// Pending returns a copy of the queued entries of c, ordered by id.
func (ix *Index) Pending(c ChunkPos) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return entries(ix.pending[c])
}

// Chunks lists the live chunks holding id.
func (ix *Index) Chunks(id ObjectID) []ChunkPos {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := map[ChunkPos]struct{}{}
	for c := range ix.member[id] {
		if _, ok := ix.live[c][id]; ok {
			set[c] = struct{}{}
		}
	}
	return sortChunks(set)
}

// LiveChunks lists every chunk with at least one live entry.
func (ix *Index) LiveChunks() []ChunkPos {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := make(map[ChunkPos]struct{}, len(ix.live))
	for c := range ix.live {
		set[c] = struct{}{}
	}
	return sortChunks(set)
}

// PendingChunks lists every chunk with queued entries.
func (ix *Index) PendingChunks() []ChunkPos {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := make(map[ChunkPos]struct{}, len(ix.pending))
	for c := range ix.pending {
		set[c] = struct{}{}
	}
	return sortChunks(set)
}

func entries(set map[ObjectID]collision.AABB) []Entry {
	out := make([]Entry, 0, len(set))
	for id, b := range set {
		out = append(out, Entry{ID: id, Bounds: b})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func sortChunks(set map[ChunkPos]struct{}) []ChunkPos {
	out := make([]ChunkPos, 0, len(set))
	for c := range set {
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
