package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacraft.ai/internal/sim/collision"
)

type regions map[ChunkPos]bool

func (r regions) Available(c ChunkPos) bool { return !r[c] } // listed chunks are missing

type recorder struct{ changed []ChunkPos }

func (r *recorder) StaticCollidersChanged(c ChunkPos) { r.changed = append(r.changed, c) }

func box(x0, z0, x1, z1 float64) collision.AABB {
	return collision.AABB{Min: mgl64.Vec3{x0, 60, z0}, Max: mgl64.Vec3{x1, 62, z1}}
}

func TestFootprint(t *testing.T) {
	ix := NewIndex(16, nil, nil)
	assert.Equal(t, []ChunkPos{{0, 0}}, ix.Footprint(box(1, 1, 15, 15)))
	assert.Equal(t, []ChunkPos{{-1, -1}, {-1, 0}, {0, -1}, {0, 0}}, ix.Footprint(box(-0.5, -0.5, 0.5, 0.5)))
	assert.Len(t, ix.Footprint(box(0, 0, 47, 10)), 3)
}

func TestFootprintRejectsNonFiniteAndClipsHugeBounds(t *testing.T) {
	ix := NewIndex(16, nil, nil)
	assert.Empty(t, ix.Footprint(box(math.NaN(), 0, 1, 1)))
	assert.Empty(t, ix.Footprint(box(0, 0, math.Inf(1), 1)))
	assert.Empty(t, ix.Footprint(box(-1e300, -1e300, 1e300, 1e300)))
	assert.Empty(t, ix.Footprint(box(5, 5, 1, 1)))

	wide := ix.Footprint(box(0, 0, 1e6, 1e6))
	assert.Len(t, wide, MaxFootprintSpan*MaxFootprintSpan)
	assert.Equal(t, ChunkPos{X: MaxFootprintSpan - 1, Z: MaxFootprintSpan - 1}, wide[len(wide)-1])

	id := uuid.New()
	require.NotPanics(t, func() { ix.Register(id, box(math.NaN(), math.NaN(), 1, 1)) })
	assert.Empty(t, ix.Chunks(id))
	require.NotPanics(t, func() { ix.Unregister(id, box(math.NaN(), math.NaN(), 1, 1)) })
}

func TestPendingChunkScenario(t *testing.T) {
	missing := regions{{X: 0, Z: 1}: true}
	rec := &recorder{}
	ix := NewIndex(16, missing, rec)
	id := uuid.New()
	b := box(2, 10, 4, 20) // spans (0,0) and (0,1)

	ix.Register(id, b)
	assert.Equal(t, []ChunkPos{{0, 0}}, ix.Chunks(id))
	assert.Len(t, ix.ChunkVolumes(ChunkPos{0, 0}), 1)
	assert.Empty(t, ix.ChunkVolumes(ChunkPos{0, 1}))
	require.Len(t, ix.Pending(ChunkPos{0, 1}), 1)
	assert.Equal(t, []ChunkPos{{0, 0}}, rec.changed)

	delete(missing, ChunkPos{0, 1})
	ix.OnRegionBecameAvailable(ChunkPos{0, 1})
	assert.Equal(t, []ChunkPos{{0, 0}, {0, 1}}, ix.Chunks(id))
	assert.Empty(t, ix.Pending(ChunkPos{0, 1}))
	assert.Empty(t, ix.PendingChunks())
	assert.Equal(t, []ChunkPos{{0, 0}, {0, 1}}, rec.changed)

	// A second flush of the same region is a no-op.
	ix.OnRegionBecameAvailable(ChunkPos{0, 1})
	assert.Len(t, rec.changed, 2)
}

func TestUnregisterClearsLiveAndPending(t *testing.T) {
	missing := regions{{X: 1, Z: 0}: true}
	ix := NewIndex(16, missing, nil)
	id, other := uuid.New(), uuid.New()
	b := box(10, 2, 20, 4)
	ix.Register(id, b)
	ix.Register(other, box(1, 1, 2, 2))
	require.Len(t, ix.Pending(ChunkPos{1, 0}), 1)

	ix.Unregister(id, b)
	assert.Empty(t, ix.Chunks(id))
	assert.Empty(t, ix.Pending(ChunkPos{1, 0}))
	assert.Equal(t, []ChunkPos{{0, 0}}, ix.LiveChunks(), "other object stays")

	// Flushing later must not resurrect the removed object.
	ix.OnRegionBecameAvailable(ChunkPos{1, 0})
	assert.Empty(t, ix.ChunkVolumes(ChunkPos{1, 0}))
}

func TestUnregisterWithStaleBoundsStillRemovesEverything(t *testing.T) {
	ix := NewIndex(16, nil, nil)
	id := uuid.New()
	ix.Register(id, box(0, 0, 40, 4))
	ix.Unregister(id, box(0, 0, 1, 1))
	assert.Empty(t, ix.LiveChunks())
}

func TestReindexNotifiesOncePerAffectedChunk(t *testing.T) {
	rec := &recorder{}
	ix := NewIndex(16, nil, rec)
	id := uuid.New()
	old := box(10, 2, 20, 4) // (0,0) and (1,0)
	ix.Register(id, old)
	rec.changed = nil

	next := box(18, 2, 36, 4) // (1,0) and (2,0)
	ix.Reindex(id, old, next)
	assert.Equal(t, []ChunkPos{{0, 0}, {1, 0}, {2, 0}}, rec.changed)
	assert.Equal(t, []ChunkPos{{1, 0}, {2, 0}}, ix.Chunks(id))
	entries := ix.ChunkVolumes(ChunkPos{2, 0})
	require.Len(t, entries, 1)
	assert.Equal(t, next, entries[0].Bounds)
}

func TestAccessorsReturnCopies(t *testing.T) {
	ix := NewIndex(16, nil, nil)
	id := uuid.New()
	ix.Register(id, box(1, 1, 2, 2))
	got := ix.ChunkVolumes(ChunkPos{0, 0})
	got[0].Bounds = collision.AABB{}
	assert.Equal(t, box(1, 1, 2, 2), ix.ChunkVolumes(ChunkPos{0, 0})[0].Bounds)
}
