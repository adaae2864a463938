package collision

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacraft.ai/internal/sim/defs"
)

const eps = 1e-9

func TestLocalVolumesNeverEmpty(t *testing.T) {
	for name, src := range map[string]GeometrySource{
		"nil source":   nil,
		"empty source": SourceFunc(func() []Volume { return nil }),
	} {
		t.Run(name, func(t *testing.T) {
			c := NewCache(src)
			vs := c.LocalVolumes()
			require.Len(t, vs, 1)
			assert.True(t, vs[0].ApproxEqual(UnitBox(), eps))
			assert.True(t, c.MergedLocal().ApproxEqual(AABB{Max: mgl64.Vec3{1, 1, 1}}, eps))
		})
	}
}

func TestCacheIsMemoizedUntilInvalidated(t *testing.T) {
	calls := 0
	c := NewCache(SourceFunc(func() []Volume {
		calls++
		return FromShapes([]defs.Shape{{Position: [3]float64{0, 0.5, 0}, Size: [3]float64{2, 1, 4}}})
	}))
	c.LocalVolumes()
	c.MergedLocal()
	c.WorldVolumes(Identity())
	assert.Equal(t, 1, calls)

	c.Invalidate()
	assert.Equal(t, 1, calls, "invalidate is lazy")
	merged := c.MergedLocal()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, c.Recomputes())
	assert.True(t, merged.ApproxEqual(AABB{Min: mgl64.Vec3{-1, 0, -2}, Max: mgl64.Vec3{1, 1, 2}}, eps))
}

func TestMergedLocalUnionsShapes(t *testing.T) {
	c := NewCache(SourceFunc(func() []Volume {
		return []Volume{
			Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1}),
			Box(mgl64.Vec3{2, -1, 0}, mgl64.Vec3{3, 0, 5}),
		}
	}))
	assert.True(t, c.MergedLocal().ApproxEqual(AABB{Min: mgl64.Vec3{0, -1, 0}, Max: mgl64.Vec3{3, 1, 5}}, eps))
}

func TestWorldPipelineOrder(t *testing.T) {
	c := NewCache(SourceFunc(func() []Volume {
		return []Volume{Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1})}
	}))
	tr := Identity()
	tr.Scale = mgl64.Vec3{2, 0, 1} // zero Y is treated as 1
	tr.Rotation = YawSteps(4)      // 90 degrees about Y
	tr.Position = mgl64.Vec3{10, 64, -3}

	b := c.WorldBounds(tr)
	// Scaled: x 0..2, y 0..1, z 0..1. Padded: x -0.1..2.1, z -0.1..1.1.
	// Rotated 90 degrees about (0.5, 0, 0.5): x' = z, z' = 1 - x.
	want := AABB{Min: mgl64.Vec3{-0.1, 0, -1.1}, Max: mgl64.Vec3{1.1, 1, 1.1}}
	want.Min = want.Min.Add(tr.Position)
	want.Max = want.Max.Add(tr.Position)
	assert.True(t, b.ApproxEqual(want, 1e-9), "got %v want %v", b, want)
}

func TestWorldToLocalRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rnd := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	for i := 0; i < 200; i++ {
		local := []Volume{
			Box(mgl64.Vec3{rnd(-3, 0), rnd(-3, 0), rnd(-3, 0)}, mgl64.Vec3{rnd(0, 3), rnd(0, 3), rnd(0, 3)}),
			Box(mgl64.Vec3{rnd(-1, 0), 0, rnd(-1, 0)}, mgl64.Vec3{rnd(0, 1), rnd(0, 2), rnd(0, 1)}),
		}
		c := NewCache(SourceFunc(func() []Volume { return local }))
		tr := Transform{
			Position: mgl64.Vec3{rnd(-100, 100), rnd(0, 128), rnd(-100, 100)},
			Offset:   mgl64.Vec3{rnd(-1, 1), rnd(-1, 1), rnd(-1, 1)},
			Rotation: Euler([3]float64{rnd(-180, 180), rnd(-180, 180), rnd(-180, 180)}),
			Pivot:    DefaultPivot,
			Scale:    mgl64.Vec3{rnd(0.2, 3), rnd(-2, -0.2), 0},
			Padding:  DefaultPadding,
		}
		world := c.WorldVolumes(tr)
		require.Len(t, world, len(local))
		for j, w := range world {
			back := tr.ToLocal(w)
			assert.True(t, back.ApproxEqual(local[j], 1e-6), "iteration %d volume %d: %v vs %v", i, j, back, local[j])
		}
	}
}

func TestScaleChangeDoublesHorizontalExtent(t *testing.T) {
	c := NewCache(SourceFunc(func() []Volume {
		return FromShapes([]defs.Shape{{Position: [3]float64{0, 0.5, 0}, Size: [3]float64{2, 1, 4}}})
	}))
	tr := Identity()
	before := c.WorldVolumes(tr)[0]

	tr.Scale = mgl64.Vec3{2, 1, 2}
	c.Invalidate()
	after := c.WorldVolumes(tr)[0]

	grown := after.Half.Sub(tr.Padding)
	orig := before.Half.Sub(tr.Padding)
	assert.InDelta(t, 2*orig[0], grown[0], eps)
	assert.InDelta(t, orig[1], grown[1], eps)
	assert.InDelta(t, 2*orig[2], grown[2], eps)
}

func TestConcurrentReaders(t *testing.T) {
	c := NewCache(SourceFunc(func() []Volume { return []Volume{UnitBox()} }))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i == 0 && j%10 == 0 {
					c.Invalidate()
				}
				if len(c.WorldVolumes(Identity())) != 1 {
					t.Errorf("unexpected volume count")
				}
			}
		}(i)
	}
	wg.Wait()
}
