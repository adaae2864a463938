// Package collision caches an object's collision volumes and derives their
// world-space placement.
package collision

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"dynacraft.ai/internal/sim/defs"
)

// AABB is an axis-aligned box.
type AABB struct {
	Min, Max mgl64.Vec3
}

func (b AABB) Size() mgl64.Vec3 { return b.Max.Sub(b.Min) }

func (b AABB) Center() mgl64.Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

func (b AABB) Empty() bool {
	return b.Max[0] < b.Min[0] || b.Max[1] < b.Min[1] || b.Max[2] < b.Min[2]
}

// Union returns the smallest box containing b and o.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: mgl64.Vec3{math.Min(b.Min[0], o.Min[0]), math.Min(b.Min[1], o.Min[1]), math.Min(b.Min[2], o.Min[2])},
		Max: mgl64.Vec3{math.Max(b.Max[0], o.Max[0]), math.Max(b.Max[1], o.Max[1]), math.Max(b.Max[2], o.Max[2])},
	}
}

func (b AABB) Intersects(o AABB) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}

func (b AABB) ApproxEqual(o AABB, eps float64) bool {
	return b.Min.ApproxEqualThreshold(o.Min, eps) && b.Max.ApproxEqualThreshold(o.Max, eps)
}

// Volume is an oriented box.
type Volume struct {
	Center mgl64.Vec3
	Half   mgl64.Vec3 // half extents along the box axes
	Rot    mgl64.Quat
}

// Box builds an axis-aligned volume from min and max corners.
func Box(min, max mgl64.Vec3) Volume {
	return Volume{
		Center: min.Add(max).Mul(0.5),
		Half:   max.Sub(min).Mul(0.5),
		Rot:    mgl64.QuatIdent(),
	}
}

// UnitBox spans (0,0,0)-(1,1,1).
func UnitBox() Volume {
	return Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1})
}

// Corners returns the eight vertices of v.
func (v Volume) Corners() [8]mgl64.Vec3 {
	var out [8]mgl64.Vec3
	i := 0
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				d := mgl64.Vec3{sx * v.Half[0], sy * v.Half[1], sz * v.Half[2]}
				out[i] = v.Center.Add(v.Rot.Rotate(d))
				i++
			}
		}
	}
	return out
}

// Bounds returns the axis-aligned box enclosing v.
func (v Volume) Bounds() AABB {
	c := v.Corners()
	b := AABB{Min: c[0], Max: c[0]}
	for _, p := range c[1:] {
		b = b.Union(AABB{Min: p, Max: p})
	}
	return b
}

func (v Volume) ApproxEqual(o Volume, eps float64) bool {
	return v.Center.ApproxEqualThreshold(o.Center, eps) &&
		v.Half.ApproxEqualThreshold(o.Half, eps) &&
		(v.Rot.ApproxEqualThreshold(o.Rot, eps) || v.Rot.ApproxEqualThreshold(o.Rot.Scale(-1), eps))
}

// FromShapes converts definition shapes to local volumes.
func FromShapes(shapes []defs.Shape) []Volume {
	out := make([]Volume, 0, len(shapes))
	for _, s := range shapes {
		out = append(out, Volume{
			Center: mgl64.Vec3(s.Position),
			Half:   mgl64.Vec3(s.Size).Mul(0.5),
			Rot:    mgl64.QuatIdent(),
		})
	}
	return out
}

func mergeBounds(vs []Volume) AABB {
	b := vs[0].Bounds()
	for _, v := range vs[1:] {
		b = b.Union(v.Bounds())
	}
	return b
}
