package collision

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultPadding is the margin added around every world volume.
var DefaultPadding = mgl64.Vec3{0.1, 0, 0.1}

// DefaultPivot is the rotation center in object space.
var DefaultPivot = mgl64.Vec3{0.5, 0, 0.5}

// Transform places object-local volumes in the world. Application order is
// scale, pad, rotate about Pivot, translate by Position plus Offset.
type Transform struct {
	Position mgl64.Vec3
	Offset   mgl64.Vec3
	Rotation mgl64.Quat
	Pivot    mgl64.Vec3
	Scale    mgl64.Vec3
	Padding  mgl64.Vec3
}

// Identity keeps volumes where they are apart from the default padding.
func Identity() Transform {
	return Transform{
		Rotation: mgl64.QuatIdent(),
		Pivot:    DefaultPivot,
		Scale:    mgl64.Vec3{1, 1, 1},
		Padding:  DefaultPadding,
	}
}

// RotationStep is the yaw increment of placed objects.
const RotationStep = 22.5

// YawSteps returns the rotation for n steps of RotationStep degrees about Y.
func YawSteps(n int) mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(float64(n)*RotationStep), mgl64.Vec3{0, 1, 0})
}

// Euler builds a rotation from x, y, z angles in degrees.
func Euler(deg [3]float64) mgl64.Quat {
	return mgl64.AnglesToQuat(mgl64.DegToRad(deg[0]), mgl64.DegToRad(deg[1]), mgl64.DegToRad(deg[2]), mgl64.XYZ)
}

// effectiveScale treats zero components as 1.
func (t Transform) effectiveScale() mgl64.Vec3 {
	s := t.Scale
	for i := range s {
		if s[i] == 0 {
			s[i] = 1
		}
	}
	return s
}

func (t Transform) rotation() mgl64.Quat {
	if t.Rotation == (mgl64.Quat{}) {
		return mgl64.QuatIdent()
	}
	return t.Rotation.Normalize()
}

// ToWorld maps a local volume to world space.
func (t Transform) ToWorld(v Volume) Volume {
	s := t.effectiveScale()
	r := t.rotation()
	c := mul(v.Center, s).Sub(t.Pivot)
	return Volume{
		Center: r.Rotate(c).Add(t.Pivot).Add(t.Position).Add(t.Offset),
		Half:   mul(v.Half, abs(s)).Add(t.Padding),
		Rot:    r.Mul(rot(v)),
	}
}

// ToLocal is the inverse of ToWorld.
func (t Transform) ToLocal(v Volume) Volume {
	s := t.effectiveScale()
	inv := t.rotation().Inverse()
	c := v.Center.Sub(t.Position).Sub(t.Offset).Sub(t.Pivot)
	return Volume{
		Center: div(inv.Rotate(c).Add(t.Pivot), s),
		Half:   div(v.Half.Sub(t.Padding), abs(s)),
		Rot:    inv.Mul(rot(v)),
	}
}

func rot(v Volume) mgl64.Quat {
	if v.Rot == (mgl64.Quat{}) {
		return mgl64.QuatIdent()
	}
	return v.Rot
}

func mul(a, b mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }
func div(a, b mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]} }
func abs(a mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Abs(a[0]), math.Abs(a[1]), math.Abs(a[2])}
}
