package object

import (
	"github.com/go-gl/mathgl/mgl64"

	"dynacraft.ai/internal/sim/collision"
)

// Placement is where an object sits in the world. The definition's own
// rotation and translation are applied on top of it.
type Placement struct {
	Position mgl64.Vec3
	// YawSteps counts collision.RotationStep increments about Y.
	YawSteps int
	// Relative is an extra rotation applied after the yaw, in degrees.
	Relative [3]float64
	// Translation is an extra offset added after rotation.
	Translation mgl64.Vec3
	Scale       mgl64.Vec3
	Padding     mgl64.Vec3
}

func newPlacement(padding mgl64.Vec3) Placement {
	return Placement{Scale: mgl64.Vec3{1, 1, 1}, Padding: padding}
}

func (p Placement) rotation() mgl64.Quat {
	return collision.YawSteps(p.YawSteps).Mul(collision.Euler(p.Relative)).Normalize()
}

func (o *Object) Placement() Placement { return o.tr }

func (o *Object) Position() mgl64.Vec3 { return o.tr.Position }

// Rotation is the full object rotation, definition rotation included.
func (o *Object) Rotation() mgl64.Quat {
	r := o.tr.rotation()
	if d, err := o.Definition(); err == nil {
		r = r.Mul(collision.Euler(d.Rotation)).Normalize()
	}
	return r
}

func (o *Object) SetPosition(p mgl64.Vec3) {
	if p == o.tr.Position {
		return
	}
	o.tr.Position = p
	o.markCollisionsDirty()
}

// SetYawSteps sets the yaw, normalized into 0..15 steps.
func (o *Object) SetYawSteps(n int) {
	steps := int(360 / collision.RotationStep)
	n = ((n % steps) + steps) % steps
	if n == o.tr.YawSteps {
		return
	}
	o.tr.YawSteps = n
	o.markCollisionsDirty()
}

func (o *Object) SetRelativeRotation(deg [3]float64) {
	if deg == o.tr.Relative {
		return
	}
	o.tr.Relative = deg
	o.markCollisionsDirty()
}

func (o *Object) SetRelativeTranslation(t mgl64.Vec3) {
	if t == o.tr.Translation {
		return
	}
	o.tr.Translation = t
	o.markCollisionsDirty()
}

// SetScale changes the object scale; zero components count as 1.
func (o *Object) SetScale(s mgl64.Vec3) {
	if s == o.tr.Scale {
		return
	}
	o.tr.Scale = s
	o.markCollisionsDirty()
}

func (o *Object) transform() collision.Transform {
	t := collision.Identity()
	t.Position = o.tr.Position
	t.Offset = o.tr.Translation
	t.Rotation = o.Rotation()
	t.Scale = o.tr.Scale
	t.Padding = o.tr.Padding
	if d, err := o.Definition(); err == nil {
		t.Offset = t.Offset.Add(mgl64.Vec3(d.Translation))
	}
	return t
}
