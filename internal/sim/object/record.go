package object

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"dynacraft.ai/internal/persistence/tagstore"
)

const placementKey = "transform"

// Record captures the object for the tag store.
func (o *Object) Record(now time.Time) tagstore.Record {
	state := tagstore.NewTag()
	o.set.WriteState(state)

	p := tagstore.NewTag()
	p.SetInt("yaw", int64(o.tr.YawSteps))
	for i, k := range []string{"rx", "ry", "rz"} {
		p.SetFloat(k, o.tr.Relative[i])
	}
	for i, k := range []string{"tx", "ty", "tz"} {
		p.SetFloat(k, o.tr.Translation[i])
	}
	state.SetTag(placementKey, p)

	return tagstore.Record{
		ID:         o.id.String(),
		Definition: o.cfg.Definition,
		Transform:  o.TransformArray(),
		State:      state,
		UpdatedAt:  now,
	}
}

// TransformArray packs position, placement rotation and scale.
func (o *Object) TransformArray() [10]float64 {
	q := o.tr.rotation()
	pos, s := o.tr.Position, o.tr.Scale
	return [10]float64{pos[0], pos[1], pos[2], q.W, q.V[0], q.V[1], q.V[2], s[0], s[1], s[2]}
}

// Restore rebuilds an object from a stored record. Module state that fails
// to load is reported but the object is still returned.
func Restore(cfg Config, rec tagstore.Record) (*Object, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("record id %q: %w", rec.ID, err)
	}
	cfg.ID = id
	cfg.Definition = rec.Definition
	o, err := New(cfg)
	if err != nil {
		return nil, err
	}
	t := rec.Transform
	o.tr.Position = mgl64.Vec3{t[0], t[1], t[2]}
	o.tr.Scale = mgl64.Vec3{t[7], t[8], t[9]}
	if p, ok := rec.State.Tag(placementKey); ok {
		yaw, _ := p.Int("yaw")
		o.tr.YawSteps = int(yaw)
		for i, k := range []string{"rx", "ry", "rz"} {
			o.tr.Relative[i], _ = p.Float(k)
		}
		for i, k := range []string{"tx", "ty", "tz"} {
			o.tr.Translation[i], _ = p.Float(k)
		}
	}
	o.markCollisionsDirty()
	if rec.State == nil {
		return o, nil
	}
	if err := o.set.ReadState(rec.State); err != nil {
		o.log.Errorf("restore state: %v", err)
		return o, err
	}
	return o, nil
}
