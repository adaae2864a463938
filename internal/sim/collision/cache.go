package collision

import "sync"

// GeometrySource supplies the raw local volumes of an object.
type GeometrySource interface {
	Volumes() []Volume
}

// SourceFunc adapts a function to GeometrySource.
type SourceFunc func() []Volume

func (f SourceFunc) Volumes() []Volume { return f() }

// Cache memoizes the local volumes of one object and their merged bound.
// Safe for concurrent readers.
type Cache struct {
	src GeometrySource

	mu         sync.Mutex
	valid      bool
	local      []Volume
	merged     AABB
	recomputes int
}

func NewCache(src GeometrySource) *Cache {
	return &Cache{src: src}
}

func (c *Cache) ensureLocked() {
	if c.valid {
		return
	}
	var vs []Volume
	if c.src != nil {
		vs = append(vs, c.src.Volumes()...)
	}
	if len(vs) == 0 {
		vs = []Volume{UnitBox()}
	}
	c.local = vs
	c.merged = mergeBounds(vs)
	c.valid = true
	c.recomputes++
}

// LocalVolumes returns a copy of the cached local volumes. Never empty.
func (c *Cache) LocalVolumes() []Volume {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLocked()
	return append([]Volume(nil), c.local...)
}

func (c *Cache) MergedLocal() AABB {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLocked()
	return c.merged
}

// Invalidate drops the cached volumes; the next read recomputes them.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.local = nil
	c.merged = AABB{}
	c.mu.Unlock()
}

func (c *Cache) WorldVolumes(t Transform) []Volume {
	local := c.LocalVolumes()
	out := make([]Volume, len(local))
	for i, v := range local {
		out[i] = t.ToWorld(v)
	}
	return out
}

// WorldBounds is the axis-aligned box enclosing every world volume.
func (c *Cache) WorldBounds(t Transform) AABB {
	return mergeBounds(c.WorldVolumes(t))
}

// Recomputes counts how often the volumes were rebuilt from the source.
func (c *Cache) Recomputes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recomputes
}
