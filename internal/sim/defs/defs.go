package defs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Module type names accepted in a definition's modules list.
const (
	ModuleEngine           = "engine"
	ModuleHelicopterEngine = "helicopter_engine"
	ModuleSeats            = "seats"
	ModuleStorage          = "storage"
)

// Definition is one content-pack object type.
type Definition struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "vehicle", "block", "prop"

	// Base orientation in degrees (x, y, z) and offsets applied to every instance.
	Rotation    [3]float64 `yaml:"rotation"`
	Translation [3]float64 `yaml:"translation"`

	// Modules is the ordered capability declaration list.
	Modules []string `yaml:"modules"`

	Shapes     []Shape     `yaml:"shapes"`
	Seats      []Seat      `yaml:"seats"`
	Storages   []Storage   `yaml:"storages"`
	Engine     *Engine     `yaml:"engine"`
	Helicopter *Helicopter `yaml:"helicopter"`

	Digest string `yaml:"-"`
}

// Shape is a named collision sub-volume; Position is its center and Size its
// full extent, both in object-local space.
type Shape struct {
	Name     string     `yaml:"name"`
	Position [3]float64 `yaml:"position"`
	Size     [3]float64 `yaml:"size"`
}

type Seat struct {
	ID          uint8      `yaml:"id"`
	Name        string     `yaml:"name"`
	Controlling bool       `yaml:"controlling"`
	Door        bool       `yaml:"door"`
	Position    [3]float64 `yaml:"position"`
}

type Storage struct {
	ID   uint8 `yaml:"id"`
	Size int   `yaml:"size"`
}

type Engine struct {
	MaxRevs  float64   `yaml:"max_revs"`
	MaxSpeed float64   `yaml:"max_speed"` // km/h
	Power    float64   `yaml:"power"`
	Braking  float64   `yaml:"braking"`
	Gears    []float64 `yaml:"gears"`
}

type Helicopter struct {
	StartupTicks int `yaml:"startup_ticks"`
}

// Declaration is one capability declared by a definition, in file order.
type Declaration struct {
	Type  string
	Index int
}

func (d *Definition) Declarations() []Declaration {
	out := make([]Declaration, 0, len(d.Modules))
	for i, m := range d.Modules {
		out = append(out, Declaration{Type: m, Index: i})
	}
	return out
}

func (d *Definition) Seat(id uint8) (Seat, bool) {
	for _, s := range d.Seats {
		if s.ID == id {
			return s, true
		}
	}
	return Seat{}, false
}

func (d *Definition) HasModule(name string) bool {
	for _, m := range d.Modules {
		if m == name {
			return true
		}
	}
	return false
}

// check runs the semantic rules a JSON schema cannot express.
func (d *Definition) check() error {
	seen := map[string]bool{}
	for _, m := range d.Modules {
		if seen[m] {
			return fmt.Errorf("module %q declared twice", m)
		}
		seen[m] = true
	}
	if seen[ModuleSeats] && len(d.Seats) == 0 {
		return fmt.Errorf("seats module without seats")
	}
	if seen[ModuleStorage] && len(d.Storages) == 0 {
		return fmt.Errorf("storage module without storages")
	}
	if seen[ModuleEngine] && d.Engine == nil {
		return fmt.Errorf("engine module without engine section")
	}
	if seen[ModuleHelicopterEngine] && d.Helicopter == nil {
		return fmt.Errorf("helicopter_engine module without helicopter section")
	}
	if seen[ModuleEngine] && seen[ModuleHelicopterEngine] {
		return fmt.Errorf("engine and helicopter_engine are exclusive")
	}
	seatIDs := map[uint8]bool{}
	controlling := 0
	for _, s := range d.Seats {
		if seatIDs[s.ID] {
			return fmt.Errorf("seat id %d declared twice", s.ID)
		}
		seatIDs[s.ID] = true
		if s.Controlling {
			controlling++
		}
	}
	if controlling > 1 {
		return fmt.Errorf("%d controlling seats, at most one allowed", controlling)
	}
	storageIDs := map[uint8]bool{}
	for _, s := range d.Storages {
		if storageIDs[s.ID] {
			return fmt.Errorf("storage id %d declared twice", s.ID)
		}
		storageIDs[s.ID] = true
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
