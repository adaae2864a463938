package defs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "dynacraft://definition.schema.json"

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "modules"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9_\\-]+$"},
    "kind": {"enum": ["vehicle", "block", "prop"]},
    "rotation": {"$ref": "#/definitions/vec3"},
    "translation": {"$ref": "#/definitions/vec3"},
    "modules": {
      "type": "array",
      "uniqueItems": true,
      "items": {"enum": ["engine", "helicopter_engine", "seats", "storage"]}
    },
    "shapes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["position", "size"],
        "properties": {
          "name": {"type": "string"},
          "position": {"$ref": "#/definitions/vec3"},
          "size": {
            "type": "array", "minItems": 3, "maxItems": 3,
            "items": {"type": "number", "minimum": 0}
          }
        },
        "additionalProperties": false
      }
    },
    "seats": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "integer", "minimum": 0, "maximum": 255},
          "name": {"type": "string"},
          "controlling": {"type": "boolean"},
          "door": {"type": "boolean"},
          "position": {"$ref": "#/definitions/vec3"}
        },
        "additionalProperties": false
      }
    },
    "storages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "size"],
        "properties": {
          "id": {"type": "integer", "minimum": 0, "maximum": 255},
          "size": {"type": "integer", "minimum": 1, "maximum": 256}
        },
        "additionalProperties": false
      }
    },
    "engine": {
      "type": "object",
      "required": ["max_revs", "max_speed", "power"],
      "properties": {
        "max_revs": {"type": "number", "exclusiveMinimum": 0},
        "max_speed": {"type": "number", "exclusiveMinimum": 0},
        "power": {"type": "number", "minimum": 0},
        "braking": {"type": "number", "minimum": 0},
        "gears": {"type": "array", "items": {"type": "number"}}
      },
      "additionalProperties": false
    },
    "helicopter": {
      "type": "object",
      "properties": {
        "startup_ticks": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false,
  "definitions": {
    "vec3": {
      "type": "array", "minItems": 3, "maxItems": 3,
      "items": {"type": "number"}
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString(schemaURL, schemaJSON)
})

// Parse validates raw YAML against the definition schema and decodes it.
func Parse(raw []byte) (*Definition, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("to json: %w", err)
	}
	var inst any
	if err := json.Unmarshal(js, &inst); err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, err
	}
	var d Definition
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := d.check(); err != nil {
		return nil, fmt.Errorf("definition %s: %w", d.Name, err)
	}
	d.Digest = sha256Hex(raw)
	return &d, nil
}

// Library holds the definitions loaded from one directory.
// Safe for concurrent use.
type Library struct {
	dir string

	mu     sync.RWMutex
	byName map[string]*Definition
}

// Open loads every *.yaml / *.yml file under dir.
func Open(dir string) (*Library, error) {
	l := &Library{dir: dir}
	defs, err := loadDir(dir)
	if err != nil {
		return nil, err
	}
	l.byName = defs
	return l, nil
}

// NewLibrary builds an in-memory library, mainly for tests.
func NewLibrary(defs ...*Definition) *Library {
	l := &Library{byName: map[string]*Definition{}}
	for _, d := range defs {
		l.byName[d.Name] = d
	}
	return l
}

func (l *Library) Find(name string) (*Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byName[name]
	return d, ok
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedKeys(l.byName)
}

// Reload re-reads the directory and swaps in the new set. It returns the names
// whose content changed, appeared or disappeared. On error nothing is swapped.
func (l *Library) Reload() ([]string, error) {
	if l.dir == "" {
		return nil, nil
	}
	next, err := loadDir(l.dir)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := map[string]bool{}
	for name, d := range next {
		if old, ok := l.byName[name]; !ok || old.Digest != d.Digest {
			changed[name] = true
		}
	}
	for name := range l.byName {
		if _, ok := next[name]; !ok {
			changed[name] = true
		}
	}
	l.byName = next
	return sortedKeys(changed), nil
}

func loadDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]*Definition{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		d, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := out[d.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate definition %q", name, d.Name)
		}
		out[d.Name] = d
	}
	return out, nil
}
