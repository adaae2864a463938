package defs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const carYAML = `
name: car
kind: vehicle
modules: [seats, engine, storage]
shapes:
  - {name: body, position: [0, 0.5, 0], size: [2, 1, 4]}
seats:
  - {id: 0, name: driver, controlling: true, door: true, position: [-0.5, 0.6, 0.2]}
  - {id: 1, name: passenger, door: true, position: [0.5, 0.6, 0.2]}
storages:
  - {id: 0, size: 27}
engine: {max_revs: 6000, max_speed: 120, power: 900, braking: 20, gears: [-1, 0, 1, 2, 3]}
`

func TestParseValidDefinition(t *testing.T) {
	d, err := Parse([]byte(carYAML))
	require.NoError(t, err)
	assert.Equal(t, "car", d.Name)
	assert.Equal(t, []Declaration{{Type: "seats", Index: 0}, {Type: "engine", Index: 1}, {Type: "storage", Index: 2}}, d.Declarations())
	require.Len(t, d.Shapes, 1)
	assert.Equal(t, [3]float64{2, 1, 4}, d.Shapes[0].Size)
	seat, ok := d.Seat(0)
	require.True(t, ok)
	assert.True(t, seat.Controlling)
	assert.NotEmpty(t, d.Digest)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown module":  "name: x\nmodules: [rocket]\n",
		"missing modules": "name: x\n",
		"negative size":   "name: x\nmodules: []\nshapes: [{position: [0,0,0], size: [-1,1,1]}]\n",
		"extra key":       "name: x\nmodules: []\ncolour: red\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsSemanticViolations(t *testing.T) {
	cases := map[string]string{
		"two controlling seats": "name: x\nmodules: [seats]\nseats: [{id: 0, controlling: true}, {id: 1, controlling: true}]\n",
		"seats without seats":   "name: x\nmodules: [seats]\n",
		"duplicate seat id":     "name: x\nmodules: [seats]\nseats: [{id: 3}, {id: 3}]\n",
		"engine without params": "name: x\nmodules: [engine]\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLibraryReloadReportsChanges(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("car.yaml", carYAML)
	write("crate.yaml", "name: crate\nkind: prop\nmodules: []\n")
	write("README.txt", "ignored")

	lib, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "crate"}, lib.Names())

	changed, err := lib.Reload()
	require.NoError(t, err)
	assert.Empty(t, changed)

	write("crate.yaml", "name: crate\nkind: block\nmodules: []\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "car.yaml")))
	changed, err = lib.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "crate"}, changed)

	_, ok := lib.Find("car")
	assert.False(t, ok)
	crate, ok := lib.Find("crate")
	require.True(t, ok)
	assert.Equal(t, "block", crate.Kind)
}

func TestLibraryReloadKeepsOldSetOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crate.yaml"), []byte("name: crate\nmodules: []\n"), 0o644))
	lib, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\nmodules: [warp]\n"), 0o644))
	_, err = lib.Reload()
	require.Error(t, err)
	_, ok := lib.Find("crate")
	assert.True(t, ok)
}
