package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacraft.ai/internal/diag"
	persistlog "dynacraft.ai/internal/persistence/log"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/world"
	"dynacraft.ai/internal/transport/ws"
)

const crateYAML = `
name: crate
kind: prop
modules: [storage]
shapes:
  - {position: [0, 0.5, 0], size: [1, 1, 1]}
storages:
  - {id: 0, size: 9}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeObjects(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestValidateReportsEveryFile(t *testing.T) {
	dir := writeObjects(t, map[string]string{
		"crate.yaml":  crateYAML,
		"broken.yaml": "name: broken\nmodules: [warp_drive]\n",
		"zcrate.yml":  crateYAML,
		"notes.txt":   "ignored",
	})

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL zcrate.yml")
	assert.Contains(t, out, "FAIL broken.yaml")
	assert.Contains(t, out, "ok   crate.yaml: crate [storage]")
	assert.NotContains(t, out, "notes.txt")
}

func TestValidateJSON(t *testing.T) {
	dir := writeObjects(t, map[string]string{"crate.yaml": crateYAML})
	out, err := execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var res ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "crate", res.Files[0].Definition)
	assert.Len(t, res.Files[0].Digest, 64)
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no definitions")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestStoreListAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	st, err := tagstore.Open(path)
	require.NoError(t, err)
	state := tagstore.NewTag()
	state.SetBool("engine_started", true)
	for _, r := range []tagstore.Record{
		{ID: "a-1", Definition: "crate", Transform: [10]float64{1, 64, 2, 1, 0, 0, 0, 1, 1, 1}, State: state},
		{ID: "b-2", Definition: "car", Transform: [10]float64{5, 64, 5, 1, 0, 0, 0, 1, 1, 1}, State: tagstore.NewTag()},
	} {
		require.NoError(t, st.Put(r))
	}
	require.NoError(t, st.Flush(context.Background()))
	require.NoError(t, st.Close())

	out, err := execute(t, "store", "ls", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "a-1  crate"))
	assert.Contains(t, lines[0], "(1.00, 64.00, 2.00)")

	out, err = execute(t, "--format", "json", "store", "ls", "--definition", "car", path)
	require.NoError(t, err)
	var sums []recordSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, "b-2", sums[0].ID)

	out, err = execute(t, "store", "show", path, "a-1")
	require.NoError(t, err)
	assert.Contains(t, out, "definition: crate")
	assert.Contains(t, out, `"engine_started": true`)

	_, err = execute(t, "store", "show", path, "zzz")
	require.ErrorIs(t, err, tagstore.ErrNotFound)
}

func TestWatchPrintsFrames(t *testing.T) {
	dir := writeObjects(t, map[string]string{"crate.yaml": crateYAML})
	lib, err := defs.Open(dir)
	require.NoError(t, err)
	w, err := world.New(world.WorldConfig{ID: "watch", TickRateHz: 50, Compression: protocol.CompressZstd},
		world.Deps{Library: lib, Log: diag.Discard()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	srv := httptest.NewServer(ws.NewServer(w, ws.Options{}, diag.Discard()).Handler())
	defer srv.Close()

	_, err = w.SpawnObject(ctx, world.SpawnRequest{Definition: "crate", Position: [3]float64{3, 64, 3}})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	out, err := execute(t, "watch", "--url", url, "--objects", dir, "--for", "500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "WELCOME observer=")
	assert.Contains(t, out, "compression=zstd")
	assert.Contains(t, out, "SPAWN object=")
	assert.Contains(t, out, "  definition crate")
}

func TestJournalFiltersEntries(t *testing.T) {
	dir := t.TempDir()
	j := persistlog.NewJournal(dir)
	j.WriteSeat(world.SeatEntry{Tick: 1, Object: "a", Definition: "car", Kind: "mount", Occupant: "p1", Controlling: true})
	j.WriteRegion(world.RegionEntry{Tick: 2, Chunk: spatial.ChunkPos{X: 1, Z: 1}, Flushed: 1})
	j.WriteSeat(world.SeatEntry{Tick: 5, Object: "b", Definition: "car", Kind: "mount", Seat: 1, Occupant: "p2"})
	require.NoError(t, j.Close())

	out, err := execute(t, "journal", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "mount    a (car) seat=0 occupant=p1 controlling")
	assert.Contains(t, out, "region   (1,1) flushed=1")
	assert.Contains(t, out, "2 seat entries, 1 region entries")

	out, err = execute(t, "journal", "--object", "b", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 seat entries, 0 region entries")

	out, err = execute(t, "--format", "json", "journal", "--to_tick", "2", dir)
	require.NoError(t, err)
	dec := json.NewDecoder(strings.NewReader(out))
	var n int
	for dec.More() {
		var e persistlog.Entry
		require.NoError(t, dec.Decode(&e))
		n++
	}
	assert.Equal(t, 2, n)

	_, err = execute(t, "journal", t.TempDir())
	require.Error(t, err)
}
