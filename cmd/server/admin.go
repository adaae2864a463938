package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	persistlog "dynacraft.ai/internal/persistence/log"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/world"
)

type spawnBody struct {
	Definition string     `json:"definition"`
	Position   [3]float64 `json:"position"`
	YawSteps   int        `json:"yaw_steps"`
}

// registerAdmin mounts the local-only admin endpoints.
func registerAdmin(mux *http.ServeMux, w *world.World) {
	mux.HandleFunc("/admin/v1/state", loopbackOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		st, err := w.Describe(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}))
	mux.HandleFunc("/admin/v1/spawn", loopbackOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		var body spawnBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Definition == "" {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "definition required"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		id, err := w.SpawnObject(ctx, world.SpawnRequest{Definition: body.Definition, Position: body.Position, YawSteps: body.YawSteps})
		if err != nil {
			writeJSON(rw, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "id": id.String()})
	}))
	mux.HandleFunc("/admin/v1/despawn", loopbackOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("id"))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad id"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := w.DespawnObject(ctx, id); err != nil {
			writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	}))
	mux.HandleFunc("/admin/v1/regions", loopbackOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		var c spatial.ChunkPos
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "chunk {x,z} required"})
			return
		}
		w.MarkRegionAvailable(c)
		writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true})
	}))
	mux.HandleFunc("/admin/v1/reload", loopbackOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res := w.Reload(ctx)
		if res.Err != nil {
			writeJSON(rw, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": res.Err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "changed": res.Changed, "failures": res.Failures})
	}))
}

func loopbackOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func metricsHandler(w *world.World, store *tagstore.Store, journal *persistlog.Journal) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		id := w.ID()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP dynacraft_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE dynacraft_world_tick gauge\n")
		fmt.Fprintf(rw, "dynacraft_world_tick{world=%q} %d\n", id, w.CurrentTick())

		if store != nil {
			fmt.Fprintf(rw, "# HELP dynacraft_store_dropped_total Object writes dropped on a full queue.\n")
			fmt.Fprintf(rw, "# TYPE dynacraft_store_dropped_total counter\n")
			fmt.Fprintf(rw, "dynacraft_store_dropped_total{world=%q} %d\n", id, store.Dropped())
			fmt.Fprintf(rw, "# HELP dynacraft_store_failed_total Object writes rejected by the database.\n")
			fmt.Fprintf(rw, "# TYPE dynacraft_store_failed_total counter\n")
			fmt.Fprintf(rw, "dynacraft_store_failed_total{world=%q} %d\n", id, store.Failed())
		}
		if journal != nil {
			fmt.Fprintf(rw, "# HELP dynacraft_journal_dropped_total Journal entries dropped.\n")
			fmt.Fprintf(rw, "# TYPE dynacraft_journal_dropped_total counter\n")
			fmt.Fprintf(rw, "dynacraft_journal_dropped_total{world=%q} %d\n", id, journal.Dropped())
		}
	}
}
