package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/world"
)

const carYAML = `
name: car
kind: vehicle
modules: [seats, engine]
shapes:
  - {position: [0, 0.5, 0], size: [2, 1, 4]}
seats:
  - {id: 0, name: driver, controlling: true, door: true}
  - {id: 1, name: passenger}
engine: {max_revs: 6000, max_speed: 100, power: 200}
`

type harness struct {
	w      *world.World
	url    string
	cancel context.CancelFunc
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	d, err := defs.Parse([]byte(carYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "ws", TickRateHz: 50, Compression: protocol.CompressLZ4},
		world.Deps{Library: defs.NewLibrary(d), Log: diag.Discard()})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, opts, diag.Discard()).Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &harness{w: w, url: "ws" + strings.TrimPrefix(srv.URL, "http"), cancel: cancel}
}

type session struct {
	c       *Client
	frames  chan protocol.Frame
	results chan protocol.ResultMsg
}

func (h *harness) dial(t *testing.T, occupant uuid.UUID) *session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hello := protocol.HelloMsg{ObserverName: "t"}
	if occupant != uuid.Nil {
		hello.Occupant = occupant.String()
	}
	c, err := Dial(ctx, h.url, hello)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := &session{c: c, frames: make(chan protocol.Frame, 256), results: make(chan protocol.ResultMsg, 16)}
	readCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(func() {
		stop()
		_ = c.Close()
	})
	go func() {
		_ = c.ReadLoop(readCtx, func(b []byte) {
			if f, err := protocol.Decode(b); err == nil {
				s.frames <- f
			}
		}, func(r protocol.ResultMsg) { s.results <- r })
	}()
	return s
}

func (s *session) awaitFrame(t *testing.T, kind protocol.FrameKind, match func(protocol.Frame) bool) protocol.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-s.frames:
			if f.Kind == kind && (match == nil || match(f)) {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame", kind)
		}
	}
}

func (s *session) awaitResult(t *testing.T) protocol.ResultMsg {
	t.Helper()
	select {
	case r := <-s.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("no RESULT")
	}
	return protocol.ResultMsg{}
}

func TestObserverSessionMountsAndIsRateLimited(t *testing.T) {
	h := newHarness(t, Options{InteractRate: 0.01, InteractBurst: 1})
	player := uuid.New()
	s := h.dial(t, player)
	if s.c.Welcome.Occupant != player.String() || s.c.Welcome.WorldParams.Compression != "lz4" {
		t.Fatalf("welcome=%+v", s.c.Welcome)
	}
	if s.c.Welcome.ObserverID == "" || s.c.Welcome.WorldParams.TickRateHz != 50 {
		t.Fatalf("welcome=%+v", s.c.Welcome)
	}

	id, err := h.w.SpawnObject(context.Background(), world.SpawnRequest{Definition: "car", Position: [3]float64{8, 64, 8}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	sp := s.awaitFrame(t, protocol.FrameSpawn, nil)
	if sp.Object != id.String() {
		t.Fatalf("spawn object=%s want %s", sp.Object, id)
	}

	seat := uint8(0)
	if err := s.c.Interact(protocol.InteractMsg{ReqID: "r1", Object: id.String(), Action: protocol.ActMount, Seat: &seat}); err != nil {
		t.Fatalf("interact: %v", err)
	}
	res := s.awaitResult(t)
	if !res.OK || res.ReqID != "r1" {
		t.Fatalf("mount result=%+v", res)
	}
	s.awaitFrame(t, protocol.FrameSeats, func(f protocol.Frame) bool {
		snap, err := f.Seats()
		return err == nil && len(snap.Pairs) == 1 && snap.Pairs[0].Occupant == player.String()
	})

	if err := s.c.Interact(protocol.InteractMsg{ReqID: "r2", Object: id.String(), Action: protocol.ActDismount}); err != nil {
		t.Fatalf("interact: %v", err)
	}
	res = s.awaitResult(t)
	if res.OK || res.Code != protocol.ErrRateLimit || res.ReqID != "r2" {
		t.Fatalf("second result=%+v", res)
	}
}

func TestSpectatorCannotInteract(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.dial(t, uuid.Nil)
	id, err := h.w.SpawnObject(context.Background(), world.SpawnRequest{Definition: "car"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	seat := uint8(1)
	if err := s.c.Interact(protocol.InteractMsg{ReqID: "x", Object: id.String(), Action: protocol.ActMount, Seat: &seat}); err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res := s.awaitResult(t); res.Code != protocol.ErrNoPermission {
		t.Fatalf("result=%+v", res)
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Dial(ctx, h.url, protocol.HelloMsg{ProtocolVersion: "0.9"}); err == nil {
		t.Fatalf("expected handshake failure")
	}
	if _, err := Dial(ctx, h.url, protocol.HelloMsg{Occupant: "not-a-uuid"}); err == nil {
		t.Fatalf("expected bad occupant failure")
	}
}
