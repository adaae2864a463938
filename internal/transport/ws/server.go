package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/world"
)

const (
	minQueue     = 16
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

type Options struct {
	// ObserverQueue caps the per-observer frame queue; HELLO may ask for less.
	ObserverQueue int
	// InteractRate is the sustained INTERACT rate per observer, per second.
	// Zero disables limiting.
	InteractRate  float64
	InteractBurst int
}

type Server struct {
	world *world.World
	opts  Options
	log   *diag.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, opts Options, logger *diag.Logger) *Server {
	if opts.ObserverQueue < minQueue {
		opts.ObserverQueue = 256
	}
	if opts.InteractBurst <= 0 {
		opts.InteractBurst = 1
	}
	return &Server{
		world: w,
		opts:  opts,
		log:   logger.With("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) limiter() *rate.Limiter {
	if s.opts.InteractRate <= 0 {
		return rate.NewLimiter(rate.Inf, s.opts.InteractBurst)
	}
	return rate.NewLimiter(rate.Limit(s.opts.InteractRate), s.opts.InteractBurst)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		observerID, out := s.handshake(ctx, conn)
		if observerID == "" {
			return
		}
		results := make(chan []byte, 16)

		// Writer goroutine. Binary frames come from the world, JSON results
		// from the reader loop below.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						// The world dropped us.
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "queue overflow"),
							time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						return
					}
				case b := <-results:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		lim := s.limiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			switch kind {
			case websocket.BinaryMessage:
				f, err := protocol.Decode(msg)
				if err != nil {
					s.log.Debugf("observer %s: %v", observerID, err)
					continue
				}
				select {
				case s.world.Inbound() <- world.InboundFrame{ObserverID: observerID, Frame: f}:
				case <-ctx.Done():
				}
			case websocket.TextMessage:
				res, ok := s.handleText(ctx, observerID, lim, msg)
				if !ok {
					continue
				}
				b, err := json.Marshal(res)
				if err != nil {
					continue
				}
				select {
				case results <- b:
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()

		// Cleanup.
		select {
		case s.world.ObserverLeave() <- observerID:
		case <-time.After(time.Second):
			s.log.Warnf("observer %s: leave not delivered", observerID)
		}
	}
}

// handleText answers one JSON message. ok is false when nothing should be
// sent back.
func (s *Server) handleText(ctx context.Context, observerID string, lim *rate.Limiter, msg []byte) (protocol.ResultMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return badRequest("", protocol.ErrProtoBadRequest, "malformed json"), true
	}
	if base.Type != protocol.TypeInteract {
		return badRequest("", protocol.ErrProtoBadRequest, "unexpected "+base.Type), true
	}
	var req protocol.InteractMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return badRequest("", protocol.ErrProtoBadRequest, "malformed INTERACT"), true
	}
	if !lim.Allow() {
		return badRequest(req.ReqID, protocol.ErrRateLimit, "too many interactions"), true
	}
	resp := make(chan protocol.ResultMsg, 1)
	select {
	case s.world.Interact() <- world.InteractRequest{ObserverID: observerID, Msg: req, Resp: resp}:
	case <-ctx.Done():
		return protocol.ResultMsg{}, false
	}
	select {
	case res := <-resp:
		return res, true
	case <-ctx.Done():
		return protocol.ResultMsg{}, false
	}
}

func badRequest(reqID, code, msg string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         msg,
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (observerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closePolicy(conn, "malformed HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", nil
	}
	occupant := uuid.Nil
	if o := strings.TrimSpace(hello.Occupant); o != "" {
		occupant, err = uuid.Parse(o)
		if err != nil {
			closePolicy(conn, "bad occupant")
			return "", nil
		}
	}
	if hello.ObserverName == "" {
		hello.ObserverName = "observer"
	}

	maxQ := s.opts.ObserverQueue
	if hello.MaxQueue > 0 && hello.MaxQueue < maxQ {
		maxQ = hello.MaxQueue
	}
	if maxQ < minQueue {
		maxQ = minQueue
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan world.ObserverJoinResponse, 1)
	select {
	case s.world.ObserverJoin() <- world.ObserverJoinRequest{Name: hello.ObserverName, Occupant: occupant, Out: out, Resp: respCh}:
	case <-ctx.Done():
		return "", nil
	}
	var resp world.ObserverJoinResponse
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return "", nil
	}

	// WELCOME goes out before the writer starts, so it precedes every frame.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.ObserverLeave() <- resp.ObserverID
		return "", nil
	}
	return resp.ObserverID, out
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
