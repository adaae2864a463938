package world

import (
	"github.com/google/uuid"

	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/modules"
	"dynacraft.ai/internal/sim/seats"
)

func result(req protocol.InteractMsg, code, msg string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		OK:              code == "",
		Code:            code,
		Message:         msg,
	}
}

func seatResultCode(r seats.Result) string {
	switch r {
	case seats.Assigned:
		return ""
	case seats.SeatFull:
		return protocol.ErrSeatFull
	case seats.OccupantAlreadySeated:
		return protocol.ErrAlreadySeated
	case seats.UnknownSeat:
		return protocol.ErrUnknownSeat
	case seats.NotAuthoritative:
		return protocol.ErrNoPermission
	default:
		return protocol.ErrInternal
	}
}

func (w *World) handleInteract(req InteractRequest) protocol.ResultMsg {
	msg := req.Msg
	c, ok := w.observers[req.ObserverID]
	if !ok {
		return result(msg, protocol.ErrProtoBadRequest, "unknown observer")
	}
	if msg.ProtocolVersion != protocol.Version {
		return result(msg, protocol.ErrProtoVersion, "bad protocol_version")
	}
	o, ok := w.object(msg.Object)
	if !ok {
		return result(msg, protocol.ErrObjectNotFound, "no such object")
	}
	if c.occupant == uuid.Nil {
		return result(msg, protocol.ErrNoPermission, "spectators cannot interact")
	}
	ledger := o.Seats()
	if ledger == nil {
		return result(msg, protocol.ErrBadRequest, "object has no seats")
	}

	switch msg.Action {
	case protocol.ActMount:
		if msg.Seat == nil {
			return result(msg, protocol.ErrBadRequest, "missing seat")
		}
		r := ledger.Assign(seats.SeatID(*msg.Seat), c.occupant)
		return result(msg, seatResultCode(r), r.String())
	case protocol.ActDismount:
		if !ledger.Unassign(c.occupant) {
			return result(msg, protocol.ErrNotSeated, "not seated")
		}
		return result(msg, "", "")
	case protocol.ActDoor:
		if msg.Seat == nil {
			return result(msg, protocol.ErrBadRequest, "missing seat")
		}
		seat := seats.SeatID(*msg.Seat)
		if cur, ok := ledger.SeatOf(c.occupant); !ok || cur != seat {
			return result(msg, protocol.ErrNoPermission, "not in that seat")
		}
		st, ok := module.Get[*modules.Seats](o.Modules(), modules.CapSeats)
		if !ok || !st.SetDoor(seat, msg.Open) {
			return result(msg, protocol.ErrUnknownSeat, "seat has no door")
		}
		return result(msg, "", "")
	default:
		return result(msg, protocol.ErrBadRequest, "unknown action")
	}
}

// handleInbound applies controller input frames and relays them to the
// other observers. Only the current input holder may send fields.
func (w *World) handleInbound(in InboundFrame) {
	c, ok := w.observers[in.ObserverID]
	if !ok {
		return
	}
	f := in.Frame
	if f.Kind != protocol.FrameFields {
		w.log.Warnf("observer %s sent %s frame, ignored", c.id, f.Kind)
		return
	}
	o, ok := w.object(f.Object)
	if !ok {
		return
	}
	holder, ok := o.InputHolder()
	if !ok || holder != c.occupant {
		w.log.Warnf("observer %s sent fields for %s without input authority", c.id, f.Object)
		return
	}
	snap, err := f.Fields()
	if err != nil {
		w.log.Warnf("observer %s: %v", c.id, err)
		return
	}
	accepted, err := o.ApplyInput(snap)
	if err != nil {
		w.log.Warnf("observer %s: apply fields: %v", c.id, err)
	}
	if accepted.Empty() {
		return
	}
	relay, err := protocol.FieldsFrame(f.Object, w.tick.Load(), accepted)
	if err != nil {
		w.log.Errorf("relay fields of %s: %v", f.Object, err)
		return
	}
	w.broadcast(relay, c.id)
}
