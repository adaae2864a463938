package modules

import (
	"github.com/go-gl/mathgl/mgl64"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
	"dynacraft.ai/internal/sim/seats"
	"dynacraft.ai/internal/sim/syncvar"
)

// Seats owns the occupancy ledger of an object and the state of its doors.
type Seats struct {
	host   Host
	ledger *seats.Ledger

	// Bit n is set while the door of seat n is open.
	doors *syncvar.Field[int32]
}

func NewSeats(h Host) (*Seats, error) {
	s := &Seats{
		host:  h,
		doors: syncvar.NewField[int32]("seats.doors", syncvar.SimulationToObservers, syncvar.Int32(), 0),
	}
	s.ledger = seats.NewLedger(seats.Config{
		Authoritative: h.Side() == module.SideSimulation,
		Definition:    h.Definition,
		Authority:     h.InputAuthority(),
		Scheduler:     h.Scheduler(),
		Resolver:      h.Resolver(),
		Publish:       h.PublishSeats,
		Log:           h.Logger().With("seats"),
	})
	return s, nil
}

func (s *Seats) Capability() module.Capability { return CapSeats }

// Seats initialize before every module that reacts to occupancy.
func (s *Seats) InitPriority() int { return 1000 }

func (s *Seats) Ledger() *seats.Ledger { return s.ledger }

func (s *Seats) Fields() []syncvar.Var { return []syncvar.Var{s.doors} }

func (s *Seats) WriteState(tag tagstore.Tag) { s.ledger.WriteState(tag) }

func (s *Seats) Close() { s.ledger.Close() }

func (s *Seats) ReadState(tag tagstore.Tag) error { return s.ledger.ReadState(tag) }

func (s *Seats) DefinitionReloaded(def *defs.Definition) error {
	s.ledger.Rebind(def)
	// Doors of removed seats close.
	var mask int32
	for _, seat := range def.Seats {
		if seat.Door && seat.ID < 31 {
			mask |= 1 << seat.ID
		}
	}
	if cur := s.doors.Get(); cur&^mask != 0 {
		s.doors.Set(cur & mask)
	}
	return nil
}

// DoorOpen reports whether the door of seat is open.
func (s *Seats) DoorOpen(seat seats.SeatID) bool {
	if seat >= 31 {
		return false
	}
	return s.doors.Get()&(1<<seat) != 0
}

// SetDoor opens or closes the door of seat. Seats without a door report false.
func (s *Seats) SetDoor(seat seats.SeatID, open bool) bool {
	d, ok := s.ledger.Seat(seat)
	if !ok || !d.Door || seat >= 31 {
		return false
	}
	v := s.doors.Get()
	if open {
		v |= 1 << seat
	} else {
		v &^= 1 << seat
	}
	s.doors.Set(v)
	return true
}

// SeatPosition returns the world position of seat, following the object's
// rotation.
func (s *Seats) SeatPosition(seat seats.SeatID) (mgl64.Vec3, bool) {
	d, ok := s.ledger.Seat(seat)
	if !ok {
		return mgl64.Vec3{}, false
	}
	local := mgl64.Vec3(d.Position)
	return s.host.Rotation().Rotate(local).Add(s.host.Position()), true
}
