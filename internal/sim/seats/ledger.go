package seats

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
)

type SeatID uint8

type OccupantID = uuid.UUID

type Result uint8

const (
	Assigned Result = iota + 1
	SeatFull
	OccupantAlreadySeated
	UnknownSeat
	NotAuthoritative
)

func (r Result) String() string {
	switch r {
	case Assigned:
		return "assigned"
	case SeatFull:
		return "seat_full"
	case OccupantAlreadySeated:
		return "occupant_already_seated"
	case UnknownSeat:
		return "unknown_seat"
	case NotAuthoritative:
		return "not_authoritative"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

var ErrDefinitionUnresolved = errors.New("seats: object definition unresolved")

type EventKind uint8

const (
	Mount EventKind = iota + 1
	Dismount
)

func (k EventKind) String() string {
	if k == Mount {
		return "mount"
	}
	return "dismount"
}

type Event struct {
	Kind        EventKind
	Seat        SeatID
	Occupant    OccupantID
	Controlling bool
}

// Listener receives mount and dismount events synchronously, in
// registration order.
type Listener func(Event)

// AuthorityController moves input authority between occupants. An error
// means the transfer cannot happen yet and is retried on the next step.
type AuthorityController interface {
	GrantInput(occupant OccupantID) error
	RevokeInput(occupant OccupantID) error
}

type Scheduler interface {
	Schedule(task func())
}

// Resolver answers whether an occupant id names an entity known right now.
type Resolver interface {
	Known(occupant OccupantID) bool
}

type Pair struct {
	Seat     SeatID `msgpack:"s"`
	Occupant string `msgpack:"o"`
}

// Snapshot is the full ledger as replicated to observers, ordered by seat.
type Snapshot struct {
	Pairs []Pair `msgpack:"p"`
}

type Config struct {
	// Authoritative is true on the simulation owner.
	Authoritative bool
	// Definition resolves the object definition. It may fail until the
	// content pack is loaded.
	Definition func() (*defs.Definition, error)
	Authority  AuthorityController
	Scheduler  Scheduler
	Resolver   Resolver
	// Publish queues a snapshot for every observer of the object.
	Publish   func(Snapshot)
	Listeners []Listener
	Log       *diag.Logger

	// WarnAfter is the number of deferred authority attempts after which
	// each further retry is logged as an error. Zero means 40.
	WarnAfter int
}

// Ledger tracks which occupant sits in which seat of one object.
// Owned by the object's loop goroutine.
type Ledger struct {
	cfg Config
	log *diag.Logger

	def         *defs.Definition
	seats       map[SeatID]defs.Seat
	controlling SeatID
	hasControl  bool

	pairs *Bijection[SeatID, OccupantID]

	lastRidden    SeatID
	hasLastRidden bool

	closed bool
}

func NewLedger(cfg Config) *Ledger {
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = 40
	}
	return &Ledger{
		cfg:   cfg,
		log:   cfg.Log,
		pairs: NewBijection[SeatID, OccupantID](),
	}
}

// AddListener appends l to the listener list.
func (l *Ledger) AddListener(fn Listener) {
	l.cfg.Listeners = append(l.cfg.Listeners, fn)
}

func (l *Ledger) resolve() error {
	if l.def != nil {
		return nil
	}
	if l.cfg.Definition == nil {
		return ErrDefinitionUnresolved
	}
	def, err := l.cfg.Definition()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDefinitionUnresolved, err)
	}
	if def == nil {
		return ErrDefinitionUnresolved
	}
	l.bind(def)
	return nil
}

func (l *Ledger) bind(def *defs.Definition) {
	l.def = def
	l.seats = make(map[SeatID]defs.Seat, len(def.Seats))
	l.hasControl = false
	for _, s := range def.Seats {
		l.seats[SeatID(s.ID)] = s
		if s.Controlling {
			l.controlling = SeatID(s.ID)
			l.hasControl = true
		}
	}
}

// Rebind switches to a reloaded definition. Occupants of seats that no
// longer exist are dismounted. When the controlling seat moved, input
// authority follows it: the old seat's occupant loses it and the new
// seat's occupant gains it.
func (l *Ledger) Rebind(def *defs.Definition) {
	wasControl, oldControl := l.hasControl, l.controlling
	l.bind(def)
	var gone []SeatID
	l.pairs.Range(func(s SeatID, _ OccupantID) bool {
		if _, ok := l.seats[s]; !ok {
			gone = append(gone, s)
		}
		return true
	})
	sortSeats(gone)
	for _, s := range gone {
		occ, _ := l.pairs.Value(s)
		l.remove(s, occ, wasControl && oldControl == s)
	}
	if !l.cfg.Authoritative || (wasControl == l.hasControl && oldControl == l.controlling) {
		return
	}
	if wasControl {
		if occ, ok := l.pairs.Value(oldControl); ok {
			l.revoke(occ, 0)
		}
	}
	if occ, ok := l.Controller(); ok {
		l.grant(occ, 0)
	}
}

// Close stops pending authority retries. The ledger is unusable afterwards.
func (l *Ledger) Close() { l.closed = true }

func (l *Ledger) Seat(id SeatID) (defs.Seat, bool) {
	if l.resolve() != nil {
		return defs.Seat{}, false
	}
	s, ok := l.seats[id]
	return s, ok
}

// Assign seats occupant in seat. Only the simulation owner may assign.
func (l *Ledger) Assign(seat SeatID, occupant OccupantID) Result {
	if !l.cfg.Authoritative {
		return NotAuthoritative
	}
	if err := l.resolve(); err != nil {
		l.log.Warnf("assign %s to seat %d: %v", occupant, seat, err)
		return UnknownSeat
	}
	if _, ok := l.seats[seat]; !ok {
		return UnknownSeat
	}
	if _, ok := l.pairs.Value(seat); ok {
		return SeatFull
	}
	if _, ok := l.pairs.Key(occupant); ok {
		return OccupantAlreadySeated
	}
	l.insert(seat, occupant)
	l.publish()
	return Assigned
}

// Unassign removes occupant from its seat. It reports false when the
// occupant was not seated or this side is not authoritative.
func (l *Ledger) Unassign(occupant OccupantID) bool {
	if !l.cfg.Authoritative {
		return false
	}
	seat, ok := l.pairs.Key(occupant)
	if !ok {
		return false
	}
	l.remove(seat, occupant, l.isControlling(seat))
	return true
}

// insert pairs seat with occupant, hands over input authority for the
// controlling seat and emits the mount event.
func (l *Ledger) insert(seat SeatID, occupant OccupantID) {
	l.pairs.Put(seat, occupant)
	controlling := l.isControlling(seat)
	if controlling {
		l.grant(occupant, 0)
	}
	l.emit(Event{Kind: Mount, Seat: seat, Occupant: occupant, Controlling: controlling})
}

// remove is the single dismount path. Authority is revoked before the
// snapshot is published so no observer sees a departed controller.
func (l *Ledger) remove(seat SeatID, occupant OccupantID, controlling bool) {
	l.pairs.RemoveKey(seat)
	l.lastRidden, l.hasLastRidden = seat, true
	if controlling {
		l.revoke(occupant, 0)
	}
	l.publish()
	l.emit(Event{Kind: Dismount, Seat: seat, Occupant: occupant, Controlling: controlling})
}

func (l *Ledger) grant(occupant OccupantID, attempt int) {
	if l.cfg.Authority == nil {
		return
	}
	err := l.cfg.Authority.GrantInput(occupant)
	if err == nil {
		return
	}
	l.retryLater("grant", occupant, attempt, err, func() {
		// Still seated at the controls?
		if seat, ok := l.pairs.Key(occupant); ok && l.isControlling(seat) {
			l.grant(occupant, attempt+1)
		}
	})
}

func (l *Ledger) revoke(occupant OccupantID, attempt int) {
	if l.cfg.Authority == nil {
		return
	}
	err := l.cfg.Authority.RevokeInput(occupant)
	if err == nil {
		return
	}
	l.retryLater("revoke", occupant, attempt, err, func() {
		if seat, ok := l.pairs.Key(occupant); ok && l.isControlling(seat) {
			return
		}
		l.revoke(occupant, attempt+1)
	})
}

// retryLater defers op to the next simulation step. Retries continue until
// op succeeds, the occupant leaves the relevant seat or the ledger closes.
func (l *Ledger) retryLater(op string, occupant OccupantID, attempt int, cause error, retry func()) {
	if l.cfg.Scheduler == nil {
		l.log.Errorf("%s input for %s failed with no scheduler: %v", op, occupant, cause)
		return
	}
	if attempt+1 >= l.cfg.WarnAfter {
		l.log.Errorf("%s input for %s still deferred after %d attempts: %v", op, occupant, attempt+1, cause)
	} else {
		l.log.Debugf("%s input for %s deferred: %v", op, occupant, cause)
	}
	l.cfg.Scheduler.Schedule(func() {
		if !l.closed {
			retry()
		}
	})
}

func (l *Ledger) isControlling(seat SeatID) bool {
	return l.hasControl && l.controlling == seat
}

func (l *Ledger) emit(ev Event) {
	for _, fn := range l.cfg.Listeners {
		fn(ev)
	}
}

func (l *Ledger) publish() {
	if !l.cfg.Authoritative || l.cfg.Publish == nil {
		return
	}
	l.cfg.Publish(l.Snapshot())
}

// Reconcile brings an observer's ledger to snap. Pairs that disappeared are
// dismounted first, then new pairs are mounted. Unchanged pairs emit
// nothing, so applying the same snapshot twice is a no-op.
func (l *Ledger) Reconcile(snap Snapshot) error {
	if err := l.resolve(); err != nil {
		l.log.Fatalf("reconcile seats: %v", err)
		l.dropAll()
		return err
	}

	target := map[SeatID]OccupantID{}
	taken := map[OccupantID]bool{}
	for _, p := range snap.Pairs {
		if _, ok := l.seats[p.Seat]; !ok {
			l.log.Warnf("reconcile: unknown seat %d", p.Seat)
			continue
		}
		occ, err := uuid.Parse(p.Occupant)
		if err != nil {
			l.log.Warnf("reconcile: bad occupant id %q: %v", p.Occupant, err)
			continue
		}
		if l.cfg.Resolver != nil && !l.cfg.Resolver.Known(occ) {
			l.log.Warnf("reconcile: unknown occupant %s in seat %d", occ, p.Seat)
			continue
		}
		if taken[occ] {
			l.log.Warnf("reconcile: occupant %s listed in two seats", occ)
			continue
		}
		taken[occ] = true
		target[p.Seat] = occ
	}

	var leaving []SeatID
	l.pairs.Range(func(s SeatID, occ OccupantID) bool {
		if want, ok := target[s]; !ok || want != occ {
			leaving = append(leaving, s)
		}
		return true
	})
	sortSeats(leaving)
	for _, s := range leaving {
		occ, _ := l.pairs.Value(s)
		l.remove(s, occ, l.isControlling(s))
	}

	var arriving []SeatID
	for s, occ := range target {
		if cur, ok := l.pairs.Value(s); ok && cur == occ {
			continue
		}
		arriving = append(arriving, s)
	}
	sortSeats(arriving)
	for _, s := range arriving {
		l.insert(s, target[s])
	}
	return nil
}

func (l *Ledger) dropAll() {
	var all []SeatID
	l.pairs.Range(func(s SeatID, _ OccupantID) bool {
		all = append(all, s)
		return true
	})
	sortSeats(all)
	for _, s := range all {
		occ, _ := l.pairs.Value(s)
		l.remove(s, occ, l.isControlling(s))
	}
}

// Controller returns the occupant of the controlling seat.
func (l *Ledger) Controller() (OccupantID, bool) {
	if !l.hasControl {
		return uuid.Nil, false
	}
	return l.pairs.Value(l.controlling)
}

func (l *Ledger) SeatOf(occupant OccupantID) (SeatID, bool) { return l.pairs.Key(occupant) }

func (l *Ledger) OccupantOf(seat SeatID) (OccupantID, bool) { return l.pairs.Value(seat) }

func (l *Ledger) Len() int { return l.pairs.Len() }

func (l *Ledger) LastRiddenSeat() (SeatID, bool) { return l.lastRidden, l.hasLastRidden }

// Pairs returns the current pairs ordered by seat.
func (l *Ledger) Pairs() []Pair {
	out := make([]Pair, 0, l.pairs.Len())
	l.pairs.Range(func(s SeatID, occ OccupantID) bool {
		out = append(out, Pair{Seat: s, Occupant: occ.String()})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

func (l *Ledger) Snapshot() Snapshot { return Snapshot{Pairs: l.Pairs()} }

func seatKey(s SeatID) string { return fmt.Sprintf("Seat%d", s) }

// WriteState stores Seat<id> = occupant id for every occupied seat.
func (l *Ledger) WriteState(tag tagstore.Tag) {
	l.pairs.Range(func(s SeatID, occ OccupantID) bool {
		tag.SetString(seatKey(s), occ.String())
		return true
	})
}

// ReadState re-seats stored occupants the Resolver currently knows.
func (l *Ledger) ReadState(tag tagstore.Tag) error {
	if err := l.resolve(); err != nil {
		return err
	}
	ids := make([]SeatID, 0, len(l.seats))
	for s := range l.seats {
		ids = append(ids, s)
	}
	sortSeats(ids)
	for _, s := range ids {
		raw, ok := tag.String(seatKey(s))
		if !ok {
			continue
		}
		occ, err := uuid.Parse(raw)
		if err != nil {
			l.log.Warnf("load seat %d: %v", s, err)
			continue
		}
		if l.cfg.Resolver != nil && !l.cfg.Resolver.Known(occ) {
			l.log.Infof("load seat %d: occupant %s not present", s, occ)
			continue
		}
		if r := l.Assign(s, occ); r != Assigned {
			l.log.Warnf("load seat %d: %s", s, r)
		}
	}
	return nil
}

func sortSeats(s []SeatID) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
