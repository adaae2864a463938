package seats

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
)

var carDef = &defs.Definition{
	Name:    "car",
	Modules: []string{defs.ModuleSeats},
	Seats: []defs.Seat{
		{ID: 1, Name: "driver", Controlling: true},
		{ID: 2, Name: "front"},
		{ID: 3, Name: "back"},
	},
}

type queue struct{ tasks []func() }

func (q *queue) Schedule(task func()) { q.tasks = append(q.tasks, task) }

// run executes the tasks queued before the call, like one simulation step.
func (q *queue) run() {
	tasks := q.tasks
	q.tasks = nil
	for _, t := range tasks {
		t()
	}
}

type authority struct {
	trace     *[]string
	failGrant int
	holder    OccupantID
}

func (a *authority) GrantInput(o OccupantID) error {
	if a.failGrant > 0 {
		a.failGrant--
		return errors.New("physics handler not ready")
	}
	a.holder = o
	*a.trace = append(*a.trace, "grant")
	return nil
}

func (a *authority) RevokeInput(o OccupantID) error {
	if a.holder == o {
		a.holder = uuid.Nil
	}
	*a.trace = append(*a.trace, "revoke")
	return nil
}

type known map[OccupantID]bool

func (k known) Known(o OccupantID) bool { return k[o] }

type fixture struct {
	ledger *Ledger
	auth   *authority
	sched  *queue
	trace  []string
	events []Event
	sent   []Snapshot
	mem    *diag.Memory
}

func newFixture(authoritative bool, def *defs.Definition, resolver Resolver) *fixture {
	f := &fixture{sched: &queue{}, mem: diag.NewMemory()}
	f.auth = &authority{trace: &f.trace}
	logger := diag.Discard()
	logger.AddSink(f.mem)
	f.ledger = NewLedger(Config{
		Authoritative: authoritative,
		Definition: func() (*defs.Definition, error) {
			if def == nil {
				return nil, errors.New("pack not loaded")
			}
			return def, nil
		},
		Authority: f.auth,
		Scheduler: f.sched,
		Resolver:  resolver,
		Publish: func(s Snapshot) {
			f.trace = append(f.trace, "publish")
			f.sent = append(f.sent, s)
		},
		Listeners: []Listener{func(e Event) {
			f.trace = append(f.trace, e.Kind.String())
			f.events = append(f.events, e)
		}},
		Log: logger,
	})
	return f
}

func TestControllingSeatScenario(t *testing.T) {
	f := newFixture(true, carDef, nil)
	p, q := uuid.New(), uuid.New()

	require.Equal(t, Assigned, f.ledger.Assign(1, p))
	ctrl, ok := f.ledger.Controller()
	require.True(t, ok)
	assert.Equal(t, p, ctrl)
	require.Len(t, f.events, 1)
	assert.Equal(t, Event{Kind: Mount, Seat: 1, Occupant: p, Controlling: true}, f.events[0])
	assert.Equal(t, []string{"grant", "mount", "publish"}, f.trace)

	before := f.ledger.Pairs()
	assert.Equal(t, SeatFull, f.ledger.Assign(1, q))
	assert.Equal(t, before, f.ledger.Pairs())
	assert.Len(t, f.events, 1)
}

func TestAssignRejections(t *testing.T) {
	f := newFixture(true, carDef, nil)
	p := uuid.New()
	require.Equal(t, Assigned, f.ledger.Assign(2, p))
	assert.Equal(t, OccupantAlreadySeated, f.ledger.Assign(3, p))
	assert.Equal(t, UnknownSeat, f.ledger.Assign(9, uuid.New()))

	obs := newFixture(false, carDef, nil)
	assert.Equal(t, NotAuthoritative, obs.ledger.Assign(2, p))
	assert.False(t, obs.ledger.Unassign(p))
}

func TestUnassignRevokesBeforePublishing(t *testing.T) {
	f := newFixture(true, carDef, nil)
	p := uuid.New()
	require.Equal(t, Assigned, f.ledger.Assign(1, p))
	f.trace = nil

	require.True(t, f.ledger.Unassign(p))
	assert.Equal(t, []string{"revoke", "publish", "dismount"}, f.trace)
	assert.Equal(t, uuid.Nil, f.auth.holder)
	assert.Empty(t, f.sent[len(f.sent)-1].Pairs)

	_, ok := f.ledger.Controller()
	assert.False(t, ok)
	seat, ok := f.ledger.LastRiddenSeat()
	require.True(t, ok)
	assert.Equal(t, SeatID(1), seat)
	assert.False(t, f.ledger.Unassign(p))
}

func TestGrantIsRetriedOnNextStep(t *testing.T) {
	f := newFixture(true, carDef, nil)
	f.auth.failGrant = 2
	p := uuid.New()

	require.Equal(t, Assigned, f.ledger.Assign(1, p))
	assert.Equal(t, uuid.Nil, f.auth.holder)
	require.Len(t, f.sched.tasks, 1)

	f.sched.run()
	assert.Equal(t, uuid.Nil, f.auth.holder)
	f.sched.run()
	assert.Equal(t, p, f.auth.holder)
	assert.Empty(t, f.sched.tasks)
}

func TestRetryDroppedWhenOccupantLeft(t *testing.T) {
	f := newFixture(true, carDef, nil)
	f.auth.failGrant = 1
	p := uuid.New()
	require.Equal(t, Assigned, f.ledger.Assign(1, p))
	require.True(t, f.ledger.Unassign(p))

	f.sched.run()
	assert.Equal(t, uuid.Nil, f.auth.holder)
	assert.Empty(t, f.sched.tasks)
}

func TestReconcileIsIdempotent(t *testing.T) {
	owner := newFixture(true, carDef, nil)
	obs := newFixture(false, carDef, nil)
	a, b := uuid.New(), uuid.New()
	owner.ledger.Assign(1, a)
	owner.ledger.Assign(3, b)
	snap := owner.ledger.Snapshot()

	require.NoError(t, obs.ledger.Reconcile(snap))
	assert.Len(t, obs.events, 2)
	assert.Empty(t, obs.sent, "observers never publish")

	require.NoError(t, obs.ledger.Reconcile(snap))
	assert.Len(t, obs.events, 2, "second application emits nothing")
}

func TestReconcileDismountsBeforeMounts(t *testing.T) {
	obs := newFixture(false, carDef, nil)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, obs.ledger.Reconcile(Snapshot{Pairs: []Pair{{Seat: 1, Occupant: a.String()}}}))
	obs.events = nil
	obs.trace = nil

	// a moves to the back, b takes the wheel.
	require.NoError(t, obs.ledger.Reconcile(Snapshot{Pairs: []Pair{
		{Seat: 1, Occupant: b.String()},
		{Seat: 3, Occupant: a.String()},
	}}))
	require.Len(t, obs.events, 3)
	assert.Equal(t, Event{Kind: Dismount, Seat: 1, Occupant: a, Controlling: true}, obs.events[0])
	assert.Equal(t, Event{Kind: Mount, Seat: 1, Occupant: b, Controlling: true}, obs.events[1])
	assert.Equal(t, Event{Kind: Mount, Seat: 3, Occupant: a}, obs.events[2])
	assert.Equal(t, []string{"revoke", "dismount", "grant", "mount", "mount"}, obs.trace)
}

func TestReconcileSkipsUnknownEntries(t *testing.T) {
	a, stranger := uuid.New(), uuid.New()
	obs := newFixture(false, carDef, known{a: true})
	require.NoError(t, obs.ledger.Reconcile(Snapshot{Pairs: []Pair{
		{Seat: 2, Occupant: a.String()},
		{Seat: 3, Occupant: stranger.String()},
		{Seat: 7, Occupant: a.String()},
		{Seat: 1, Occupant: "not-a-uuid"},
	}}))
	assert.Equal(t, []Pair{{Seat: 2, Occupant: a.String()}}, obs.ledger.Pairs())
	assert.Equal(t, 3, obs.mem.Count(diag.SeverityWarn))
}

func TestReconcileWithoutDefinitionLeavesLedgerEmpty(t *testing.T) {
	obs := newFixture(false, nil, nil)
	err := obs.ledger.Reconcile(Snapshot{Pairs: []Pair{{Seat: 1, Occupant: uuid.NewString()}}})
	assert.ErrorIs(t, err, ErrDefinitionUnresolved)
	assert.Zero(t, obs.ledger.Len())
	assert.Equal(t, 1, obs.mem.Count(diag.SeverityFatal))
	assert.Empty(t, obs.events)
}

func TestObserverConvergesDespiteSkippedSnapshots(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	owner := newFixture(true, carDef, nil)
	obs := newFixture(false, carDef, nil)
	people := []OccupantID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	for step := 0; step < 300; step++ {
		who := people[rng.Intn(len(people))]
		if rng.Intn(2) == 0 {
			owner.ledger.Assign(SeatID(1+rng.Intn(3)), who)
		} else {
			owner.ledger.Unassign(who)
		}
		// The transport drops most snapshots; only some reach the observer.
		if n := len(owner.sent); n > 0 && rng.Intn(5) == 0 {
			require.NoError(t, obs.ledger.Reconcile(owner.sent[n-1]))
			require.Equal(t, owner.ledger.Pairs(), obs.ledger.Pairs(), fmt.Sprintf("step %d", step))
		}
	}
	require.NoError(t, obs.ledger.Reconcile(owner.ledger.Snapshot()))
	assert.Equal(t, owner.ledger.Pairs(), obs.ledger.Pairs())
	c1, ok1 := owner.ledger.Controller()
	c2, ok2 := obs.ledger.Controller()
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, c1, c2)
}

func TestPersistenceRoundTrip(t *testing.T) {
	a, b, gone := uuid.New(), uuid.New(), uuid.New()
	src := newFixture(true, carDef, nil)
	src.ledger.Assign(1, a)
	src.ledger.Assign(2, b)
	src.ledger.Assign(3, gone)

	tag := tagstore.NewTag()
	src.ledger.WriteState(tag)
	v, ok := tag.String("Seat1")
	require.True(t, ok)
	assert.Equal(t, a.String(), v)

	dst := newFixture(true, carDef, known{a: true, b: true})
	require.NoError(t, dst.ledger.ReadState(tag))
	assert.Equal(t, []Pair{{Seat: 1, Occupant: a.String()}, {Seat: 2, Occupant: b.String()}}, dst.ledger.Pairs())
	ctrl, _ := dst.ledger.Controller()
	assert.Equal(t, a, ctrl)
}

func TestRebindDismountsRemovedSeats(t *testing.T) {
	f := newFixture(true, carDef, nil)
	a, b := uuid.New(), uuid.New()
	f.ledger.Assign(1, a)
	f.ledger.Assign(3, b)
	f.events = nil

	smaller := &defs.Definition{Name: "car", Seats: []defs.Seat{{ID: 1, Controlling: true}, {ID: 2}}}
	f.ledger.Rebind(smaller)
	require.Len(t, f.events, 1)
	assert.Equal(t, Event{Kind: Dismount, Seat: 3, Occupant: b}, f.events[0])
	assert.Equal(t, []Pair{{Seat: 1, Occupant: a.String()}}, f.ledger.Pairs())
}

func TestBijection(t *testing.T) {
	b := NewBijection[string, int]()
	require.True(t, b.Put("a", 1))
	assert.False(t, b.Put("a", 2))
	assert.False(t, b.Put("b", 1))
	require.True(t, b.Put("b", 2))

	k, ok := b.Key(2)
	require.True(t, ok)
	assert.Equal(t, "b", k)

	v, ok := b.RemoveKey("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = b.Key(1)
	assert.False(t, ok)

	_, ok = b.RemoveValue(2)
	require.True(t, ok)
	assert.Zero(t, b.Len())
}

func TestGrantKeepsRetryingPastWarnThreshold(t *testing.T) {
	f := newFixture(true, carDef, nil)
	f.auth.failGrant = 60
	p := uuid.New()
	require.Equal(t, Assigned, f.ledger.Assign(1, p))

	for i := 0; i < 60; i++ {
		require.Len(t, f.sched.tasks, 1, "attempt %d", i)
		f.sched.run()
	}
	assert.Equal(t, p, f.auth.holder)
	assert.Empty(t, f.sched.tasks)
	assert.Positive(t, f.mem.Count(diag.SeverityError))
}

func TestCloseStopsRetries(t *testing.T) {
	f := newFixture(true, carDef, nil)
	f.auth.failGrant = 5
	require.Equal(t, Assigned, f.ledger.Assign(1, uuid.New()))
	f.ledger.Close()

	f.sched.run()
	assert.Empty(t, f.sched.tasks)
	assert.Equal(t, uuid.Nil, f.auth.holder)
}

func TestRebindMovesInputAuthorityWithControllingSeat(t *testing.T) {
	f := newFixture(true, carDef, nil)
	a, b := uuid.New(), uuid.New()
	require.Equal(t, Assigned, f.ledger.Assign(1, a))
	require.Equal(t, Assigned, f.ledger.Assign(2, b))
	require.Equal(t, a, f.auth.holder)
	f.trace = nil

	moved := &defs.Definition{Name: "car", Seats: []defs.Seat{{ID: 1}, {ID: 2, Controlling: true}, {ID: 3}}}
	f.ledger.Rebind(moved)
	assert.Equal(t, []string{"revoke", "grant"}, f.trace)
	assert.Equal(t, b, f.auth.holder)
	ctrl, ok := f.ledger.Controller()
	require.True(t, ok)
	assert.Equal(t, b, ctrl)

	f.trace = nil
	f.ledger.Rebind(moved)
	assert.Empty(t, f.trace, "unchanged controlling seat keeps authority")
}
