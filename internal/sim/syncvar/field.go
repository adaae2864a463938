package syncvar

import "fmt"

// Rule names the side that is the source of truth for a field.
type Rule uint8

const (
	// OwnerToObservers: whoever holds input authority (e.g. the driving occupant).
	OwnerToObservers Rule = iota + 1
	// ControllerToObservers: same source as OwnerToObservers, used for input fields.
	ControllerToObservers
	// SimulationToObservers: the side integrating physics.
	SimulationToObservers
)

func (r Rule) String() string {
	switch r {
	case OwnerToObservers:
		return "OWNER_TO_OBSERVERS"
	case ControllerToObservers:
		return "CONTROLLER_TO_OBSERVERS"
	case SimulationToObservers:
		return "SIMULATION_TO_OBSERVERS"
	default:
		return fmt.Sprintf("RULE(%d)", uint8(r))
	}
}

// Authority answers which rules the local side is the source for.
type Authority interface {
	HasInputAuthority() bool
	SimulatesPhysics() bool
}

// AuthoritativeOn reports whether writes under r are authoritative for a.
// A nil authority is treated as a standalone simulation that owns everything.
func (r Rule) AuthoritativeOn(a Authority) bool {
	if a == nil {
		return true
	}
	switch r {
	case OwnerToObservers, ControllerToObservers:
		return a.HasInputAuthority()
	case SimulationToObservers:
		return a.SimulatesPhysics()
	default:
		return false
	}
}

// Var is the type-erased view of a Field used by Channel.
type Var interface {
	ID() string
	Rule() Rule
	Dirty() bool

	encode() []byte
	decode([]byte) error
	attach(*Channel)
	state() *varState
}

type varState struct {
	dirty bool
	sent  []byte
}

// Field is one replicated value.
type Field[V any] struct {
	id    string
	rule  Rule
	codec Codec[V]
	value V

	st varState
	ch *Channel
}

func NewField[V any](id string, rule Rule, codec Codec[V], initial V) *Field[V] {
	return &Field[V]{id: id, rule: rule, codec: codec, value: initial}
}

func (f *Field[V]) ID() string  { return f.id }
func (f *Field[V]) Rule() Rule  { return f.rule }
func (f *Field[V]) Get() V      { return f.value }
func (f *Field[V]) Dirty() bool { return f.st.dirty }

// Set writes v. On the authoritative side the field becomes dirty and is
// included in the next snapshot. Elsewhere the value is provisional: it is
// kept locally and replaced by the next replicated snapshot.
func (f *Field[V]) Set(v V) {
	f.value = v
	if f.ch == nil || f.rule.AuthoritativeOn(f.ch.auth) {
		f.st.dirty = true
		return
	}
	if f.ch.Debug {
		f.ch.log.Warnf("provisional write to %s (%s) on non-authoritative side", f.id, f.rule)
	}
}

// Touch marks the field dirty after an in-place mutation of its value.
func (f *Field[V]) Touch() {
	if f.ch == nil || f.rule.AuthoritativeOn(f.ch.auth) {
		f.st.dirty = true
	}
}

func (f *Field[V]) encode() []byte { return f.codec.Encode(f.value) }

func (f *Field[V]) decode(b []byte) error {
	if n := f.codec.FixedSize(); n >= 0 && len(b) != n {
		return &ProtocolError{Field: f.id, Want: n, Got: len(b)}
	}
	v, err := f.codec.Decode(b)
	if err != nil {
		return &ProtocolError{Field: f.id, Want: f.codec.FixedSize(), Got: len(b), Err: err}
	}
	f.value = v
	return nil
}

func (f *Field[V]) attach(ch *Channel) { f.ch = ch }
func (f *Field[V]) state() *varState  { return &f.st }

// ProtocolError reports replicated data that does not fit the field's type.
type ProtocolError struct {
	Field string
	Want  int // declared size, -1 for length-prefixed codecs
	Got   int
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("syncvar: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("syncvar: field %s: size %d, want %d", e.Field, e.Got, e.Want)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
