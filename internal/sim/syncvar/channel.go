package syncvar

import (
	"bytes"
	"errors"
	"fmt"

	"dynacraft.ai/internal/diag"
)

// Entry is one replicated field value.
type Entry struct {
	ID   string `msgpack:"i"`
	Data []byte `msgpack:"d"`
}

// Snapshot is an ordered set of field values. Later entries win.
type Snapshot struct {
	Entries []Entry `msgpack:"e"`
}

func (s Snapshot) Empty() bool { return len(s.Entries) == 0 }

// Channel owns the replicated fields of one object.
// Not safe for concurrent use; it belongs to the object's loop goroutine.
type Channel struct {
	auth Authority
	log  *diag.Logger

	vars []Var
	byID map[string]Var

	// Debug logs provisional writes on non-authoritative sides.
	Debug bool
}

func NewChannel(auth Authority, logger *diag.Logger) *Channel {
	return &Channel{
		auth: auth,
		log:  logger,
		byID: map[string]Var{},
	}
}

// Register adds fields in order. IDs must be unique within the channel.
func (c *Channel) Register(vars ...Var) error {
	for _, v := range vars {
		if v == nil {
			continue
		}
		if _, dup := c.byID[v.ID()]; dup {
			return fmt.Errorf("syncvar: duplicate field id %q", v.ID())
		}
		v.attach(c)
		c.vars = append(c.vars, v)
		c.byID[v.ID()] = v
	}
	return nil
}

func (c *Channel) Len() int { return len(c.vars) }

func (c *Channel) Lookup(id string) (Var, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// CollectDirty returns every authoritative field written since its last
// collection, in registration order, and clears their dirty flags. Fields
// whose encoding did not change since the last send are skipped.
func (c *Channel) CollectDirty() Snapshot {
	var snap Snapshot
	for _, v := range c.vars {
		st := v.state()
		if !st.dirty || !v.Rule().AuthoritativeOn(c.auth) {
			continue
		}
		st.dirty = false
		b := v.encode()
		if st.sent != nil && bytes.Equal(b, st.sent) {
			continue
		}
		st.sent = b
		snap.Entries = append(snap.Entries, Entry{ID: v.ID(), Data: b})
	}
	return snap
}

// Requeue marks the snapshot's fields dirty again after a failed send.
func (c *Channel) Requeue(snap Snapshot) {
	for _, e := range snap.Entries {
		if v, ok := c.byID[e.ID]; ok {
			st := v.state()
			st.dirty = true
			st.sent = nil
		}
	}
}

// FullSnapshot encodes every field this side is authoritative for without
// touching dirty state. Used to bring a newly attached observer up to date.
func (c *Channel) FullSnapshot() Snapshot {
	var snap Snapshot
	for _, v := range c.vars {
		if !v.Rule().AuthoritativeOn(c.auth) {
			continue
		}
		snap.Entries = append(snap.Entries, Entry{ID: v.ID(), Data: v.encode()})
	}
	return snap
}

// MarkAllDirty forces the next CollectDirty to include every authoritative
// field, e.g. after input authority moved to this side.
func (c *Channel) MarkAllDirty() {
	for _, v := range c.vars {
		st := v.state()
		st.dirty = true
		st.sent = nil
	}
}

// Apply writes received values in order. Unknown ids are ignored, fields this
// side is authoritative for are skipped, and malformed entries leave their
// field unchanged. Every protocol error is returned, joined.
func (c *Channel) Apply(snap Snapshot) error {
	_, err := c.ApplyAccepted(snap)
	return err
}

// ApplyAccepted is Apply that also returns the entries it wrote, in order.
// Relays forward only these.
func (c *Channel) ApplyAccepted(snap Snapshot) (Snapshot, error) {
	var (
		errs     []error
		accepted Snapshot
	)
	for _, e := range snap.Entries {
		v, ok := c.byID[e.ID]
		if !ok {
			c.log.Debugf("ignoring unknown field %q", e.ID)
			continue
		}
		if v.Rule().AuthoritativeOn(c.auth) {
			continue
		}
		if err := v.decode(e.Data); err != nil {
			c.log.Warnf("%v", err)
			errs = append(errs, err)
			continue
		}
		st := v.state()
		st.dirty = false
		st.sent = nil
		accepted.Entries = append(accepted.Entries, e)
	}
	return accepted, errors.Join(errs...)
}
