package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State of a change set within one unit of work.
type State int

const (
	StateIdle State = iota
	StateCaptured
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCaptured:
		return "captured"
	case StateFlushed:
		return "flushed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Op is the kind of mutation observed on a searchable row.
type Op int

const (
	OpAdd Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

var ErrInvalidTransition = errors.New("search: invalid change set transition")

// Snapshot is the frozen content of a change set taken right before commit.
// The three slices never share a document key.
type Snapshot struct {
	Added   []Document
	Updated []Document
	Deleted []Document
}

func (s Snapshot) Empty() bool {
	return len(s.Added) == 0 && len(s.Updated) == 0 && len(s.Deleted) == 0
}

func (s Snapshot) Len() int { return len(s.Added) + len(s.Updated) + len(s.Deleted) }

type change struct {
	op  Op
	doc Document
}

// ChangeSet accumulates the searchable rows touched by one transaction.
// It is owned by that transaction only and travels in its context.
type ChangeSet struct {
	registry *Registry

	mu      sync.Mutex
	state   State
	order   []string
	changes map[string]*change
}

func newChangeSet(registry *Registry) *ChangeSet {
	return &ChangeSet{registry: registry, changes: make(map[string]*change)}
}

func (cs *ChangeSet) State() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// record folds op into the pending entry for doc so that each key ends up in
// exactly one of added, updated or deleted.
func (cs *ChangeSet) record(op Op, doc Document) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != StateIdle {
		return
	}
	key := doc.Index + "/" + doc.ID
	cur, ok := cs.changes[key]
	if !ok {
		cs.changes[key] = &change{op: op, doc: doc}
		cs.order = append(cs.order, key)
		return
	}
	switch {
	case cur.op == OpAdd && op == OpDelete:
		// created and removed inside the same transaction: nothing to mirror
		delete(cs.changes, key)
		for i, k := range cs.order {
			if k == key {
				cs.order = append(cs.order[:i], cs.order[i+1:]...)
				break
			}
		}
	case cur.op == OpAdd:
		cur.doc = doc
	case op == OpDelete:
		cur.op, cur.doc = OpDelete, doc
	default:
		cur.op, cur.doc = OpUpdate, doc
	}
}

// Capture moves Idle -> Captured and returns the snapshot to flush after commit.
func (cs *ChangeSet) Capture() (Snapshot, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != StateIdle {
		return Snapshot{}, fmt.Errorf("%w: capture from %s", ErrInvalidTransition, cs.state)
	}
	var snap Snapshot
	for _, key := range cs.order {
		c := cs.changes[key]
		switch c.op {
		case OpAdd:
			snap.Added = append(snap.Added, c.doc)
		case OpUpdate:
			snap.Updated = append(snap.Updated, c.doc)
		case OpDelete:
			snap.Deleted = append(snap.Deleted, c.doc)
		}
	}
	cs.state = StateCaptured
	return snap, nil
}

// MarkFlushed moves Captured -> Flushed.
func (cs *ChangeSet) MarkFlushed() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != StateCaptured {
		return fmt.Errorf("%w: flush from %s", ErrInvalidTransition, cs.state)
	}
	cs.state = StateFlushed
	return nil
}

// Reset drops every pending change and returns to Idle. It is used both after
// a flush and to discard a snapshot whose commit did not succeed.
func (cs *ChangeSet) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.state = StateIdle
	cs.order = nil
	cs.changes = make(map[string]*change)
}

type changeSetKey struct{}

func withChangeSet(ctx context.Context, cs *ChangeSet) context.Context {
	return context.WithValue(ctx, changeSetKey{}, cs)
}

func changeSetFrom(ctx context.Context) *ChangeSet {
	if ctx == nil {
		return nil
	}
	cs, _ := ctx.Value(changeSetKey{}).(*ChangeSet)
	return cs
}
