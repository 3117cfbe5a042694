// Package optree implements the reference-counted operation tree that
// tracks asynchronous work in flight: a connect, a mailbox select, a
// fetch batch, and the handful of sub-steps each of those decomposes
// into are each represented by an Op, whose Done only fires once
// every child Op underneath it has also finished. It is the
// deterministic, single-threaded analogue of a future/promise chain.
package optree

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Op is one node in the operation tree. The zero value is not usable;
// construct with New or a parent's Child.
type Op struct {
	id      uuid.UUID
	label   string
	parent  *Op
	pending int
	done    bool
	onDone  func(*Op)

	mu *sync.Mutex // shared with the whole tree's root; guards pending, done and onDone
}

var registry = struct {
	mu   sync.Mutex
	live map[uuid.UUID]*Op
}{live: make(map[uuid.UUID]*Op)}

// New starts a new root operation. label identifies it in logs; it
// need not be unique.
func New(label string) *Op {
	return Start(label)
}

// Start is an alias for New, kept because "start an operation" is how
// call sites in syncengine read (connStart := optree.Start("connect")).
func Start(label string) *Op {
	op := &Op{id: uuid.New(), label: label, pending: 1, mu: &sync.Mutex{}}
	registry.mu.Lock()
	registry.live[op.id] = op
	registry.mu.Unlock()
	return op
}

// AssertNoLeaks panics listing any operation (root or child) started
// by New/Start/Child that has not reached Done. Call at test teardown
// or, in cmd/lark, just before process exit.
func AssertNoLeaks() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	var leaked []string
	for id, op := range registry.live {
		if !op.IsDone() {
			leaked = append(leaked, fmt.Sprintf("%s (%s): pending=%d", op.label, id, op.Pending()))
		} else {
			delete(registry.live, id)
		}
	}
	if len(leaked) > 0 {
		panic(fmt.Sprintf("optree: %d leaked operation(s): %v", len(leaked), leaked))
	}
}

// Child starts a child operation underneath o. The parent's pending
// count is incremented for the lifetime of the child: the parent
// cannot reach Done until the child does.
func (o *Op) Child(label string) *Op {
	child := &Op{id: uuid.New(), label: label, parent: o, pending: 1, mu: o.mu}
	o.IncPending()
	registry.mu.Lock()
	registry.live[child.id] = child
	registry.mu.Unlock()
	return child
}

// ID returns the operation's correlation identifier, suitable for a
// zerolog "op_id" field.
func (o *Op) ID() uuid.UUID { return o.id }

// Label returns the human-readable name passed to New/Child.
func (o *Op) Label() string { return o.label }

// IncPending registers one more unit of outstanding work against o,
// e.g. before starting a goroutine-backed sub-step that isn't itself
// a distinct child Op.
func (o *Op) IncPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		panic(fmt.Sprintf("optree: IncPending on already-done op %q", o.label))
	}
	o.pending++
}

// DecPending releases one unit of outstanding work. When the count
// reaches zero, o transitions to done: its OnDone callback (if any)
// fires and, if o has a parent, the parent's own pending count is
// decremented in turn — completion propagates up the tree exactly
// once per Op.
func (o *Op) DecPending() {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		panic(fmt.Sprintf("optree: DecPending on already-done op %q", o.label))
	}
	o.pending--
	if o.pending < 0 {
		o.mu.Unlock()
		panic(fmt.Sprintf("optree: pending count went negative for op %q", o.label))
	}
	if o.pending > 0 {
		o.mu.Unlock()
		return
	}
	o.done = true
	cb := o.onDone
	parent := o.parent
	id := o.id
	o.mu.Unlock()

	registry.mu.Lock()
	delete(registry.live, id)
	registry.mu.Unlock()

	if cb != nil {
		cb(o)
	}
	if parent != nil {
		parent.DecPending()
	}
}

// Done marks the initial unit of work (the one New/Child seeded
// pending with) as finished. It is the normal way to retire a leaf
// Op that has no further IncPending calls outstanding.
func (o *Op) Done() {
	o.DecPending()
}

// OnDone registers a callback invoked exactly once, synchronously,
// from the DecPending call that brings o's pending count to zero.
// Calling OnDone on an already-done op invokes cb immediately.
func (o *Op) OnDone(cb func(*Op)) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		cb(o)
		return
	}
	o.onDone = cb
	o.mu.Unlock()
}

// IsDone reports whether o has fully completed (itself and every
// descendant Op).
func (o *Op) IsDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Pending reports the current outstanding-unit count, for tests and
// diagnostics only.
func (o *Op) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}
