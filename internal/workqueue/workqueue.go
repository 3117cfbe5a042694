// Package workqueue implements the FIFO work queue that feeds
// commands to the single connection goroutine a syncengine.Conn owns:
// "refresh this mailbox list", "select this mailbox", "fetch these
// body sections". It runs single-threaded — callers push from the
// same goroutine that later pops — so there is no internal locking;
// WaitForWork exists purely to let that goroutine block without
// spinning when the queue is temporarily empty.
package workqueue

import "container/list"

// Kind identifies the shape of a queued Item.
type Kind int

const (
	Logout Kind = iota
	RefreshList
	Select
	Close
	FetchBodyStructure
	FetchBodySections
)

func (k Kind) String() string {
	switch k {
	case Logout:
		return "Logout"
	case RefreshList:
		return "RefreshList"
	case Select:
		return "Select"
	case Close:
		return "Close"
	case FetchBodyStructure:
		return "FetchBodyStructure"
	case FetchBodySections:
		return "FetchBodySections"
	default:
		return "Kind(?)"
	}
}

// Item is one unit of requested work. Only the fields relevant to
// Kind are meaningful.
type Item struct {
	Kind Kind

	Mailbox  string   // Select
	GMMsgID  uint64   // FetchBodyStructure, FetchBodySections
	Sections []string // FetchBodySections

	// selected is true if this item, once serviced, leaves the
	// connection in the Selected state on Mailbox. It is maintained
	// by the queue itself (see Push) so FailSelectedWork can identify
	// which queued items belong to "the currently selected mailbox"
	// without re-deriving it from Kind alone.
	selected bool
}

// Queue is a FIFO of Items with three admission rules layered over a
// plain list:
//
//  1. RefreshList coalesces: if one is already queued, a second push
//     is dropped rather than duplicating the refresh.
//  2. Select/Close update an optimistic "currently selected mailbox"
//     tracker as they are pushed, not when they are serviced, so a
//     FetchBodySections pushed immediately after a Select is known to
//     target the mailbox that Select is headed towards even before
//     the connection gets there.
//  3. Logout and Close bypass rule 1's coalescing: they always
//     enqueue. Close also clears rule 2's tracker as it is pushed.
//     Like every other item, both are serviced in FIFO order.
type Queue struct {
	items           *list.List
	hasRefreshList  bool
	selectedMailbox string
	haveSelected    bool

	waiter chan struct{} // non-nil while a WaitForWork call is blocked
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{items: list.New()}
}

// Push enqueues item, applying the admission rules above. It returns
// true if the item was actually enqueued (false if it was coalesced
// away).
func (q *Queue) Push(item Item) bool {
	switch item.Kind {
	case RefreshList:
		if q.hasRefreshList {
			return false
		}
		q.hasRefreshList = true
	case Select:
		item.selected = true
		q.selectedMailbox = item.Mailbox
		q.haveSelected = true
	case Close:
		q.haveSelected = false
		q.selectedMailbox = ""
	case FetchBodyStructure, FetchBodySections:
		item.selected = q.haveSelected
	}
	q.items.PushBack(item)
	q.wake()
	return true
}

// Pop removes and returns the oldest item, or ok=false if the queue
// is empty.
func (q *Queue) Pop() (Item, bool) {
	front := q.items.Front()
	if front == nil {
		return Item{}, false
	}
	q.items.Remove(front)
	item := front.Value.(Item)
	if item.Kind == RefreshList {
		q.hasRefreshList = false
	}
	return item, true
}

// Empty reports whether the queue currently holds no items. This is
// the queue's only size predicate — see DESIGN.md for why no other
// form (a saturating counter, a negative-is-empty convention) is
// exposed.
func (q *Queue) Empty() bool {
	return q.items.Len() == 0
}

// Len reports the current item count, for metrics/logging only —
// control flow should use Empty.
func (q *Queue) Len() int {
	return q.items.Len()
}

// FailSelectedWork removes every currently-queued item that targets
// the presently-selected mailbox (as tracked by Push's rule 2),
// stopping at the first Select or Close it encounters (that item
// starts a new selected-mailbox epoch and is left in place). It
// returns the removed items so the caller can fail their futures.
// Used when a Selected-state connection is forced back to
// Authenticated by a server error: the work that assumed the old
// selection is no longer valid, but work queued for whatever mailbox
// comes next is unaffected. If no such boundary item is found, there
// is no next selection to wait for, so the optimistic selection
// tracker is cleared too — a later FetchBodyStructure/FetchBodySections
// push must not be stamped as belonging to the now-dead mailbox.
func (q *Queue) FailSelectedWork() []Item {
	var failed []Item
	foundBoundary := false
	for e := q.items.Front(); e != nil; {
		item := e.Value.(Item)
		if item.Kind == Select || item.Kind == Close {
			foundBoundary = true
			break
		}
		if !item.selected {
			e = e.Next()
			continue
		}
		next := e.Next()
		q.items.Remove(e)
		failed = append(failed, item)
		e = next
	}
	if !foundBoundary {
		q.haveSelected = false
		q.selectedMailbox = ""
	}
	return failed
}

// WaitForWork returns a channel that is closed the next time Push
// makes the queue non-empty (or immediately, already-closed, if the
// queue is already non-empty). Only one WaitForWork may be
// outstanding at a time — the connection goroutine is the queue's
// only consumer — calling it again before the previous wait resolves
// replaces the previous waiter.
func (q *Queue) WaitForWork() <-chan struct{} {
	if !q.Empty() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	q.waiter = make(chan struct{})
	return q.waiter
}

// CancelWait releases a pending WaitForWork channel without it ever
// having been signaled by a Push, e.g. because the caller's context
// was canceled first. Safe to call even if no wait is outstanding.
func (q *Queue) CancelWait() {
	if q.waiter != nil {
		close(q.waiter)
		q.waiter = nil
	}
}

func (q *Queue) wake() {
	if q.waiter != nil {
		close(q.waiter)
		q.waiter = nil
	}
}
