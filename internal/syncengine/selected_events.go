package syncengine

import (
	"context"

	"github.com/larkmail/lark/internal/imapwire"
)

// registerSelectedHandlers pushes the four persistent dispatch
// handlers that keep the connection's in-memory mailbox state (and
// the cache) current for as long as the mailbox stays Selected,
// including across however many IDLE episodes that spans. It returns
// a single pop function combining all four, which selectMailbox and
// leaveSelected call on every path out of Selected.
//
// Each handler here sits underneath whatever short-lived collector a
// command in flight has pushed for the same response type (the FETCH
// collectors of fetchNewMessages, fetchDetail, fetchBodySections and
// backfillOneBatch): the
// dispatch stack runs newest-first, so the transient collector
// intercepts while its command is outstanding, and this handler only
// ever sees genuinely unsolicited pushes — the ones that arrive with
// no command in flight to claim them, e.g. during IDLE.
//
// ctx is the Run(ctx) context for this connection's entire lifetime,
// so capturing it once here to drive the cache writes below is safe:
// it is the same ctx passed unchanged through every state function
// for as long as the connection exists.
func (c *Conn) registerSelectedHandlers(ctx context.Context) func() {
	popExists := c.dispatch.Push("EXISTS", func(u *imapwire.UntaggedResp) bool {
		c.existsKnown = u.Number
		return true
	})
	popRecent := c.dispatch.Push("RECENT", func(u *imapwire.UntaggedResp) bool {
		c.recentKnown = u.Number
		return true
	})
	popExpunge := c.dispatch.Push("EXPUNGE", func(u *imapwire.UntaggedResp) bool {
		c.applyExpunge(ctx, u.Number)
		return true
	})
	popFetch := c.dispatch.Push("FETCH", func(u *imapwire.UntaggedResp) bool {
		if u.FetchAttr != nil {
			c.applyUnsolicitedFetch(ctx, u.FetchSeq, u.FetchAttr)
		}
		return true
	})
	return func() {
		popExists()
		popRecent()
		popExpunge()
		popFetch()
	}
}

// applyExpunge handles an unsolicited "* N EXPUNGE": per RFC 3501
// §7.4.1, seqNum identifies the message by its CURRENT sequence
// number, and every later sequence number shifts down by one once it
// is removed. The cache's (mailbox, uid) binding is deleted in the
// same beat, not deferred to the next backfill diff — EXPUNGE is one
// of this cache's documented durability points.
func (c *Conn) applyExpunge(ctx context.Context, seqNum uint32) {
	if seqNum == 0 || int(seqNum) > len(c.uids) {
		return
	}
	uid := c.uids[seqNum-1]
	c.uids = append(c.uids[:seqNum-1], c.uids[seqNum:]...)
	if c.existsKnown > 0 {
		c.existsKnown--
	}
	delete(c.unseen, uid)
	delete(c.uidToGMMsgID, uid)

	txn, err := c.store.Begin(ctx)
	if err != nil {
		c.fatalErr = err
		return
	}
	txn.UnbindUID(c.selectedMailbox, uid)
	if err := txn.Commit(); err != nil {
		c.fatalErr = err
	}
}

// applyUnsolicitedFetch handles an unsolicited FETCH push (a flag or
// label change on a message the server didn't need a standing command
// to report). Only the attributes actually present in a are applied —
// a push reporting just FLAGS must not clobber Labels, and vice versa.
func (c *Conn) applyUnsolicitedFetch(ctx context.Context, seq uint32, a *imapwire.FetchAttrs) {
	uid, ok := c.resolveUID(seq, a)
	if !ok {
		return
	}
	if a.HasFlags {
		c.unseen[uid] = !hasSeenFlag(a.Flags)
	}
	if !a.HasFlags && !a.HasGMLabels {
		return
	}

	gmMsgID, known := c.uidToGMMsgID[uid]
	if !known {
		// Not yet known to this mailbox (e.g. just appeared, before the
		// regular new-message fetch has caught up) — the upcoming
		// fetchNewMessages pass will pick up its full state instead.
		return
	}

	var flags, labels map[string]bool
	if a.HasFlags {
		flags = toFlagSet(a.Flags)
	}
	if a.HasGMLabels {
		ls := a.GMLabels
		if label, hasLabel := c.labelForSelectedMailbox(); hasLabel {
			ls = append(append([]string{}, ls...), label)
		}
		labels = toFlagSet(ls)
	}

	txn, err := c.store.Begin(ctx)
	if err != nil {
		c.fatalErr = err
		return
	}
	txn.UpdateMessageFlags(gmMsgID, flags, labels)
	if err := txn.Commit(); err != nil {
		c.fatalErr = err
	}
}

// resolveUID finds the UID an unsolicited FETCH push refers to: the
// UID data item itself if present (RFC 3501 §6.4.8 guarantees one
// whenever the request went through the UID command, but a push
// arriving with no command in flight has no such guarantee), else the
// sequence number looked up against the live UID array.
func (c *Conn) resolveUID(seq uint32, a *imapwire.FetchAttrs) (uint32, bool) {
	if a.HasUID {
		return a.UID, true
	}
	if seq == 0 || int(seq) > len(c.uids) {
		return 0, false
	}
	return c.uids[seq-1], true
}
