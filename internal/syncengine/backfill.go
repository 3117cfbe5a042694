package syncengine

import (
	"context"
	"fmt"

	"github.com/larkmail/lark/internal/imapwire"
)

// backfillBatchSize is the width of the UID range fetched per
// disconnected-backfill iteration.
const backfillBatchSize = 250

// backfillOneBatch fetches the backfillBatchSize UIDs just below
// c.backfillCursor (which selectMailbox starts at UIDNEXT), so a batch
// holds at most backfillBatchSize messages and fewer where UIDs are
// sparse; it clamps any UID the server's reply omits as a deletion,
// and advances the cursor downward. New-message
// fetch always preempts this (runSelected checks fetchNewMessages
// first), so this never runs while EXISTS has outpaced the UID array.
func (c *Conn) backfillOneBatch(ctx context.Context) error {
	hi := c.backfillCursor - 1
	lo := uint32(1)
	if hi > backfillBatchSize {
		lo = hi - backfillBatchSize + 1
	}
	if hi < lo {
		c.backfillCursor = 1
		return nil
	}

	seqset := fmt.Sprintf("%d:%d", lo, hi)

	var seen map[uint32]bool = make(map[uint32]bool)
	var attrs []*imapwire.FetchAttrs
	pop := c.dispatch.Push("FETCH", func(u *imapwire.UntaggedResp) bool {
		if u.FetchAttr != nil && u.FetchAttr.HasUID {
			seen[u.FetchAttr.UID] = true
			attrs = append(attrs, u.FetchAttr)
		}
		return true
	})

	tag := c.nextTag()
	tagged, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, seqset,
		"UID", "X-GM-MSGID", "X-GM-THRID", "FLAGS", "X-GM-LABELS", "INTERNALDATE", "ENVELOPE", "BODYSTRUCTURE"))
	pop()
	if err == errSelectedDemoted {
		return nil
	}
	if err != nil {
		return protocolErr("backfill", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return protocolErr("backfill", fmt.Errorf("UID FETCH failed: %s", tagged.Text.Text))
	}

	label, hasLabel := c.labelForSelectedMailbox()
	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if !a.HasGMMsgID {
			continue
		}
		labels := a.GMLabels
		if hasLabel {
			labels = append(append([]string{}, labels...), label)
		}
		txn.UpsertMessage(messageFromFetch(a, labels))
		txn.BindUID(c.selectedMailbox, a.UID, a.GMMsgID)
		c.uidToGMMsgID[a.UID] = a.GMMsgID
		if a.HasFlags {
			c.unseen[a.UID] = !hasSeenFlag(a.Flags)
		}
	}

	// Any UID in [lo, hi] the reply did not mention has been deleted
	// server-side since it last appeared in a prior LIST/fetch; drop its
	// binding so the cache's per-mailbox UID set matches the server's.
	bindings, err := c.store.ListUIDsDescending(ctx, c.selectedMailbox, 1<<20)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.UID >= lo && b.UID <= hi && !seen[b.UID] {
			txn.UnbindUID(c.selectedMailbox, b.UID)
			delete(c.uidToGMMsgID, b.UID)
			delete(c.unseen, b.UID)
		}
	}

	c.backfillCursor = lo
	return txn.Commit()
}
