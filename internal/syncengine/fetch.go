package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/larkmail/lark/internal/cache"
	"github.com/larkmail/lark/internal/imapwire"
)

// fetchNewMessages learns about messages newer than what's already
// known: a first UID FETCH learns UIDs and Gmail message ids for every
// UID above the highest one in the UID array, then a second pass
// fetches FLAGS X-GM-LABELS X-GM-THRID INTERNALDATE, plus ENVELOPE and
// BODYSTRUCTURE for messages the cache hasn't seen before.
func (c *Conn) fetchNewMessages(ctx context.Context) error {
	var attrs []*imapwire.FetchAttrs
	pop := c.dispatch.Push("FETCH", func(u *imapwire.UntaggedResp) bool {
		if u.FetchAttr != nil {
			attrs = append(attrs, u.FetchAttr)
		}
		return true
	})

	tag := c.nextTag()
	lo := uint64(1)
	for _, u := range c.uids {
		if uint64(u) >= lo {
			lo = uint64(u) + 1
		}
	}
	seqset := strconv.FormatUint(lo, 10) + ":*"
	tagged, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, seqset, "UID", "X-GM-MSGID"))
	pop()
	if err == errSelectedDemoted {
		return nil
	}
	if err != nil {
		return protocolErr("fetch-new", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return protocolErr("fetch-new", fmt.Errorf("UID FETCH failed: %s", tagged.Text.Text))
	}

	label, hasLabel := c.labelForSelectedMailbox()

	var unknownUIDs []uint32
	knownUIDs := make([]uint32, 0, len(attrs))
	for _, a := range attrs {
		// "lo:*" always matches the highest UID, even one below lo.
		if !a.HasUID || !a.HasGMMsgID || uint64(a.UID) < lo {
			continue
		}
		c.uids = append(c.uids, a.UID)
		c.uidToGMMsgID[a.UID] = a.GMMsgID
		if _, seen, err := c.store.GetMessage(ctx, a.GMMsgID); err == nil && !seen {
			unknownUIDs = append(unknownUIDs, a.UID)
		} else {
			knownUIDs = append(knownUIDs, a.UID)
		}

		txn, err := c.store.Begin(ctx)
		if err != nil {
			return err
		}
		txn.BindUID(c.selectedMailbox, a.UID, a.GMMsgID)
		if err := txn.Commit(); err != nil {
			return err
		}
	}

	if len(unknownUIDs) > 0 {
		if err := c.fetchDetail(ctx, unknownUIDs, true, label, hasLabel); err != nil {
			return err
		}
	}
	if len(knownUIDs) > 0 {
		if err := c.fetchDetail(ctx, knownUIDs, false, label, hasLabel); err != nil {
			return err
		}
	}
	return nil
}

// fetchDetail issues the second-pass FETCH for a batch of UIDs:
// FLAGS X-GM-LABELS X-GM-THRID INTERNALDATE, plus ENVELOPE and
// BODYSTRUCTURE when withEnvelope is set (messages new to the cache).
func (c *Conn) fetchDetail(ctx context.Context, uids []uint32, withEnvelope bool, mailboxLabel string, hasMailboxLabel bool) error {
	items := []string{"FLAGS", "X-GM-LABELS", "X-GM-THRID", "INTERNALDATE"}
	if withEnvelope {
		items = append(items, "ENVELOPE", "BODYSTRUCTURE")
	}

	var attrs []*imapwire.FetchAttrs
	pop := c.dispatch.Push("FETCH", func(u *imapwire.UntaggedResp) bool {
		if u.FetchAttr != nil {
			attrs = append(attrs, u.FetchAttr)
		}
		return true
	})

	tag := c.nextTag()
	tagged, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, seqSetOf(uids), items...))
	pop()
	if err == errSelectedDemoted {
		return nil
	}
	if err != nil {
		return protocolErr("fetch-detail", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return protocolErr("fetch-detail", fmt.Errorf("UID FETCH failed: %s", tagged.Text.Text))
	}

	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if !a.HasGMMsgID {
			continue
		}
		labels := a.GMLabels
		if hasMailboxLabel {
			labels = append(append([]string{}, labels...), mailboxLabel)
		}
		txn.UpsertMessage(messageFromFetch(a, labels))
		if a.HasUID {
			c.uidToGMMsgID[a.UID] = a.GMMsgID
			if a.HasFlags {
				c.unseen[a.UID] = !hasSeenFlag(a.Flags)
			}
		}
	}
	return txn.Commit()
}

// hasSeenFlag reports whether flags contains \Seen, case-insensitively
// per RFC 3501's flag grammar.
func hasSeenFlag(flags []string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, `\Seen`) {
			return true
		}
	}
	return false
}

// messageFromFetch builds the cache.Message record a FETCH response
// maps to, with labels already merged with the mailbox's own implicit
// label by the caller.
func messageFromFetch(a *imapwire.FetchAttrs, labels []string) cache.Message {
	return cache.Message{
		GMMsgID:       a.GMMsgID,
		GMThrID:       a.GMThrID,
		Flags:         toFlagSet(a.Flags),
		Labels:        toFlagSet(labels),
		InternalDate:  parseInternalDate(a.InternalDate),
		Envelope:      a.Envelope,
		BodyStructure: a.BodyStructure,
	}
}

func seqSetOf(uids []uint32) string {
	s := ""
	for i, u := range uids {
		if i > 0 {
			s += ","
		}
		s += strconv.FormatUint(uint64(u), 10)
	}
	return s
}

func toFlagSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// parseInternalDate parses RFC 3501 §6.4.5 date-time strings
// ("02-Jan-2006 15:04:05 -0700"); a malformed or absent date degrades
// to the zero time rather than aborting the whole fetch batch.
func parseInternalDate(s string) time.Time {
	t, err := time.Parse("02-Jan-2006 15:04:05 -0700", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// fetchBodyStructure services a single FetchBodyStructure work item
// (the UI's "open_message" intent needing structural data only).
func (c *Conn) fetchBodyStructure(ctx context.Context, gmMsgID uint64) error {
	uid, ok := c.uidForGMMsgID(ctx, gmMsgID)
	if !ok {
		return nil
	}
	return c.fetchDetail(ctx, []uint32{uid}, true, "", false)
}

// fetchBodySections services a FetchBodySections work item (the UI's
// "read_body_sections" intent): fetches the requested BODY[section]
// parts and writes them write-once into the cache.
func (c *Conn) fetchBodySections(ctx context.Context, gmMsgID uint64, sections []string) error {
	uid, ok := c.uidForGMMsgID(ctx, gmMsgID)
	if !ok {
		return nil
	}

	var attrs []*imapwire.FetchAttrs
	pop := c.dispatch.Push("FETCH", func(u *imapwire.UntaggedResp) bool {
		if u.FetchAttr != nil {
			attrs = append(attrs, u.FetchAttr)
		}
		return true
	})

	items := make([]string, len(sections))
	for i, s := range sections {
		items[i] = "BODY.PEEK[" + s + "]"
	}
	tag := c.nextTag()
	tagged, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, strconv.FormatUint(uint64(uid), 10), items...))
	pop()
	if err == errSelectedDemoted {
		return nil
	}
	if err != nil {
		return protocolErr("fetch-body", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return protocolErr("fetch-body", fmt.Errorf("UID FETCH failed: %s", tagged.Text.Text))
	}

	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		for section, content := range a.BodySections {
			txn.PutBodySection(gmMsgID, section, content)
		}
	}
	return txn.Commit()
}

// uidForGMMsgID resolves a Gmail message id to its UID within the
// currently selected mailbox by scanning the mailbox's cached bindings
// (ListUIDsDescending); a message not bound to this mailbox (moved or
// not yet seen) yields ok=false.
func (c *Conn) uidForGMMsgID(ctx context.Context, gmMsgID uint64) (uint32, bool) {
	bindings, err := c.store.ListUIDsDescending(ctx, c.selectedMailbox, 1<<20)
	if err != nil {
		return 0, false
	}
	for _, b := range bindings {
		if b.GMMsgID == gmMsgID {
			return b.UID, true
		}
	}
	return 0, false
}
