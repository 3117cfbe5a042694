package syncengine

import (
	"context"
	"fmt"

	"github.com/larkmail/lark/internal/cache"
	"github.com/larkmail/lark/internal/gmaillabels"
	"github.com/larkmail/lark/internal/imapwire"
	"github.com/larkmail/lark/internal/workqueue"
)

// runGreeting waits for the server's opening line: untagged OK or
// PREAUTH advances to NotAuthenticated (PREAUTH skips straight past
// LOGIN, but this client always re-authenticates explicitly, so it is
// treated the same as OK here); BYE terminates.
func (c *Conn) runGreeting(ctx context.Context) error {
	resp, err := c.readResponse(ctx)
	if err != nil {
		return err
	}
	if resp.Untagged == nil || resp.Untagged.Status == nil {
		return protocolErr("greeting", fmt.Errorf("expected untagged status line, got %+v", resp))
	}
	switch *resp.Untagged.Status {
	case imapwire.StatusOK:
		c.state = stateNotAuthenticated
		return nil
	default:
		return protocolErr("greeting", fmt.Errorf("server sent BYE at greeting: %s", resp.Untagged.Text.Text))
	}
}

// runNotAuthenticated issues CAPABILITY, checks required preconditions
// (IMAP4rev1 present, AUTH=PLAIN present, LOGINDISABLED absent), then
// LOGIN.
func (c *Conn) runNotAuthenticated(ctx context.Context) error {
	tag := c.nextTag()
	if _, err := c.runCommand(ctx, tag, imapwire.NewFormatter().Tag(tag).Atom("CAPABILITY").CRLF()); err != nil {
		return authErr("capability", err)
	}
	if !c.caps["IMAP4REV1"] {
		return authErr("capability", fmt.Errorf("server does not advertise IMAP4rev1"))
	}
	if c.caps["LOGINDISABLED"] {
		return authErr("capability", fmt.Errorf("server advertises LOGINDISABLED"))
	}
	if !c.caps["AUTH=PLAIN"] {
		return authErr("capability", fmt.Errorf("server does not advertise AUTH=PLAIN"))
	}

	password, err := c.password()
	if err != nil {
		return authErr("login", err)
	}
	tag = c.nextTag()
	tagged, err := c.runCommand(ctx, tag, imapwire.FormatLogin(tag, c.username, password))
	if err != nil {
		return authErr("login", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return authErr("login", fmt.Errorf("LOGIN failed: %s", tagged.Text.Text))
	}
	c.state = stateAuthenticated
	return nil
}

// runAuthenticated pulls one work item and services it by kind.
func (c *Conn) runAuthenticated(ctx context.Context) error {
	item, ok := c.queue.Pop()
	if !ok {
		select {
		case <-c.queue.WaitForWork():
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	switch item.Kind {
	case workqueue.RefreshList:
		return c.refreshList(ctx)
	case workqueue.Select:
		return c.selectMailbox(ctx, item.Mailbox)
	case workqueue.Logout:
		return c.logout(ctx)
	case workqueue.Close:
		// Nothing is selected in Authenticated; a stray Close is a no-op.
		return nil
	default:
		// FetchBodyStructure/FetchBodySections require a selection;
		// the queue only stamps these `selected` when one exists, but an
		// item surviving to here with no selection is dropped rather
		// than blocking the loop forever.
		return nil
	}
}

func (c *Conn) logout(ctx context.Context) error {
	tag := c.nextTag()
	_, err := c.runCommand(ctx, tag, imapwire.NewFormatter().Tag(tag).Atom("LOGOUT").CRLF())
	c.state = stateTerminated
	if err != nil {
		return nil // BYE on logout is expected; a transport error here is not fatal to reporting quit
	}
	return nil
}

// refreshList issues LIST "" "*", reconciles the result with the
// cache, and commits at the end of the refresh.
func (c *Conn) refreshList(ctx context.Context) error {
	var listed []*imapwire.UntaggedResp
	pop := c.dispatch.Push("LIST", func(u *imapwire.UntaggedResp) bool {
		listed = append(listed, u)
		return true
	})
	defer pop()

	tag := c.nextTag()
	tagged, err := c.runCommand(ctx, tag, imapwire.FormatList(tag, "", "*"))
	if err != nil {
		return protocolErr("list", err)
	}
	if tagged.Status != imapwire.StatusOK {
		return protocolErr("list", fmt.Errorf("LIST failed: %s", tagged.Text.Text))
	}

	txn, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(listed))
	for _, u := range listed {
		mb := cache.Mailbox{
			Name:  u.Mailbox,
			Flags: u.MailboxFlags,
		}
		if u.HasDelimiter {
			mb.Delimiter = u.Delimiter
			mb.HasDelimiter = true
		}
		txn.UpsertMailbox(mb)
		names = append(names, u.Mailbox)
	}
	txn.ReconcileListing(names)
	return txn.Commit()
}

// selectMailbox issues EXAMINE, primes the in-memory UID/unseen
// tables, registers the persistent EXISTS/RECENT/EXPUNGE/FETCH
// handlers that keep those tables current for as long as the mailbox
// stays Selected, and transitions into Selected — or, on NO, fails the
// queued selected-state work and ends in Authenticated, leaving any
// previously selected mailbox.
func (c *Conn) selectMailbox(ctx context.Context, mailbox string) error {
	// A re-Select while already Selected (a Select item serviced by
	// runSelected) must not leave the previous mailbox's handlers on the
	// stack underneath the new ones.
	if c.popSelectedHandlers != nil {
		c.popSelectedHandlers()
		c.popSelectedHandlers = nil
	}

	var exists, uidValidity, uidNext uint32
	popExists := c.dispatch.Push("EXISTS", func(u *imapwire.UntaggedResp) bool {
		exists = u.Number
		return true
	})
	defer popExists()

	captureCode := func(u *imapwire.UntaggedResp) bool {
		if u.Text.Code == nil {
			return false
		}
		switch u.Text.Code.Name {
		case "UIDVALIDITY":
			fmt.Sscanf(firstOr(u.Text.Code.Args), "%d", &uidValidity)
		case "UIDNEXT":
			fmt.Sscanf(firstOr(u.Text.Code.Args), "%d", &uidNext)
		default:
			return false
		}
		return true
	}
	popOK := c.dispatch.Push("OK", captureCode)
	defer popOK()

	tag := c.nextTag()
	tagged, err := c.runCommand(ctx, tag, imapwire.FormatSelect(tag, mailbox, true))
	if err != nil {
		return protocolErr("select", err)
	}
	if tagged.Status != imapwire.StatusOK {
		c.queue.FailSelectedWork()
		c.leaveSelected()
		c.ui.UpdateStatus(fmt.Sprintf("cannot select %s: %s", mailbox, tagged.Text.Text), StatusError)
		return nil
	}
	captureCode(&imapwire.UntaggedResp{Text: tagged.Text})

	c.selectedMailbox = mailbox
	c.uidValidity = uidValidity
	c.existsKnown = exists
	c.recentKnown = 0
	c.backfillCursor = uidNext
	c.uids = nil
	c.unseen = make(map[uint32]bool)
	c.uidToGMMsgID = make(map[uint32]uint64)
	c.state = stateSelected
	c.popSelectedHandlers = c.registerSelectedHandlers(ctx)
	return nil
}

// leaveSelected tears down the persistent Selected-state handlers and
// resets the in-memory mailbox state, then drops back to
// Authenticated. Every path that exits Selected without going through
// an error return (a queued Close, a RefreshList round-trip, a SELECT
// that fails with NO, the BAD/CHECK demotion safety net) must call this so the next SELECT
// starts from a clean slate and the old mailbox's handlers never leak
// into the next one's dispatch lookups.
func (c *Conn) leaveSelected() {
	if c.popSelectedHandlers != nil {
		c.popSelectedHandlers()
		c.popSelectedHandlers = nil
	}
	c.selectedMailbox = ""
	c.uids = nil
	c.unseen = make(map[uint32]bool)
	c.uidToGMMsgID = make(map[uint32]uint64)
	c.existsKnown = 0
	c.recentKnown = 0
	c.backfillCursor = 0
	c.state = stateAuthenticated
}

func firstOr(args []string) string {
	if len(args) == 0 {
		return "0"
	}
	return args[0]
}

// runSelected services one iteration of the Selected work loop's
// priority order: queued work, new-message fetch, backfill, IDLE,
// block.
func (c *Conn) runSelected(ctx context.Context) error {
	if item, ok := c.queue.Pop(); ok {
		switch item.Kind {
		case workqueue.Close:
			c.leaveSelected()
			return nil
		case workqueue.RefreshList:
			mailbox := c.selectedMailbox // captured before leaveSelected clears it
			c.leaveSelected()            // service list refreshes from Authenticated, then return to Selected via a queued re-Select
			c.queue.Push(workqueue.Item{Kind: workqueue.RefreshList})
			c.queue.Push(workqueue.Item{Kind: workqueue.Select, Mailbox: mailbox})
			return nil
		case workqueue.FetchBodyStructure:
			return c.fetchBodyStructure(ctx, item.GMMsgID)
		case workqueue.FetchBodySections:
			return c.fetchBodySections(ctx, item.GMMsgID, item.Sections)
		case workqueue.Select:
			return c.selectMailbox(ctx, item.Mailbox)
		case workqueue.Logout:
			return c.logout(ctx)
		}
		return nil
	}

	if c.existsKnown > uint32(len(c.uids)) {
		return c.fetchNewMessages(ctx)
	}
	if c.backfillCursor > 1 {
		return c.backfillOneBatch(ctx)
	}
	if c.caps["IDLE"] {
		return c.enterIdle(ctx)
	}

	select {
	case <-c.queue.WaitForWork():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// labelForSelectedMailbox returns the X-GM-LABELS value Gmail omits
// for the currently selected mailbox.
func (c *Conn) labelForSelectedMailbox() (string, bool) {
	return gmaillabels.LabelForMailbox(c.selectedMailbox)
}
