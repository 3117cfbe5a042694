package syncengine

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/larkmail/lark/internal/cache"
	"github.com/larkmail/lark/internal/imapwire"
)

// seedSelectedMailbox puts c into Selected on mailbox with the given
// live UID array, registering the persistent handlers the same way
// selectMailbox does, and seeds the cache with one mailbox row plus
// one gmail_messages/gmail_mailbox_uids row per uid/gmMsgID pair.
func seedSelectedMailbox(t *testing.T, ctx context.Context, c *Conn, mailbox string, uidToMsg map[uint32]uint64) {
	t.Helper()
	if c.popSelectedHandlers != nil {
		c.popSelectedHandlers()
		c.popSelectedHandlers = nil
	}
	txn, err := c.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	txn.UpsertMailbox(cache.Mailbox{Name: mailbox})
	for uid, gmMsgID := range uidToMsg {
		txn.UpsertMessage(cache.Message{GMMsgID: gmMsgID, Flags: map[string]bool{`\Seen`: true}, Labels: map[string]bool{"Important": true}})
		txn.BindUID(mailbox, uid, gmMsgID)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c.selectedMailbox = mailbox
	c.state = stateSelected
	c.uids = nil
	c.unseen = make(map[uint32]bool)
	c.uidToGMMsgID = make(map[uint32]uint64)
	for uid, gmMsgID := range uidToMsg {
		c.uidToGMMsgID[uid] = gmMsgID
	}
	c.existsKnown = uint32(len(uidToMsg))
	c.popSelectedHandlers = c.registerSelectedHandlers(ctx)
}

func TestPersistentHandlersSurviveMultipleDispatchCycles(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx := context.Background()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{10: 100})

	// Simulate three separate IDLE cycles each reporting a growing
	// EXISTS count; the handler registered once at selectMailbox time
	// must still be live for every one of them.
	for i, want := range []uint32{2, 5, 9} {
		c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "EXISTS", Number: want})
		if c.existsKnown != want {
			t.Fatalf("cycle %d: expected existsKnown=%d, got %d", i, want, c.existsKnown)
		}
	}

	c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "RECENT", Number: 3})
	if c.recentKnown != 3 {
		t.Fatalf("expected recentKnown=3, got %d", c.recentKnown)
	}

	c.popSelectedHandlers()
	c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "EXISTS", Number: 99})
	if c.existsKnown == 99 {
		t.Fatal("expected popped handler to no longer update existsKnown")
	}
}

func TestUnsolicitedExpungeDuringIdle(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx := context.Background()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{10: 100, 20: 200, 30: 300})
	c.uids = []uint32{10, 20, 30}
	c.existsKnown = 3
	c.unseen[20] = true

	c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "EXPUNGE", Number: 2})

	if c.fatalErr != nil {
		t.Fatalf("unexpected fatalErr: %v", c.fatalErr)
	}
	if got := c.uids; len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Fatalf("expected uids=[10 30], got %v", got)
	}
	if c.existsKnown != 2 {
		t.Fatalf("expected existsKnown=2, got %d", c.existsKnown)
	}
	if c.unseen[20] {
		t.Fatal("expected unseen[20] to be discarded")
	}
	if _, ok := c.uidToGMMsgID[20]; ok {
		t.Fatal("expected uidToGMMsgID[20] to be discarded")
	}

	bindings, err := c.store.ListUIDsDescending(ctx, "INBOX", 10)
	if err != nil {
		t.Fatalf("ListUIDsDescending: %v", err)
	}
	for _, b := range bindings {
		if b.UID == 20 {
			t.Fatal("expected uid 20's binding to be deleted from the cache")
		}
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 remaining bindings, got %d: %+v", len(bindings), bindings)
	}
}

func TestUnsolicitedFetchUpdatesFlagsWithoutClobberingLabels(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx := context.Background()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{10: 100})
	c.uids = []uint32{10}
	c.unseen[10] = false // currently seen

	c.dispatch.Dispatch(&imapwire.UntaggedResp{
		Type:     "FETCH",
		FetchSeq: 1,
		FetchAttr: &imapwire.FetchAttrs{
			UID: 10, HasUID: true,
			Flags: []string{`\Answered`}, HasFlags: true,
		},
	})

	if c.fatalErr != nil {
		t.Fatalf("unexpected fatalErr: %v", c.fatalErr)
	}
	if !c.unseen[10] {
		t.Fatal("expected unseen[10] to flip true: the push's FLAGS no longer include \\Seen")
	}

	msg, ok, err := c.store.GetMessage(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if msg.Flags[`\Seen`] || !msg.Flags[`\Answered`] {
		t.Fatalf("expected Flags to be replaced with just \\Answered, got %+v", msg.Flags)
	}
	if !msg.Labels["Important"] {
		t.Fatalf("expected Labels to survive untouched since this push reported no X-GM-LABELS, got %+v", msg.Labels)
	}
}

func TestUnsolicitedFetchUnknownUIDIsIgnored(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx := context.Background()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{})
	c.uids = nil

	// A push for a sequence number with nothing yet known must not
	// panic and must leave fatalErr unset: the upcoming regular fetch
	// will pick this message up instead.
	c.dispatch.Dispatch(&imapwire.UntaggedResp{
		Type:      "FETCH",
		FetchSeq:  1,
		FetchAttr: &imapwire.FetchAttrs{Flags: []string{`\Seen`}, HasFlags: true},
	})
	if c.fatalErr != nil {
		t.Fatalf("unexpected fatalErr: %v", c.fatalErr)
	}
}

func TestSelectMailboxReplacesHandlersOnReSelect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{10: 100})

	// Re-selecting must pop the old handler before installing a new one,
	// rather than leaving a now-stale handler underneath it on the stack.
	serverScript(t, server, func(r *bufio.Reader, w net.Conn) {
		r.ReadString('\n') // a1 EXAMINE Archive
		writeLine(t, w, "a1 OK [READ-ONLY] EXAMINE completed")
	})
	if err := c.selectMailbox(ctx, "Archive"); err != nil {
		t.Fatalf("selectMailbox: %v", err)
	}

	live := 0
	for _, h := range c.dispatch.byType["EXISTS"] {
		if h != nil {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live EXISTS handler after re-select, got %d", live)
	}

	c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "EXISTS", Number: 7})
	if c.existsKnown != 7 {
		t.Fatalf("expected the second registration to be the one responding, got existsKnown=%d", c.existsKnown)
	}
}

func TestLeaveSelectedResetsStateAndPopsHandlers(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConn(t, client)

	ctx := context.Background()
	seedSelectedMailbox(t, ctx, c, "INBOX", map[uint32]uint64{10: 100})
	c.uids = []uint32{10}

	c.leaveSelected()

	if c.state != stateAuthenticated {
		t.Fatalf("expected Authenticated, got %v", c.state)
	}
	if c.selectedMailbox != "" || len(c.uids) != 0 || len(c.unseen) != 0 || len(c.uidToGMMsgID) != 0 {
		t.Fatalf("expected mailbox state cleared, got %+v", c)
	}
	if c.popSelectedHandlers != nil {
		t.Fatal("expected popSelectedHandlers cleared")
	}

	// The popped handler must no longer react to further pushes.
	c.dispatch.Dispatch(&imapwire.UntaggedResp{Type: "EXISTS", Number: 42})
	if c.existsKnown == 42 {
		t.Fatal("expected handler to be inert after leaveSelected")
	}
}

