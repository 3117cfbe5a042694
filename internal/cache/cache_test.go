package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndListMailboxes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	exists := uint32(10)
	txn.UpsertMailbox(Mailbox{Name: "INBOX", Flags: []string{"\\HasNoChildren"}, Exists: &exists})
	txn.UpsertMailbox(Mailbox{Name: "[Gmail]/Sent Mail"})
	txn.UpsertMailbox(Mailbox{Name: "Archive"})
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	mbs, err := s.ListMailboxes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mbs) != 3 {
		t.Fatalf("got %d mailboxes, want 3", len(mbs))
	}
	if mbs[0].Name != "INBOX" {
		t.Fatalf("expected INBOX first, got %q", mbs[0].Name)
	}
	if mbs[2].Name != "[Gmail]/Sent Mail" {
		t.Fatalf("expected [Gmail]/* last, got %q", mbs[2].Name)
	}
	if mbs[1].Name != "Archive" {
		t.Fatalf("expected Archive in the middle, got %q", mbs[1].Name)
	}
}

func TestMessageAndUIDBindingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	txn.UpsertMailbox(Mailbox{Name: "INBOX"})
	txn.UpsertMessage(Message{
		GMMsgID:      42,
		GMThrID:      7,
		InternalDate: time.Unix(1700000000, 0).UTC(),
		Flags:        map[string]bool{"\\Seen": true},
		Labels:       map[string]bool{"Work": true},
	})
	txn.BindUID("INBOX", 99, 42)
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	m, ok, err := s.GetMessage(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if !m.Flags["\\Seen"] || !m.Labels["Work"] {
		t.Fatalf("got %+v", m)
	}

	uids, err := s.ListUIDsDescending(ctx, "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 1 || uids[0].UID != 99 || uids[0].GMMsgID != 42 {
		t.Fatalf("got %+v", uids)
	}
}

func TestUnbindUIDOnExpunge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Begin(ctx)
	txn.UpsertMailbox(Mailbox{Name: "INBOX"})
	txn.UpsertMessage(Message{GMMsgID: 1, InternalDate: time.Unix(1, 0)})
	txn.BindUID("INBOX", 5, 1)
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, _ := s.Begin(ctx)
	txn2.UnbindUID("INBOX", 5)
	if err := txn2.Commit(); err != nil {
		t.Fatal(err)
	}

	uids, err := s.ListUIDsDescending(ctx, "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 0 {
		t.Fatalf("expected no bindings after unbind, got %+v", uids)
	}
}

func TestReconcileListingRemovesStaleMailboxes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Begin(ctx)
	txn.UpsertMailbox(Mailbox{Name: "INBOX"})
	txn.UpsertMailbox(Mailbox{Name: "Old Mailbox"})
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, _ := s.Begin(ctx)
	txn2.ReconcileListing([]string{"INBOX"})
	if err := txn2.Commit(); err != nil {
		t.Fatal(err)
	}

	mbs, err := s.ListMailboxes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mbs) != 1 || mbs[0].Name != "INBOX" {
		t.Fatalf("got %+v", mbs)
	}
}

func TestBodySectionWriteOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txn, _ := s.Begin(ctx)
	txn.UpsertMessage(Message{GMMsgID: 1, InternalDate: time.Unix(1, 0)})
	txn.PutBodySection(1, "TEXT", []byte("hello"))
	txn.PutBodySection(1, "TEXT", []byte("clobbered?"))
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	content, ok, err := s.GetBodySection(ctx, 1, "TEXT")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(content) != "hello" {
		t.Fatalf("body section was overwritten: got %q", content)
	}
}

func TestSubscribeReceivesMailboxListEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var got []Event
	s.Subscribe(func(e Event) { got = append(got, e) })

	txn, _ := s.Begin(ctx)
	txn.UpsertMailbox(Mailbox{Name: "INBOX"})
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0].Kind != EventMailboxListChanged || got[0].Mailbox != "INBOX" {
		t.Fatalf("got %+v", got)
	}
}
