package cache

import "testing"

func TestSortMailboxesBucketsAndCaseTieBreak(t *testing.T) {
	names := []string{"INBOX", "apple", "ábacus", "Apple", "[Gmail]/All Mail", "aardvark"}
	mbs := make([]Mailbox, len(names))
	for i, n := range names {
		mbs[i] = Mailbox{Name: n, DisplayName: n}
	}

	SortMailboxes(mbs)

	want := []string{"INBOX", "aardvark", "ábacus", "Apple", "apple", "[Gmail]/All Mail"}
	if len(mbs) != len(want) {
		t.Fatalf("got %d mailboxes, want %d", len(mbs), len(want))
	}
	for i, w := range want {
		if mbs[i].Name != w {
			t.Fatalf("position %d: got %q, want %q (full order: %v)", i, mbs[i].Name, w, namesOf(mbs))
		}
	}
}

func namesOf(mbs []Mailbox) []string {
	out := make([]string, len(mbs))
	for i, mb := range mbs {
		out[i] = mb.Name
	}
	return out
}
