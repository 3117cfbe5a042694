package cache

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/larkmail/lark/internal/imapwire/utf7mod"
)

// mailboxBucket orders mailboxes into the three display groups every
// Gmail client uses: INBOX always first, ordinary mailboxes in the
// locale-aware middle, and the reserved "[Gmail]/*" hierarchy always
// last.
func mailboxBucket(name string) int {
	switch {
	case strings.EqualFold(name, "INBOX"):
		return 0
	case strings.HasPrefix(name, "[Gmail]/") || strings.HasPrefix(name, "[Google Mail]/"):
		return 2
	default:
		return 1
	}
}

var mailboxCollator = collate.New(language.Und, collate.IgnoreCase)

// SortMailboxes orders mbs in place per the three-bucket rule above,
// tie-broken within the middle bucket by locale-aware collation of
// each mailbox's decoded display name. The ordering is done as a plain
// SQL fetch followed by an in-Go INBOX-first re-sort rather than a
// registered SQL collation.
func SortMailboxes(mbs []Mailbox) {
	sort.SliceStable(mbs, func(i, j int) bool {
		bi, bj := mailboxBucket(mbs[i].Name), mailboxBucket(mbs[j].Name)
		if bi != bj {
			return bi < bj
		}
		if c := mailboxCollator.CompareString(mbs[i].DisplayName, mbs[j].DisplayName); c != 0 {
			return c < 0
		}
		// The collator folds case, so "Apple" and "apple" compare
		// equal; break the tie with a plain byte comparison rather
		// than leave case-variant names in input order.
		return strings.Compare(mbs[i].DisplayName, mbs[j].DisplayName) < 0
	})
}

// DecodeDisplayName best-effort decodes a raw server-form mailbox
// name to UTF-8 for display, falling back to the raw bytes unchanged
// if they are not valid Modified UTF-7 — a malformed name from a
// misbehaving server should still be visible, not hidden.
func DecodeDisplayName(raw string) string {
	decoded, err := utf7mod.Decode(raw)
	if err != nil {
		return raw
	}
	return decoded
}
