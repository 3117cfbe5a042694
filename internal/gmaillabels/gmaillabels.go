// Package gmaillabels maps between Gmail's reserved "[Gmail]/*"
// special-use mailboxes and the X-GM-LABELS values a message carries
// for them, per the hard-coded table Gmail's own clients use (Gmail
// does not advertise this mapping over IMAP: a message filed under
// "[Gmail]/Starred" shows up in X-GM-LABELS as "\\Starred", not as a
// literal mailbox name).
package gmaillabels

import "strings"

// Entry pairs one reserved mailbox with the label Gmail uses for it.
type Entry struct {
	Mailbox string
	Label   string
}

// table is ordered the way Gmail's own web UI lists these mailboxes;
// callers that want a stable display order can range over it
// directly instead of sorting a map.
var table = []Entry{
	{Mailbox: "INBOX", Label: "\\Inbox"},
	{Mailbox: "[Gmail]/Starred", Label: "\\Starred"},
	{Mailbox: "[Gmail]/Important", Label: "\\Important"},
	{Mailbox: "[Gmail]/Sent Mail", Label: "\\Sent"},
	{Mailbox: "[Gmail]/Drafts", Label: "\\Draft"},
	{Mailbox: "[Gmail]/All Mail", Label: "\\All"},
	{Mailbox: "[Gmail]/Spam", Label: "\\Spam"},
	{Mailbox: "[Gmail]/Trash", Label: "\\Trash"},
}

// Older Gmail accounts and some locales use "[Google Mail]" as the
// parent instead of "[Gmail]" — same labels, different prefix.
const altPrefix = "[Google Mail]/"
const prefix = "[Gmail]/"

var mailboxToLabel map[string]string
var labelToMailbox map[string]string

func init() {
	mailboxToLabel = make(map[string]string, len(table)*2)
	labelToMailbox = make(map[string]string, len(table))
	for _, e := range table {
		mailboxToLabel[e.Mailbox] = e.Label
		labelToMailbox[e.Label] = e.Mailbox
		if strings.HasPrefix(e.Mailbox, prefix) {
			mailboxToLabel[altPrefix+strings.TrimPrefix(e.Mailbox, prefix)] = e.Label
		}
	}
}

// LabelForMailbox returns the X-GM-LABELS value a reserved mailbox's
// presence corresponds to, if it is one of Gmail's special-use
// mailboxes.
func LabelForMailbox(mailbox string) (label string, ok bool) {
	label, ok = mailboxToLabel[mailbox]
	return label, ok
}

// MailboxForLabel returns the reserved mailbox a special-use label
// corresponds to, if any.
func MailboxForLabel(label string) (mailbox string, ok bool) {
	mailbox, ok = labelToMailbox[label]
	return mailbox, ok
}

// IsSpecialUse reports whether mailbox is one of Gmail's reserved
// mailboxes (INBOX or any "[Gmail]/*"/"[Google Mail]/*" entry).
func IsSpecialUse(mailbox string) bool {
	_, ok := mailboxToLabel[mailbox]
	return ok
}
