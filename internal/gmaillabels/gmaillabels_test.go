package gmaillabels

import "testing"

func TestLabelForMailbox(t *testing.T) {
	label, ok := LabelForMailbox("[Gmail]/Sent Mail")
	if !ok || label != "\\Sent" {
		t.Fatalf("got %q, %v", label, ok)
	}
}

func TestMailboxForLabel(t *testing.T) {
	mailbox, ok := MailboxForLabel("\\Trash")
	if !ok || mailbox != "[Gmail]/Trash" {
		t.Fatalf("got %q, %v", mailbox, ok)
	}
}

func TestGoogleMailPrefixAlias(t *testing.T) {
	label, ok := LabelForMailbox("[Google Mail]/Sent Mail")
	if !ok || label != "\\Sent" {
		t.Fatalf("got %q, %v", label, ok)
	}
}

func TestNonSpecialMailbox(t *testing.T) {
	if IsSpecialUse("Archive") {
		t.Fatal("Archive should not be special-use")
	}
}
