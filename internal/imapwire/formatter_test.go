package imapwire

import (
	"strings"
	"testing"
)

func TestFormatLoginPasswordUsesShortestSafeForm(t *testing.T) {
	// A plain ASCII password with no atom-specials goes out as a bare atom.
	f := FormatLogin("a1", "user@example.com", "hunter2")
	if got := string(f.Bytes()); got != "a1 LOGIN user@example.com hunter2\r\n" {
		t.Fatalf("got %q", got)
	}
	if len(f.Checkpoints()) != 0 {
		t.Fatalf("expected no checkpoints for an atom-safe password, got %d", len(f.Checkpoints()))
	}

	// Quotes and backslashes aren't atom-safe but are quoted-string safe,
	// so they go out escaped rather than as a literal.
	f = FormatLogin("a2", "user@example.com", `p"ss\word`)
	got := string(f.Bytes())
	if !strings.HasSuffix(got, "\"p\\\"ss\\\\word\"\r\n") {
		t.Fatalf("expected escaped quoted password, got %q", got)
	}
	if len(f.Checkpoints()) != 0 {
		t.Fatalf("expected no checkpoints for a quoted password, got %d", len(f.Checkpoints()))
	}

	// An 8-bit byte can't appear in a quoted string, forcing a literal.
	f = FormatLogin("a3", "user@example.com", "p\xffss")
	got = string(f.Bytes())
	if !strings.Contains(got, "{4}\r\n") {
		t.Fatalf("expected password literal header, got %q", got)
	}
	if len(f.Checkpoints()) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(f.Checkpoints()))
	}
	if !strings.HasSuffix(got, "p\xffss\r\n") {
		t.Fatalf("password bytes not written verbatim: %q", got)
	}
}

func TestFormatSelectReadOnlyUsesExamine(t *testing.T) {
	f := FormatSelect("a2", "INBOX", true)
	if string(f.Bytes()) != "a2 EXAMINE INBOX\r\n" {
		t.Fatalf("got %q", f.Bytes())
	}
}

func TestMailboxEncodesNonASCII(t *testing.T) {
	f := NewFormatter().Mailbox("Entwürfe").CRLF()
	got := string(f.Bytes())
	if !strings.Contains(got, "Entw&APw-rfe") {
		t.Fatalf("expected modified utf-7 mailbox name, got %q", got)
	}
}

func TestAStringChoosesShortestForm(t *testing.T) {
	if got := string(NewFormatter().AString("plain").Bytes()); got != "plain" {
		t.Fatalf("expected atom form, got %q", got)
	}
	if got := string(NewFormatter().AString("has space").Bytes()); got != `"has space"` {
		t.Fatalf("expected quoted form, got %q", got)
	}
}
