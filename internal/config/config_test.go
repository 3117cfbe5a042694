package config

import (
	"strings"
	"testing"
)

func TestParseValidAccount(t *testing.T) {
	src := `
[user]
name = alice@gmail.com

[imap]
host = imap.gmail.com:993
password_cmd = echo hunter2
`
	acct, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if acct.UserName != "alice@gmail.com" || acct.IMAPHost != "imap.gmail.com:993" {
		t.Fatalf("got %+v", acct)
	}
	pw, err := acct.Password()
	if err != nil {
		t.Fatalf("Password: %v", err)
	}
	if pw != "hunter2" {
		t.Fatalf("got password %q", pw)
	}
}

func TestParseUnknownKeyRejected(t *testing.T) {
	src := "[imap]\nhost = imap.gmail.com:993\nfoo = bar\n"
	_, err := Parse(strings.NewReader(src))
	var uie *UserIntentError
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !asUserIntentError(err, &uie) {
		t.Fatalf("expected *UserIntentError, got %T: %v", err, err)
	}
}

func TestParseKeyOutsideSectionRejected(t *testing.T) {
	_, err := Parse(strings.NewReader("name = alice\n"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseMissingRequiredKey(t *testing.T) {
	_, err := Parse(strings.NewReader("[user]\nname = alice\n"))
	if err == nil {
		t.Fatal("expected error for missing imap.host")
	}
}

func TestParseCommentsAndBlankLinesIgnored(t *testing.T) {
	src := `
# a comment
; another comment

[user]
name = alice@gmail.com

[imap]
host = imap.gmail.com:993
password_cmd = echo x
`
	if _, err := Parse(strings.NewReader(src)); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func asUserIntentError(err error, target **UserIntentError) bool {
	if uie, ok := err.(*UserIntentError); ok {
		*target = uie
		return true
	}
	return false
}
