package imapwire

import "testing"

func mustParse(t *testing.T, line string) *Response {
	t.Helper()
	resp, err := ParseResponse([]byte(line))
	if err != nil {
		t.Fatalf("ParseResponse(%q): %v", line, err)
	}
	return resp
}

func TestParseGreeting(t *testing.T) {
	resp := mustParse(t, "* OK [CAPABILITY IMAP4rev1 IDLE] Gimap ready\r\n")
	if resp.Untagged == nil || resp.Untagged.Type != "OK" {
		t.Fatalf("got %+v", resp)
	}
	if resp.Untagged.Text.Code == nil || resp.Untagged.Text.Code.Name != "CAPABILITY" {
		t.Fatalf("missing CAPABILITY code: %+v", resp.Untagged.Text)
	}
}

func TestParseTaggedOK(t *testing.T) {
	resp := mustParse(t, "a1 OK [UIDVALIDITY 123456] SELECT completed\r\n")
	if resp.Tagged == nil || resp.Tagged.Status != StatusOK {
		t.Fatalf("got %+v", resp)
	}
	if resp.Tagged.Text.Code.Name != "UIDVALIDITY" || resp.Tagged.Text.Code.Args[0] != "123456" {
		t.Fatalf("got %+v", resp.Tagged.Text.Code)
	}
}

func TestParseContinuation(t *testing.T) {
	resp := mustParse(t, "+ Ready for additional command text\r\n")
	if resp.Continuation == nil || resp.Continuation.Text != "Ready for additional command text" {
		t.Fatalf("got %+v", resp)
	}
}

func TestParseExistsRecent(t *testing.T) {
	resp := mustParse(t, "* 172 EXISTS\r\n")
	if resp.Untagged.Type != "EXISTS" || resp.Untagged.Number != 172 {
		t.Fatalf("got %+v", resp.Untagged)
	}
}

func TestParseListWithDelimiter(t *testing.T) {
	resp := mustParse(t, "* LIST (\\HasNoChildren) \"/\" \"[Gmail]/Sent Mail\"\r\n")
	u := resp.Untagged
	if u.Type != "LIST" || u.Delimiter != '/' || u.Mailbox != "[Gmail]/Sent Mail" {
		t.Fatalf("got %+v", u)
	}
	if len(u.MailboxFlags) != 1 || u.MailboxFlags[0] != "\\HasNoChildren" {
		t.Fatalf("got flags %+v", u.MailboxFlags)
	}
}

func TestParseESearchAll(t *testing.T) {
	resp := mustParse(t, "* ESEARCH (TAG \"a5\") UID ALL 1,3:5,9\r\n")
	es := resp.Untagged.ESearch
	if es == nil || !es.UID {
		t.Fatalf("got %+v", resp.Untagged)
	}
	want := []uint32{1, 3, 4, 5, 9}
	if len(es.All) != len(want) {
		t.Fatalf("got %v, want %v", es.All, want)
	}
	for i := range want {
		if es.All[i] != want[i] {
			t.Fatalf("got %v, want %v", es.All, want)
		}
	}
}

func TestParseFetchWithGmailExtensions(t *testing.T) {
	line := "* 42 FETCH (UID 9001 X-GM-MSGID 1278455344230334865 X-GM-THRID 1266894439832287888 " +
		"X-GM-LABELS (\"\\\\Important\" \"Work\") FLAGS (\\Seen) INTERNALDATE \"17-Jul-1996 02:44:25 -0700\")\r\n"
	resp := mustParse(t, line)
	a := resp.Untagged.FetchAttr
	if a.UID != 9001 || a.GMMsgID != 1278455344230334865 || a.GMThrID != 1266894439832287888 {
		t.Fatalf("got %+v", a)
	}
	if len(a.GMLabels) != 2 || a.GMLabels[1] != "Work" {
		t.Fatalf("got labels %+v", a.GMLabels)
	}
	if len(a.Flags) != 1 || a.Flags[0] != "\\Seen" {
		t.Fatalf("got flags %+v", a.Flags)
	}
}

func TestParseFetchEnvelope(t *testing.T) {
	line := "* 1 FETCH (ENVELOPE (\"Mon, 1 Jan 2024 00:00:00 +0000\" \"hello\" " +
		"((\"A\" NIL \"a\" \"example.com\")) ((\"A\" NIL \"a\" \"example.com\")) " +
		"((\"A\" NIL \"a\" \"example.com\")) ((\"B\" NIL \"b\" \"example.com\")) " +
		"NIL NIL NIL \"<id@example.com>\"))\r\n"
	resp := mustParse(t, line)
	env := resp.Untagged.FetchAttr.Envelope
	if env.Subject != "hello" || env.MessageID != "<id@example.com>" {
		t.Fatalf("got %+v", env)
	}
	if len(env.From) != 1 || env.From[0].Mailbox != "a" {
		t.Fatalf("got from %+v", env.From)
	}
}

func TestParseFetchBodySection(t *testing.T) {
	resp := mustParse(t, "* 1 FETCH (BODY[TEXT] {5}\r\nhello)\r\n")
	a := resp.Untagged.FetchAttr
	if string(a.BodySections["TEXT"]) != "hello" {
		t.Fatalf("got %+v", a.BodySections)
	}
}

func TestParseCapability(t *testing.T) {
	resp := mustParse(t, "* CAPABILITY IMAP4rev1 IDLE CONDSTORE X-GM-EXT-1\r\n")
	caps := resp.Untagged.Caps
	if len(caps) != 4 || caps[3] != "X-GM-EXT-1" {
		t.Fatalf("got %+v", caps)
	}
}

func TestParseBodyStructureBasic(t *testing.T) {
	resp := mustParse(t, "* 1 FETCH (BODYSTRUCTURE (\"TEXT\" \"PLAIN\" (\"CHARSET\" \"UTF-8\") NIL NIL \"7BIT\" 100 5))\r\n")
	bs := resp.Untagged.FetchAttr.BodyStructure
	if bs.Kind != BodyText || bs.Lines != 5 || bs.Params["CHARSET"] != "UTF-8" {
		t.Fatalf("got %+v", bs)
	}
}
