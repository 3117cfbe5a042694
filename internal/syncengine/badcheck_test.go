package syncengine

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/larkmail/lark/internal/imapwire"
)

func TestRunSelectedCommandDemotesOnCheckBAD(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := newTestConn(t, client)
	c.state = stateSelected
	c.selectedMailbox = "INBOX"

	serverScript(t, server, func(r *bufio.Reader, w net.Conn) {
		r.ReadString('\n') // a1 UID FETCH ...
		writeLine(t, w, "a1 BAD mailbox gone")
		r.ReadString('\n') // a2 CHECK
		writeLine(t, w, "a2 BAD no mailbox selected")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag := c.nextTag()
	_, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, "1:*", "UID"))
	if err != errSelectedDemoted {
		t.Fatalf("expected errSelectedDemoted, got %v", err)
	}
	if c.state != stateAuthenticated {
		t.Fatalf("expected demotion to Authenticated, got %v", c.state)
	}
}

func TestRunSelectedCommandReportsRealBADWhenCheckOK(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := newTestConn(t, client)
	c.state = stateSelected
	c.selectedMailbox = "INBOX"

	serverScript(t, server, func(r *bufio.Reader, w net.Conn) {
		r.ReadString('\n') // a1 UID FETCH ...
		writeLine(t, w, "a1 BAD unparsable command")
		r.ReadString('\n') // a2 CHECK
		writeLine(t, w, "a2 OK CHECK completed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag := c.nextTag()
	_, err := c.runSelectedCommand(ctx, tag, imapwire.FormatUIDFetch(tag, "1:*", "UID"))
	if err == nil || err == errSelectedDemoted {
		t.Fatalf("expected a real protocol error, got %v", err)
	}
	if c.state != stateSelected {
		t.Fatalf("expected state to remain Selected, got %v", c.state)
	}
}
