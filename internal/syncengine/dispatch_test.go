package syncengine

import (
	"testing"

	"github.com/larkmail/lark/internal/imapwire"
)

func TestDispatchStackNewestWins(t *testing.T) {
	d := newDispatchStack()
	var order []string
	d.Push("EXISTS", func(*imapwire.UntaggedResp) bool { order = append(order, "first"); return false })
	d.Push("EXISTS", func(*imapwire.UntaggedResp) bool { order = append(order, "second"); return true })

	handled := d.Dispatch(&imapwire.UntaggedResp{Type: "EXISTS"})
	if !handled {
		t.Fatal("expected dispatch to be handled")
	}
	if len(order) != 1 || order[0] != "second" {
		t.Fatalf("expected only the newest handler to run, got %v", order)
	}
}

func TestDispatchStackPopRemovesHandler(t *testing.T) {
	d := newDispatchStack()
	calls := 0
	pop := d.Push("EXPUNGE", func(*imapwire.UntaggedResp) bool { calls++; return true })
	pop()

	if d.Dispatch(&imapwire.UntaggedResp{Type: "EXPUNGE"}) {
		t.Fatal("expected no handler to remain after Pop")
	}
	if calls != 0 {
		t.Fatalf("expected popped handler not to run, got %d calls", calls)
	}
}

func TestDispatchStackUnknownTypeUnhandled(t *testing.T) {
	d := newDispatchStack()
	if d.Dispatch(&imapwire.UntaggedResp{Type: "FLAGS"}) {
		t.Fatal("expected unhandled result for a type with no registered handler")
	}
}
