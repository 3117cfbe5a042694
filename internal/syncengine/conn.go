// Package syncengine drives one Gmail IMAP connection through the
// Greeting → NotAuthenticated → Authenticated ↔ Selected state
// machine, keeping internal/cache consistent with the server and
// internal/workqueue fed with the work the UI boundary asks for.
package syncengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/larkmail/lark/internal/cache"
	"github.com/larkmail/lark/internal/imapwire"
	"github.com/larkmail/lark/internal/logging"
	"github.com/larkmail/lark/internal/optree"
	"github.com/larkmail/lark/internal/workqueue"
	"github.com/rs/zerolog"
)

type connState int

const (
	stateGreeting connState = iota
	stateNotAuthenticated
	stateAuthenticated
	stateSelected
	stateTerminated
)

// Conn drives one IMAP connection. Every exported method that talks
// to the server runs on the caller's goroutine — a single event
// selector collapses, in Go, to "one long-lived goroutine per Conn",
// so no field here needs a mutex except queue/store, which are
// already safe for concurrent use on their own.
type Conn struct {
	host     string
	username string
	password func() (string, error)

	net   *deadlineConn
	scan  *imapwire.LineScanner
	log   zerolog.Logger
	op    *optree.Op
	queue *workqueue.Queue
	store *cache.Store
	ui    UI

	dispatch *dispatchStack
	tagSeq   int
	state    connState

	caps map[string]bool

	selectedMailbox string
	uidValidity     uint32
	uids            []uint32
	unseen          map[uint32]bool
	uidToGMMsgID    map[uint32]uint64
	existsKnown     uint32
	recentKnown     uint32
	backfillCursor  uint32

	// popSelectedHandlers releases the persistent EXISTS/RECENT/EXPUNGE/
	// FETCH handlers selectMailbox registers for the Selected state; nil
	// whenever no mailbox is currently selected.
	popSelectedHandlers func()

	// fatalErr is set by a dispatch handler that hit a cache error it
	// has no way to return directly (handler's signature is bool, not
	// error); runCommand and handleIdleMessage check it after every
	// Dispatch call and surface it as a real connection error.
	fatalErr error

	idleTimeout time.Duration
}

// Config describes how to reach and authenticate to one account.
type Config struct {
	Host        string // "imap.gmail.com:993"
	Username    string
	Password    func() (string, error)
	TLSConfig   *tls.Config
	IdleTimeout time.Duration // default 29 minutes, to stay under Gmail's ~30min idle disconnect
}

// NewConn constructs a Conn bound to queue and store but does not
// dial yet; call Run to connect and drive the state machine until the
// connection terminates (cleanly via "logout" or fatally via a
// transport/protocol/auth error).
func NewConn(cfg Config, queue *workqueue.Queue, store *cache.Store, ui UI) *Conn {
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 29 * time.Minute
	}
	return &Conn{
		host:         cfg.Host,
		username:     cfg.Username,
		password:     cfg.Password,
		queue:        queue,
		store:        store,
		ui:           ui,
		dispatch:     newDispatchStack(),
		idleTimeout:  idleTimeout,
		caps:         make(map[string]bool),
		unseen:       make(map[uint32]bool),
		uidToGMMsgID: make(map[uint32]uint64),
	}
}

// Run dials the server and drives the connection until it terminates.
// A caller that wants automatic reconnect loops Run itself: a quit is
// a sentinel work item pushed onto the queue, not this function
// returning.
func (c *Conn) Run(ctx context.Context) error {
	rootOp := optree.Start("conn:" + c.host)
	c.op = rootOp
	defer rootOp.Done()

	c.log = logging.WithComponent("syncengine")

	tlsConfig := &tls.Config{ServerName: hostOnly(c.host)}
	conn, err := dial(ctx, rootOp, c.host, tlsConfig)
	if err != nil {
		c.ui.UpdateStatus(fmt.Sprintf("connect failed: %v", err), StatusError)
		return err
	}
	c.net = conn
	c.scan = imapwire.NewLineScanner()
	defer c.net.Close()

	c.state = stateGreeting
	for c.state != stateTerminated {
		var err error
		switch c.state {
		case stateGreeting:
			err = c.runGreeting(ctx)
		case stateNotAuthenticated:
			err = c.runNotAuthenticated(ctx)
		case stateAuthenticated:
			err = c.runAuthenticated(ctx)
		case stateSelected:
			err = c.runSelected(ctx)
		}
		if err != nil {
			c.ui.UpdateStatus(err.Error(), StatusError)
			c.queue.FailSelectedWork()
			return err
		}
	}
	return nil
}

func hostOnly(hostport string) string {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}

func (c *Conn) nextTag() string {
	c.tagSeq++
	return "a" + strconv.Itoa(c.tagSeq)
}

// sendCommand writes f's bytes to the connection, pausing at every
// checkpoint to read a continuation response first.
func (c *Conn) sendCommand(ctx context.Context, f *imapwire.Formatter) error {
	buf := f.Bytes()
	cursor := 0
	for _, cp := range f.Checkpoints() {
		if _, err := c.net.Write(buf[cursor:cp.Offset]); err != nil {
			return transportErr("send", err)
		}
		cursor = cp.Offset
		resp, err := c.readResponse(ctx)
		if err != nil {
			return err
		}
		if resp.Continuation == nil {
			return protocolErr("send", fmt.Errorf("expected continuation, got %+v", resp))
		}
	}
	if _, err := c.net.Write(buf[cursor:]); err != nil {
		return transportErr("send", err)
	}
	return nil
}

// readResponse blocks for exactly one server line and parses it.
// ErrShortRead from the scanner drives further conn.Read calls; it is
// never surfaced to the caller as an error.
func (c *Conn) readResponse(ctx context.Context) (*imapwire.Response, error) {
	readBuf := make([]byte, 4096)
	for {
		line, err := c.scan.Peek()
		if err == nil {
			c.scan.Commit()
			resp, perr := imapwire.ParseResponse(line)
			if perr != nil {
				return nil, parseErr("parse", perr)
			}
			return resp, nil
		}
		if err != imapwire.ErrShortRead {
			return nil, transportErr("read", err)
		}
		n, rerr := c.readWithContext(ctx, readBuf)
		if rerr != nil {
			if rerr == io.EOF {
				return nil, transportErr("read", io.ErrUnexpectedEOF)
			}
			return nil, transportErr("read", rerr)
		}
		if werr := c.scan.Write(readBuf[:n]); werr != nil {
			return nil, transportErr("read", werr)
		}
	}
}

func (c *Conn) readWithContext(ctx context.Context, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := c.net.Read(buf)
		done <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		c.net.Close()
		return 0, ctx.Err()
	case r := <-done:
		return r.n, r.err
	}
}

// runCommand sends f, then reads responses until the tagged response
// matching tag arrives, dispatching every untagged response it sees
// along the way. An untagged response that neither the dispatch stack
// nor handleCommonUntagged handles is logged at warning level and
// skipped; an error a handler left in fatalErr is returned.
func (c *Conn) runCommand(ctx context.Context, tag string, f *imapwire.Formatter) (*imapwire.TaggedResp, error) {
	if err := c.sendCommand(ctx, f); err != nil {
		return nil, err
	}
	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Tagged != nil:
			if resp.Tagged.Tag != tag {
				return nil, protocolErr("runCommand", fmt.Errorf("tag mismatch: want %s got %s", tag, resp.Tagged.Tag))
			}
			return resp.Tagged, nil
		case resp.Untagged != nil:
			if !c.dispatch.Dispatch(resp.Untagged) && !c.handleCommonUntagged(resp.Untagged) {
				c.log.Warn().Msg("unhandled untagged response: " + resp.Untagged.Type)
			}
			if c.fatalErr != nil {
				err := c.fatalErr
				c.fatalErr = nil
				return nil, err
			}
		case resp.Continuation != nil:
			return nil, protocolErr("runCommand", fmt.Errorf("unexpected continuation"))
		}
	}
}

// handleCommonUntagged services the handful of untagged responses
// every state must react to regardless of which command is in
// flight: bare status lines, where a UIDVALIDITY that differs from the
// selected mailbox's ends the connection through fatalErr, and
// CAPABILITY, whose names are recorded upper-cased.
func (c *Conn) handleCommonUntagged(u *imapwire.UntaggedResp) bool {
	switch u.Type {
	case "OK", "NO", "BAD", "PREAUTH", "BYE":
		if u.Text.Code != nil && u.Text.Code.Name == "UIDVALIDITY" && len(u.Text.Code.Args) == 1 {
			c.log.Debug().Msg("server reported UIDVALIDITY " + u.Text.Code.Args[0])
			var v uint32
			fmt.Sscanf(u.Text.Code.Args[0], "%d", &v)
			if c.state == stateSelected && c.uidValidity != 0 && v != c.uidValidity {
				c.fatalErr = protocolErr("uidvalidity", fmt.Errorf("UIDVALIDITY of %s changed from %d to %d", c.selectedMailbox, c.uidValidity, v))
			}
		}
		return true
	case "CAPABILITY":
		c.caps = make(map[string]bool, len(u.Caps))
		for _, cp := range u.Caps {
			c.caps[strings.ToUpper(cp)] = true
		}
		return true
	}
	return false
}
