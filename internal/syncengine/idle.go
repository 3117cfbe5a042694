package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/larkmail/lark/internal/imapwire"
)

// enterIdle issues IDLE and blocks until either new work arrives or
// idleTimeout elapses, then sends DONE to leave IDLE — bounding how
// long IDLE runs uninterrupted avoids a server-side connection reap on
// providers that close long-idle sockets.
//
// Exactly one goroutine reads the connection for the whole episode
// (reader, below): the main goroutine only ever writes (the initial
// IDLE line, and later DONE) and selects over channels, preserving
// the single-reader-per-Conn invariant the rest of this package
// relies on.
func (c *Conn) enterIdle(ctx context.Context) error {
	tag := c.nextTag()
	if err := c.sendCommand(ctx, imapwire.FormatIdle(tag)); err != nil {
		return protocolErr("idle", err)
	}

	// A quiet IDLE reads nothing for up to idleTimeout, so the read
	// deadline is widened for this episode and restored once the reader
	// has delivered the tagged reply and exited.
	readTimeout := c.net.ReadTimeout
	if readTimeout > 0 {
		c.net.ReadTimeout = c.idleTimeout + readTimeout
	}

	type idleMsg struct {
		resp *imapwire.Response
		err  error
	}
	msgs := make(chan idleMsg, 8)
	go func() {
		for {
			resp, err := c.readResponse(ctx)
			msgs <- idleMsg{resp, err}
			if err != nil || (resp.Tagged != nil && resp.Tagged.Tag == tag) {
				return
			}
		}
	}()

	cont := <-msgs
	if cont.err != nil {
		return protocolErr("idle", cont.err)
	}
	if cont.resp.Continuation == nil {
		return protocolErr("idle", fmt.Errorf("expected continuation for IDLE, got %+v", cont.resp))
	}

	timer := time.NewTimer(c.idleTimeout)
	defer timer.Stop()

	doneSent := false
	for {
		if !doneSent {
			select {
			case <-c.queue.WaitForWork():
				doneSent = true
				if err := c.sendCommand(ctx, imapwire.FormatDone()); err != nil {
					return protocolErr("idle", err)
				}
				continue
			case <-timer.C:
				doneSent = true
				if err := c.sendCommand(ctx, imapwire.FormatDone()); err != nil {
					return protocolErr("idle", err)
				}
				continue
			case m := <-msgs:
				if err := c.handleIdleMessage(tag, m.resp, m.err); err != nil {
					return err
				}
				if m.resp != nil && m.resp.Tagged != nil {
					c.net.ReadTimeout = readTimeout
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			m := <-msgs
			if err := c.handleIdleMessage(tag, m.resp, m.err); err != nil {
				return err
			}
			if m.resp != nil && m.resp.Tagged != nil {
				c.net.ReadTimeout = readTimeout
				return nil
			}
		}
	}
}

func (c *Conn) handleIdleMessage(tag string, resp *imapwire.Response, err error) error {
	if err != nil {
		return protocolErr("idle", err)
	}
	if resp.Tagged != nil {
		if resp.Tagged.Tag != tag {
			return protocolErr("idle", fmt.Errorf("tag mismatch leaving IDLE: want %s got %s", tag, resp.Tagged.Tag))
		}
		return nil
	}
	if resp.Untagged != nil {
		if !c.dispatch.Dispatch(resp.Untagged) {
			c.handleCommonUntagged(resp.Untagged)
		}
		if c.fatalErr != nil {
			err := c.fatalErr
			c.fatalErr = nil
			return err
		}
	}
	return nil
}
