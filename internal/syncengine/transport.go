package syncengine

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/larkmail/lark/internal/optree"
)

// deadlineConn wraps a net.Conn and applies a read/write deadline
// before every operation. dial sets ReadTimeout/WriteTimeout to
// defaultReadTimeout/defaultWriteTimeout; enterIdle widens ReadTimeout
// for the length of one IDLE episode, and no other caller changes them.
type deadlineConn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.ReadTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.WriteTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

const (
	defaultConnectTimeout = 30 * time.Second
	defaultTLSTimeout     = 30 * time.Second
	defaultReadTimeout    = 3 * time.Minute
	defaultWriteTimeout   = 30 * time.Second
)

// dial performs the TCP connect and TLS handshake as two sibling
// optree children, each carrying its own 30s default timeout. The TCP
// connect is bounded by net.Dialer's Timeout; the handshake by a
// time.AfterFunc timer that closes the in-progress net.Conn if it
// doesn't finish in time — the Go-native stand-in for the
// timerfd-per-suspension-point model, same effect as a registered
// timer fd without a reactor to register it with.
func dial(ctx context.Context, op *optree.Op, host string, tlsConfig *tls.Config) (*deadlineConn, error) {
	connectOp := op.Child("tcp-connect")
	rawConn, err := dialWithTimeout(ctx, host, defaultConnectTimeout)
	connectOp.Done()
	if err != nil {
		return nil, transportErr("dial", err)
	}

	tlsOp := op.Child("tls-handshake")
	tlsConn, err := handshakeWithTimeout(rawConn, tlsConfig, defaultTLSTimeout)
	tlsOp.Done()
	if err != nil {
		rawConn.Close()
		return nil, transportErr("tls-handshake", err)
	}

	return &deadlineConn{Conn: tlsConn, ReadTimeout: defaultReadTimeout, WriteTimeout: defaultWriteTimeout}, nil
}

func dialWithTimeout(ctx context.Context, host string, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", host)
}

func handshakeWithTimeout(raw net.Conn, tlsConfig *tls.Config, timeout time.Duration) (*tls.Conn, error) {
	timer := time.AfterFunc(timeout, func() { raw.Close() })
	defer timer.Stop()

	conn := tls.Client(raw, tlsConfig)
	if err := conn.Handshake(); err != nil {
		return nil, err
	}
	return conn, nil
}
