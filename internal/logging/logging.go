// Package logging configures the process-wide zerolog logger and
// hands out component-scoped children of it
// (logging.WithComponent("cache"), .WithComponent("syncengine"), ...).
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Configure replaces the base logger's output and level. Call once
// during process startup (cmd/lark/main.go); safe to call again in
// tests that want to capture output.
func Configure(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with a "component"
// field. Call once per file/package and reuse across that file's
// functions rather than re-deriving per call.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", name).Logger()
}

// WithOp returns a child logger additionally tagged with an
// operation-tree correlation id, for the Conn/fetch/backfill code in
// internal/syncengine that threads an *optree.Op through its calls.
func WithOp(l zerolog.Logger, opID string) zerolog.Logger {
	return l.With().Str("op_id", opID).Logger()
}
