package cache

import (
	"fmt"
	"time"

	"github.com/larkmail/lark/internal/imapwire"
)

// Mailbox is the cached LIST/STATUS state of one mailbox.
type Mailbox struct {
	Name         string // raw server-form name
	DisplayName  string // best-effort UTF-7-decoded form, for UI display
	Flags        []string
	Delimiter    byte
	HasDelimiter bool

	Exists         *uint32
	Recent         *uint32
	Unseen         *uint32
	UIDValidity    *uint32
	UIDNext        *uint32
	HighestModSeq  *uint64
}

// Message is the cached fixed attributes of one Gmail message,
// independent of which mailbox(es) it currently appears in.
type Message struct {
	GMMsgID         uint64
	GMThrID         uint64
	InternalDate    time.Time
	TZOffsetSeconds int
	Envelope        *imapwire.Envelope
	BodyStructure   *imapwire.BodyStructure
	Flags           map[string]bool
	Labels          map[string]bool
	ModSeq          uint64
}

// UIDBinding is a (mailbox, uid) -> message association.
type UIDBinding struct {
	Mailbox string
	UID     uint32
	GMMsgID uint64
}

// BodySection is a write-once (message, section) -> bytes record.
type BodySection struct {
	GMMsgID uint64
	Section string
	Content []byte
}

// InvariantError reports a cache invariant violated by conflicting
// server data within what should be a single consistent epoch — for
// example the same UID bound to two different GMMsgIDs without an
// intervening EXPUNGE/UIDVALIDITY change. No code path in this module
// constructs it: BindUID replaces a conflicting binding instead.
type InvariantError struct {
	What string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("cache: invariant violated: %s", e.What)
}
