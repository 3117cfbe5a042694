package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Txn batches cache mutations inside one sqlite savepoint so a
// crash or process exit mid-sync never leaves the cache with, say, a
// mailbox's Unseen count updated but its messages not yet recorded.
// Durability points: end of LIST refresh, end of Selected-entry
// priming, after each completed FETCH batch, after each EXPUNGE, on
// logout.
type Txn struct {
	store  *Store
	conn   *sqlite.Conn
	events []Event
	err    error
}

// Begin acquires a connection and opens a new Txn. Callers must call
// either Commit or Rollback exactly once.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := sqlitex.ExecTransient(conn, "SAVEPOINT cache_txn;", nil); err != nil {
		s.putConn(conn)
		return nil, err
	}
	return &Txn{store: s, conn: conn}, nil
}

// Commit releases the savepoint and fires any Event notifications
// queued by the txn's mutations. If any mutation recorded an error,
// Commit rolls back instead and returns that error.
func (t *Txn) Commit() error {
	defer t.store.putConn(t.conn)
	if t.err != nil {
		sqlitex.ExecTransient(t.conn, "ROLLBACK TO cache_txn; RELEASE cache_txn;", nil)
		return t.err
	}
	if err := sqlitex.ExecTransient(t.conn, "RELEASE cache_txn;", nil); err != nil {
		return err
	}
	t.store.notify(t.events)
	return nil
}

// Rollback discards every mutation made on the txn.
func (t *Txn) Rollback() error {
	defer t.store.putConn(t.conn)
	return sqlitex.ExecTransient(t.conn, "ROLLBACK TO cache_txn; RELEASE cache_txn;", nil)
}

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

// UpsertMailbox records (or updates) a mailbox's LIST/STATUS state.
func (t *Txn) UpsertMailbox(mb Mailbox) {
	flags, err := json.Marshal(mb.Flags)
	if err != nil {
		t.fail(fmt.Errorf("cache: marshal mailbox flags: %w", err))
		return
	}
	stmt := t.conn.Prep(`INSERT INTO mailboxes (Name, Delimiter, Flags, Exists_, Recent, Unseen, UIDValidity, UIDNext, HighestModSeq)
		VALUES ($name, $delim, $flags, $exists, $recent, $unseen, $uidvalidity, $uidnext, $modseq)
		ON CONFLICT(Name) DO UPDATE SET
			Delimiter=$delim, Flags=$flags, Exists_=$exists, Recent=$recent,
			Unseen=$unseen, UIDValidity=$uidvalidity, UIDNext=$uidnext, HighestModSeq=$modseq;`)
	stmt.SetText("$name", mb.Name)
	if mb.HasDelimiter {
		stmt.SetText("$delim", string(mb.Delimiter))
	} else {
		stmt.SetNull("$delim")
	}
	stmt.SetText("$flags", string(flags))
	setOptionalUint32(stmt, "$exists", mb.Exists)
	setOptionalUint32(stmt, "$recent", mb.Recent)
	setOptionalUint32(stmt, "$unseen", mb.Unseen)
	setOptionalUint32(stmt, "$uidvalidity", mb.UIDValidity)
	setOptionalUint32(stmt, "$uidnext", mb.UIDNext)
	setOptionalUint64(stmt, "$modseq", mb.HighestModSeq)
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
		return
	}
	t.events = append(t.events, Event{Kind: EventMailboxListChanged, Mailbox: mb.Name})
}

func setOptionalUint32(stmt *sqlite.Stmt, name string, v *uint32) {
	if v == nil {
		stmt.SetNull(name)
	} else {
		stmt.SetInt64(name, int64(*v))
	}
}

func setOptionalUint64(stmt *sqlite.Stmt, name string, v *uint64) {
	if v == nil {
		stmt.SetNull(name)
	} else {
		stmt.SetInt64(name, int64(*v))
	}
}

// UpsertMessage records (or updates) a Gmail message's fixed
// attributes — the ones that don't vary by mailbox.
func (t *Txn) UpsertMessage(m Message) {
	envelope, err := json.Marshal(m.Envelope)
	if err != nil {
		t.fail(fmt.Errorf("cache: marshal envelope: %w", err))
		return
	}
	body, err := json.Marshal(m.BodyStructure)
	if err != nil {
		t.fail(fmt.Errorf("cache: marshal body structure: %w", err))
		return
	}
	flags, err := json.Marshal(setKeys(m.Flags))
	if err != nil {
		t.fail(err)
		return
	}
	labels, err := json.Marshal(setKeys(m.Labels))
	if err != nil {
		t.fail(err)
		return
	}

	stmt := t.conn.Prep(`INSERT INTO gmail_messages (GMMsgID, GMThrID, InternalDate, TZOffsetSecs, Envelope, BodyStructure, Flags, Labels, ModSeq)
		VALUES ($id, $thrid, $date, $tz, $env, $body, $flags, $labels, $modseq)
		ON CONFLICT(GMMsgID) DO UPDATE SET
			GMThrID=$thrid, Flags=$flags, Labels=$labels, ModSeq=$modseq;`)
	stmt.SetInt64("$id", int64(m.GMMsgID))
	stmt.SetInt64("$thrid", int64(m.GMThrID))
	stmt.SetInt64("$date", m.InternalDate.Unix())
	stmt.SetInt64("$tz", int64(m.TZOffsetSeconds))
	stmt.SetText("$env", string(envelope))
	stmt.SetText("$body", string(body))
	stmt.SetText("$flags", string(flags))
	stmt.SetText("$labels", string(labels))
	stmt.SetInt64("$modseq", int64(m.ModSeq))
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
		return
	}
	t.events = append(t.events, Event{Kind: EventMessageChanged, GMMsgID: m.GMMsgID})
}

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	return out
}

// BindUID records that uid in mailbox refers to gmMsgID. An existing
// (mailbox, uid) binding is replaced by the new gmMsgID; there is no
// check for a conflicting rebind within one UIDVALIDITY epoch, and
// BindUID never reports an InvariantError.
func (t *Txn) BindUID(mailbox string, uid uint32, gmMsgID uint64) {
	stmt := t.conn.Prep(`INSERT INTO gmail_mailbox_uids (Mailbox, UID, GMMsgID) VALUES ($mailbox, $uid, $id)
		ON CONFLICT(Mailbox, UID) DO UPDATE SET GMMsgID=$id;`)
	stmt.SetText("$mailbox", mailbox)
	stmt.SetInt64("$uid", int64(uid))
	stmt.SetInt64("$id", int64(gmMsgID))
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
	}
}

// UnbindUID removes the (mailbox, uid) binding, e.g. on EXPUNGE.
func (t *Txn) UnbindUID(mailbox string, uid uint32) {
	stmt := t.conn.Prep(`DELETE FROM gmail_mailbox_uids WHERE Mailbox = $mailbox AND UID = $uid;`)
	stmt.SetText("$mailbox", mailbox)
	stmt.SetInt64("$uid", int64(uid))
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
		return
	}
	t.events = append(t.events, Event{Kind: EventMessageExpunged, Mailbox: mailbox, UID: uid})
}

// SetMessageDate updates a message's InternalDate. Because the
// reverse-chronological display index is keyed off
// (Mailbox, GMMsgID) rather than a denormalized date column inside
// gmail_mailbox_uids, this is a single-row update with no cascade to
// perform across mailboxes — the schema's normalization means there is
// only ever one InternalDate row to touch, not one per binding.
func (t *Txn) SetMessageDate(gmMsgID uint64, unixSeconds int64, tzOffsetSeconds int) {
	stmt := t.conn.Prep(`UPDATE gmail_messages SET InternalDate = $date, TZOffsetSecs = $tz WHERE GMMsgID = $id;`)
	stmt.SetInt64("$date", unixSeconds)
	stmt.SetInt64("$tz", int64(tzOffsetSeconds))
	stmt.SetInt64("$id", int64(gmMsgID))
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
	}
}

// UpdateMessageFlags applies a partial update to a message's FLAGS
// and/or X-GM-LABELS, as reported by an unsolicited FETCH during
// Selected. Either map may be nil, meaning that attribute wasn't part
// of this particular push and its stored value must be left alone —
// unlike UpsertMessage, which always overwrites both on conflict, this
// never clobbers the attribute the caller didn't report. A call with
// both nil is a no-op.
func (t *Txn) UpdateMessageFlags(gmMsgID uint64, flags, labels map[string]bool) {
	if flags == nil && labels == nil {
		return
	}
	stmt := t.conn.Prep(`UPDATE gmail_messages SET
		Flags = COALESCE($flags, Flags),
		Labels = COALESCE($labels, Labels)
		WHERE GMMsgID = $id;`)
	stmt.SetInt64("$id", int64(gmMsgID))
	if flags == nil {
		stmt.SetNull("$flags")
	} else {
		encoded, err := json.Marshal(setKeys(flags))
		if err != nil {
			t.fail(err)
			return
		}
		stmt.SetText("$flags", string(encoded))
	}
	if labels == nil {
		stmt.SetNull("$labels")
	} else {
		encoded, err := json.Marshal(setKeys(labels))
		if err != nil {
			t.fail(err)
			return
		}
		stmt.SetText("$labels", string(encoded))
	}
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
		return
	}
	t.events = append(t.events, Event{Kind: EventMessageChanged, GMMsgID: gmMsgID})
}

// PutBodySection stores a write-once body section's bytes.
func (t *Txn) PutBodySection(gmMsgID uint64, section string, content []byte) {
	stmt := t.conn.Prep(`INSERT INTO gmail_message_bodies (GMMsgID, Section, Content) VALUES ($id, $section, $content)
		ON CONFLICT(GMMsgID, Section) DO NOTHING;`)
	stmt.SetInt64("$id", int64(gmMsgID))
	stmt.SetText("$section", section)
	stmt.SetBytes("$content", content)
	if _, err := stmt.Step(); err != nil {
		t.fail(err)
	}
}

// ReconcileListing applies a set-diff pattern, via a temp scratch
// table, to bring the mailboxes table in line with names, the full
// mailbox list just returned by a LIST command: any mailbox row not
// present in names is removed, using the temp_listing
// scratch table so the diff is one query rather than N existence
// checks.
func (t *Txn) ReconcileListing(names []string) {
	if err := sqlitex.ExecTransient(t.conn, "DELETE FROM temp_listing;", nil); err != nil {
		t.fail(err)
		return
	}
	ins := t.conn.Prep(`INSERT INTO temp_listing (Name) VALUES ($name);`)
	for _, name := range names {
		ins.Reset()
		ins.SetText("$name", name)
		if _, err := ins.Step(); err != nil {
			t.fail(err)
			return
		}
	}
	err := sqlitex.ExecTransient(t.conn,
		`DELETE FROM mailboxes WHERE Name NOT IN (SELECT Name FROM temp_listing);`, nil)
	if err != nil {
		t.fail(err)
	}
}
