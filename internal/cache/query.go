package cache

import (
	"context"
	"encoding/json"

	"crawshaw.io/sqlite"
)

// ListMailboxes returns every cached mailbox, ordered for display
// (see SortMailboxes).
func (s *Store) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.putConn(conn)

	var out []Mailbox
	stmt := conn.Prep(mailboxSelectSQL + `;`)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		mb, err := scanMailbox(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	SortMailboxes(out)
	return out, nil
}

// mailboxSelectSQL projects every nullable numeric mailbox column
// through COALESCE(..., -1): the crawshaw.io/sqlite Stmt API this
// package uses exposes column values by type (GetInt64/GetText) but
// not a per-column null test, so -1 (never a valid EXISTS/UID count)
// is used as the "not yet known" sentinel instead.
const mailboxSelectSQL = `SELECT Name, Delimiter, Flags,
		COALESCE(Exists_, -1), COALESCE(Recent, -1), COALESCE(Unseen, -1),
		COALESCE(UIDValidity, -1), COALESCE(UIDNext, -1), COALESCE(HighestModSeq, -1)
	FROM mailboxes`

func scanMailbox(stmt *sqlite.Stmt) (Mailbox, error) {
	mb := Mailbox{Name: stmt.ColumnText(0)}
	mb.DisplayName = DecodeDisplayName(mb.Name)
	if d := stmt.ColumnText(1); d != "" {
		mb.Delimiter = d[0]
		mb.HasDelimiter = true
	}
	if flagsJSON := stmt.ColumnText(2); flagsJSON != "" {
		if err := json.Unmarshal([]byte(flagsJSON), &mb.Flags); err != nil {
			return mb, err
		}
	}
	mb.Exists = optionalUint32(stmt.ColumnInt64(3))
	mb.Recent = optionalUint32(stmt.ColumnInt64(4))
	mb.Unseen = optionalUint32(stmt.ColumnInt64(5))
	mb.UIDValidity = optionalUint32(stmt.ColumnInt64(6))
	mb.UIDNext = optionalUint32(stmt.ColumnInt64(7))
	mb.HighestModSeq = optionalUint64(stmt.ColumnInt64(8))
	return mb, nil
}

func optionalUint32(v int64) *uint32 {
	if v < 0 {
		return nil
	}
	u := uint32(v)
	return &u
}

func optionalUint64(v int64) *uint64 {
	if v < 0 {
		return nil
	}
	u := uint64(v)
	return &u
}

// GetMailbox looks up one mailbox by its raw server-form name.
func (s *Store) GetMailbox(ctx context.Context, name string) (Mailbox, bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return Mailbox{}, false, err
	}
	defer s.putConn(conn)

	stmt := conn.Prep(mailboxSelectSQL + ` WHERE Name = $name;`)
	stmt.SetText("$name", name)
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Mailbox{}, false, err
	}
	mb, err := scanMailbox(stmt)
	return mb, true, err
}

// ListUIDsDescending returns the UID bindings for mailbox in
// reverse-chronological order (newest message first), using the
// (Mailbox, GMMsgID) index — GMMsgID values are monotonically
// increasing with receipt time, so ordering by it is equivalent to
// ordering by date without carrying a redundant date column into the
// binding table itself.
func (s *Store) ListUIDsDescending(ctx context.Context, mailbox string, limit int) ([]UIDBinding, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.putConn(conn)

	stmt := conn.Prep(`SELECT UID, GMMsgID FROM gmail_mailbox_uids
		WHERE Mailbox = $mailbox ORDER BY GMMsgID DESC LIMIT $limit;`)
	stmt.SetText("$mailbox", mailbox)
	stmt.SetInt64("$limit", int64(limit))

	var out []UIDBinding
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, UIDBinding{
			Mailbox: mailbox,
			UID:     uint32(stmt.GetInt64("UID")),
			GMMsgID: uint64(stmt.GetInt64("GMMsgID")),
		})
	}
	return out, nil
}

// GetMessage looks up one message's fixed attributes by GMMsgID.
func (s *Store) GetMessage(ctx context.Context, gmMsgID uint64) (Message, bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return Message{}, false, err
	}
	defer s.putConn(conn)

	stmt := conn.Prep(`SELECT GMMsgID, GMThrID, InternalDate, TZOffsetSecs, Envelope, BodyStructure, Flags, Labels, ModSeq
		FROM gmail_messages WHERE GMMsgID = $id;`)
	stmt.SetInt64("$id", int64(gmMsgID))
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Message{}, false, err
	}
	m, err := scanMessage(stmt)
	return m, true, err
}

func scanMessage(stmt *sqlite.Stmt) (Message, error) {
	m := Message{
		GMMsgID:         uint64(stmt.ColumnInt64(0)),
		GMThrID:         uint64(stmt.ColumnInt64(1)),
		TZOffsetSeconds: int(stmt.ColumnInt64(3)),
		ModSeq:          uint64(stmt.ColumnInt64(8)),
	}
	m.InternalDate = unixToTime(stmt.ColumnInt64(2))
	if env := stmt.ColumnText(4); env != "" && env != "null" {
		if err := json.Unmarshal([]byte(env), &m.Envelope); err != nil {
			return m, err
		}
	}
	if body := stmt.ColumnText(5); body != "" && body != "null" {
		if err := json.Unmarshal([]byte(body), &m.BodyStructure); err != nil {
			return m, err
		}
	}
	var flags, labels []string
	if f := stmt.ColumnText(6); f != "" {
		if err := json.Unmarshal([]byte(f), &flags); err != nil {
			return m, err
		}
	}
	if l := stmt.ColumnText(7); l != "" {
		if err := json.Unmarshal([]byte(l), &labels); err != nil {
			return m, err
		}
	}
	m.Flags = toSet(flags)
	m.Labels = toSet(labels)
	return m, nil
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// GetBodySection fetches one stored body section, if present.
func (s *Store) GetBodySection(ctx context.Context, gmMsgID uint64, section string) ([]byte, bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.putConn(conn)

	stmt := conn.Prep(`SELECT Content FROM gmail_message_bodies WHERE GMMsgID = $id AND Section = $section;`)
	stmt.SetInt64("$id", int64(gmMsgID))
	stmt.SetText("$section", section)
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return nil, false, err
	}
	content := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, content)
	return content, true, nil
}
