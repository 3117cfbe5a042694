// Package cache implements the embedded, durable cache of a Gmail
// account's mailboxes and messages: an sqlite database that mirrors
// the subset of server state the sync engine has fetched so far, and
// which the UI boundary reads from directly rather than ever touching
// the network.
package cache

import (
	"context"
	"fmt"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Store owns the pooled sqlite connection and the file staging area
// for literal/body-section bytes.
type Store struct {
	pool  *sqlitex.Pool
	filer *iox.Filer

	listeners []func(Event)
}

// Open creates (if necessary) and opens the cache database at path,
// returning a ready Store. A throwaway connection runs the schema
// migration, then a real pool is opened for concurrent use.
func Open(path string) (*Store, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, fmt.Errorf("cache.Open: init open: %w", err)
	}
	if err := initConn(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache.Open: init: %w", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("cache.Open: init close: %w", err)
	}

	pool, err := sqlitex.Open(path, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("cache.Open: pool open: %w", err)
	}
	return &Store{pool: pool, filer: iox.NewFiler(0)}, nil
}

func initConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA foreign_keys=ON;", nil); err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, createSQL)
}

// Close releases the pool and the filer's temp files.
func (s *Store) Close() error {
	s.filer.Shutdown(context.Background())
	return s.pool.Close()
}

// Event is delivered to every Subscribe callback on commit of any
// tracked-table mutation. Kind distinguishes what changed; the other
// fields are populated accordingly.
type Event struct {
	Kind     EventKind
	Mailbox  string
	GMMsgID  uint64
	UID      uint32
}

type EventKind int

const (
	EventMailboxListChanged EventKind = iota
	EventMessageChanged
	EventMessageExpunged
)

// Subscribe registers cb to be invoked synchronously, in registration
// order, whenever a Txn.Commit applies a tracked mutation. Generalizes
// a single push-device notifier into an arbitrary subscriber list.
func (s *Store) Subscribe(cb func(Event)) {
	s.listeners = append(s.listeners, cb)
}

func (s *Store) notify(events []Event) {
	for _, ev := range events {
		for _, cb := range s.listeners {
			cb(ev)
		}
	}
}

// conn acquires a pooled connection and makes sure its connection-
// local temp tables exist (see tempTablesSQL).
func (s *Store) conn(ctx context.Context) (*sqlite.Conn, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, ctx.Err()
	}
	if err := sqlitex.ExecScript(conn, tempTablesSQL); err != nil {
		s.pool.Put(conn)
		return nil, err
	}
	return conn, nil
}

func (s *Store) putConn(conn *sqlite.Conn) {
	s.pool.Put(conn)
}
