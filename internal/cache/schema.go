package cache

const createSQL = `
CREATE TABLE IF NOT EXISTS mailboxes (
	Name         TEXT PRIMARY KEY,   -- raw server-form name, bytes as sent over the wire
	Delimiter    TEXT,               -- single-character hierarchy delimiter, or NULL
	Flags        TEXT NOT NULL DEFAULT '[]',  -- JSON array of LIST flags (\Noselect, \HasChildren, ...)
	Exists_      INTEGER,
	Recent       INTEGER,
	Unseen       INTEGER,
	UIDValidity  INTEGER,
	UIDNext      INTEGER,
	HighestModSeq INTEGER
);

CREATE TABLE IF NOT EXISTS gmail_messages (
	GMMsgID       INTEGER PRIMARY KEY,
	GMThrID       INTEGER,
	InternalDate  INTEGER NOT NULL,  -- unix seconds, UTC
	TZOffsetSecs  INTEGER NOT NULL DEFAULT 0,
	Envelope      TEXT,              -- JSON-encoded imapwire.Envelope
	BodyStructure TEXT,              -- JSON-encoded imapwire.BodyStructure
	Flags         TEXT NOT NULL DEFAULT '[]',
	Labels        TEXT NOT NULL DEFAULT '[]',
	ModSeq        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS gmail_mailbox_uids (
	Mailbox  TEXT NOT NULL REFERENCES mailboxes(Name),
	UID      INTEGER NOT NULL,
	GMMsgID  INTEGER NOT NULL REFERENCES gmail_messages(GMMsgID),
	PRIMARY KEY (Mailbox, UID)
);

CREATE INDEX IF NOT EXISTS gmail_mailbox_uids_by_date
	ON gmail_mailbox_uids (Mailbox, GMMsgID);

CREATE TABLE IF NOT EXISTS gmail_message_bodies (
	GMMsgID  INTEGER NOT NULL REFERENCES gmail_messages(GMMsgID),
	Section  TEXT NOT NULL,
	Content  BLOB NOT NULL,
	PRIMARY KEY (GMMsgID, Section)
);
`

// tempTablesSQL creates the scratch tables for the set-diff pattern
// (populate, diff against the real table in one query). temp_listing
// backs Txn.ReconcileListing's LIST reconciliation; temp_fetching is
// created but no Txn method uses it. Temp tables are connection-local in
// SQLite, so — unlike createSQL — this runs once per pooled
// connection rather than once at Open.
const tempTablesSQL = `
CREATE TEMP TABLE IF NOT EXISTS temp_listing (
	Name TEXT PRIMARY KEY
);

CREATE TEMP TABLE IF NOT EXISTS temp_fetching (
	UID INTEGER PRIMARY KEY
);
`
