package store

// Schema creates the session and journal tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS browser_sessions (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL DEFAULT '',
	playback_active        INTEGER NOT NULL DEFAULT 0,
	playback_looped        INTEGER NOT NULL DEFAULT 1,
	playback_rate_fps      REAL NOT NULL DEFAULT 10,
	playback_item_skipping INTEGER NOT NULL DEFAULT 1,
	index_name             TEXT NOT NULL DEFAULT 'time',
	index_unit             TEXT NOT NULL DEFAULT 's',
	index_type             TEXT NOT NULL DEFAULT 'numeric',
	root_id                TEXT NOT NULL DEFAULT '',
	selected_branch_id     TEXT NOT NULL DEFAULT '',
	mirror_root_id         TEXT NOT NULL DEFAULT '',
	scene                  BLOB,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_journal (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	branch_id   TEXT NOT NULL DEFAULT '',
	created     INTEGER NOT NULL DEFAULT 0,
	reused      INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0,
	problems    TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	synced_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_journal_session ON sync_journal(session_id, synced_at);
`
