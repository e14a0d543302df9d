package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/seqbrowse/dbopen"
	"github.com/hazyhaar/seqbrowse/idgen"
)

// JournalEntry records the outcome of one mirror sync pass.
type JournalEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	BranchID  string    `json:"branch_id,omitempty"`
	Created   int       `json:"created"`
	Reused    int       `json:"reused"`
	Deleted   int       `json:"deleted"`
	Problems  []string  `json:"problems,omitempty"`
	Error     string    `json:"error,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// JournalOptions configures a Journal.
type JournalOptions struct {
	Logger        *slog.Logger
	NewID         idgen.Generator
	BufferSize    int
	FlushInterval time.Duration
}

func (o *JournalOptions) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("sync_", idgen.ULID())
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
}

// Journal buffers sync entries and writes them in batches. Playback can
// trigger a pass per tick, so writes stay off the session lock.
type Journal struct {
	db   *sql.DB
	opts JournalOptions
	ch   chan *JournalEntry
	stop chan struct{}
	done chan struct{}

	mu        sync.RWMutex // guards closed against in-flight Record calls
	closed    bool
	closeOnce sync.Once
}

// NewJournal starts the background flusher. Call Close to drain it.
func NewJournal(db *sql.DB, opts JournalOptions) *Journal {
	opts.defaults()
	j := &Journal{
		db:   db,
		opts: opts,
		ch:   make(chan *JournalEntry, opts.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go j.flushLoop()
	return j
}

// Record queues e. When the buffer is full, or the journal is closed, it is
// written synchronously.
func (j *Journal) Record(e *JournalEntry) {
	if e.ID == "" {
		e.ID = j.opts.NewID()
	}
	if e.SyncedAt.IsZero() {
		e.SyncedAt = time.Now()
	}
	j.mu.RLock()
	queued := false
	if !j.closed {
		select {
		case j.ch <- e:
			queued = true
		default:
			j.opts.Logger.Warn("store: journal buffer full, writing synchronously", "session_id", e.SessionID)
		}
	}
	j.mu.RUnlock()
	if queued {
		return
	}
	if err := j.insert(context.Background(), []*JournalEntry{e}); err != nil {
		j.opts.Logger.Error("store: journal write failed", "error", err)
	}
}

// Entries returns up to limit entries for sessionID, newest first.
func (j *Journal) Entries(ctx context.Context, sessionID string, limit int) ([]*JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, branch_id, created, reused, deleted, problems, error, synced_at
		FROM sync_journal WHERE session_id = ? ORDER BY synced_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query journal: %w", err)
	}
	defer rows.Close()

	var out []*JournalEntry
	for rows.Next() {
		var e JournalEntry
		var problems string
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.BranchID, &e.Created, &e.Reused,
			&e.Deleted, &problems, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("store: scan journal: %w", err)
		}
		if err := json.Unmarshal([]byte(problems), &e.Problems); err != nil {
			return nil, fmt.Errorf("store: decode problems %s: %w", e.ID, err)
		}
		e.SyncedAt = time.UnixMilli(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Flush writes everything queued so far.
func (j *Journal) Flush(ctx context.Context) error {
	var batch []*JournalEntry
	for {
		select {
		case e := <-j.ch:
			batch = append(batch, e)
		default:
			return j.insert(ctx, batch)
		}
	}
}

// Close drains the buffer and stops the flusher. Later calls are no-ops.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()
		close(j.stop)
	})
	<-j.done
	return nil
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := j.Flush(context.Background()); err != nil {
				j.opts.Logger.Error("store: journal flush", "error", err)
			}
		case <-j.stop:
			if err := j.Flush(context.Background()); err != nil {
				j.opts.Logger.Error("store: journal final flush", "error", err)
			}
			return
		}
	}
}

func (j *Journal) insert(ctx context.Context, batch []*JournalEntry) error {
	if len(batch) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sync_journal
			(id, session_id, branch_id, created, reused, deleted, problems, error, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare journal insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range batch {
			problems := e.Problems
			if problems == nil {
				problems = []string{}
			}
			raw, _ := json.Marshal(problems)
			if _, err := stmt.ExecContext(ctx, e.ID, e.SessionID, e.BranchID, e.Created,
				e.Reused, e.Deleted, string(raw), e.Error, e.SyncedAt.UnixMilli()); err != nil {
				return fmt.Errorf("store: insert journal %s: %w", e.ID, err)
			}
		}
		return nil
	})
}
