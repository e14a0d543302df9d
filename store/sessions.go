// Package store persists browse sessions and the mirror sync journal in
// SQLite.
//
// Only the durable part of a session is stored: playback flags, index
// metadata, the three node references and a scene snapshot. The selected
// position is derived from the selected branch on restore.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/seqbrowse/dbopen"
)

// ErrNotFound is returned when no row matches the requested session.
var ErrNotFound = errors.New("store: not found")

// SessionRecord is the persisted form of one session.
type SessionRecord struct {
	ID               string
	Name             string
	PlaybackActive   bool
	PlaybackLooped   bool
	RateFPS          float64
	ItemSkipping     bool
	IndexName        string
	IndexUnit        string
	IndexType        string
	RootID           string
	SelectedBranchID string
	MirrorRootID     string
	Scene            []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store wraps an opened database. Open it with dbopen.WithSchema(Schema).
type Store struct {
	DB *sql.DB
}

// New returns a Store over db.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Save upserts rec. CreatedAt is kept from the first save.
func (s *Store) Save(ctx context.Context, rec *SessionRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO browser_sessions (id, name, playback_active, playback_looped,
			playback_rate_fps, playback_item_skipping, index_name, index_unit, index_type,
			root_id, selected_branch_id, mirror_root_id, scene, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				playback_active = excluded.playback_active,
				playback_looped = excluded.playback_looped,
				playback_rate_fps = excluded.playback_rate_fps,
				playback_item_skipping = excluded.playback_item_skipping,
				index_name = excluded.index_name,
				index_unit = excluded.index_unit,
				index_type = excluded.index_type,
				root_id = excluded.root_id,
				selected_branch_id = excluded.selected_branch_id,
				mirror_root_id = excluded.mirror_root_id,
				scene = excluded.scene,
				updated_at = excluded.updated_at`,
			rec.ID, rec.Name, rec.PlaybackActive, rec.PlaybackLooped,
			rec.RateFPS, rec.ItemSkipping, rec.IndexName, rec.IndexUnit, rec.IndexType,
			rec.RootID, rec.SelectedBranchID, rec.MirrorRootID, rec.Scene,
			rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("store: save session %s: %w", rec.ID, err)
		}
		return nil
	})
}

const sessionColumns = `id, name, playback_active, playback_looped, playback_rate_fps,
	playback_item_skipping, index_name, index_unit, index_type,
	root_id, selected_branch_id, mirror_root_id, scene, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var created, updated int64
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.PlaybackActive, &rec.PlaybackLooped, &rec.RateFPS,
		&rec.ItemSkipping, &rec.IndexName, &rec.IndexUnit, &rec.IndexType,
		&rec.RootID, &rec.SelectedBranchID, &rec.MirrorRootID, &rec.Scene,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return &rec, nil
}

// Load returns the session with id.
func (s *Store) Load(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM browser_sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session %s: %w", id, err)
	}
	return rec, nil
}

// List returns all sessions, most recently updated first, without their
// scene snapshots.
func (s *Store) List(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM browser_sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		rec.Scene = nil
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a session and its journal.
func (s *Store) Delete(ctx context.Context, id string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM browser_sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_journal WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("store: delete journal %s: %w", id, err)
		}
		return nil
	})
}
