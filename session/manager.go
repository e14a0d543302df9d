package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazyhaar/seqbrowse/idgen"
	"github.com/hazyhaar/seqbrowse/store"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger *slog.Logger
	// Store persists evicted and closed sessions. Without it, eviction
	// discards the session.
	Store *store.Store
	// MaxResident bounds the number of sessions held in memory.
	MaxResident int
	NewID       idgen.Generator
	// Defaults is the template for every new or restored session.
	Defaults Options
}

func (o *ManagerOptions) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxResident <= 0 {
		o.MaxResident = 64
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("ses_", idgen.UUIDv7())
	}
	if o.Defaults.Logger == nil {
		o.Defaults.Logger = o.Logger
	}
}

// Manager owns the sessions of one process. Resident sessions live in an
// LRU cache; the least recently used one is saved and closed when the cache
// is full.
type Manager struct {
	opts  ManagerOptions
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
}

// NewManager returns an empty manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	opts.defaults()
	m := &Manager{opts: opts}
	cache, err := lru.NewWithEvict[string, *Session](opts.MaxResident, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session: manager cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// onEvict runs under m.mu, from Add or Purge.
func (m *Manager) onEvict(id string, s *Session) {
	s.mu.Lock()
	deleted := s.closed
	s.mu.Unlock()
	if deleted {
		return
	}
	if m.opts.Store == nil {
		m.opts.Logger.Warn("session: evicted without store, discarding", "session_id", id)
		s.Close()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.save(ctx, s); err != nil {
		m.opts.Logger.Error("session: save on eviction", "session_id", id, "error", err)
	}
	s.Close()
}

// CreateOptions overrides the manager defaults for one session.
type CreateOptions struct {
	Name         string
	RateFPS      float64
	Looped       *bool
	ItemSkipping *bool
	IndexName    string
	IndexUnit    string
	IndexType    string
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context, co CreateOptions) (*Session, error) {
	opts := m.opts.Defaults
	if co.Name != "" {
		opts.Name = co.Name
	}
	if co.RateFPS > 0 {
		opts.Playback.RateFPS = co.RateFPS
	}
	if co.Looped != nil {
		opts.Playback.Looped = co.Looped
	}
	if co.ItemSkipping != nil {
		opts.Playback.ItemSkipping = co.ItemSkipping
	}
	if co.IndexName != "" {
		opts.IndexName = co.IndexName
	}
	if co.IndexUnit != "" {
		opts.IndexUnit = co.IndexUnit
	}
	if co.IndexType != "" {
		it, err := parseIndexType(co.IndexType)
		if err != nil {
			return nil, err
		}
		opts.IndexType = it
	}

	s, err := New(m.opts.NewID(), opts)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	m.mu.Lock()
	m.cache.Add(s.ID(), s)
	m.mu.Unlock()
	if m.opts.Store != nil {
		if err := m.save(ctx, s); err != nil {
			return nil, err
		}
	}
	m.opts.Logger.Info("session: created", "session_id", s.ID(), "name", s.Name())
	return s, nil
}

// Get returns a resident session or restores it from the store.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.cache.Get(id); ok {
		return s, nil
	}
	if m.opts.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec, err := m.opts.Store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s, err := Restore(rec, m.opts.Defaults)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, s)
	m.opts.Logger.Debug("session: restored", "session_id", id)
	return s, nil
}

// Summary is a short description of a known session.
type Summary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Resident bool      `json:"resident"`
	Updated  time.Time `json:"updated_at,omitzero"`
}

// List returns resident and stored sessions, sorted by ID.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	byID := map[string]Summary{}
	if m.opts.Store != nil {
		recs, err := m.opts.Store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			byID[r.ID] = Summary{ID: r.ID, Name: r.Name, Updated: r.UpdatedAt}
		}
	}
	m.mu.Lock()
	for _, s := range m.cache.Values() {
		sum := byID[s.ID()]
		sum.ID, sum.Name, sum.Resident = s.ID(), s.Name(), true
		byID[s.ID()] = sum
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Resident returns the sessions currently in memory.
func (m *Manager) Resident() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Values()
}

// Save persists a session. It is a no-op without a store.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if m.opts.Store == nil {
		return nil
	}
	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	rec, err := s.Record()
	if err != nil {
		return err
	}
	return m.opts.Store.Save(ctx, rec)
}

// Delete closes a session and removes it from memory and the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, resident := m.cache.Peek(id)
	if resident {
		s.Close()
		m.cache.Remove(id)
	}
	m.mu.Unlock()

	if m.opts.Store == nil {
		if !resident {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}
	err := m.opts.Store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if resident {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Close saves and closes every resident session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}
