// Package session ties one browse session together: a scene holding the
// branch hierarchy and the mirror, the ordered sequence of branches, the
// browser state and controller, and the mirror synchronizer.
//
// Every exported method takes the session lock for the whole state
// transition, including the mirror pass it triggers. Listeners registered
// with Subscribe run under that lock and must not call back into the
// session.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/idgen"
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/sequence"
	"github.com/hazyhaar/seqbrowse/store"
)

// AttrIndexValue holds a branch's index value on its hierarchy node.
const AttrIndexValue = "indexValue"

var (
	ErrNotFound     = errors.New("session: not found")
	ErrClosed       = errors.New("session: closed")
	ErrInvalidIndex = errors.New("session: invalid index value")
)

// Journal receives one entry per mirror pass. *store.Journal implements it.
type Journal interface {
	Record(e *store.JournalEntry)
}

// Options configures a session.
type Options struct {
	Logger   *slog.Logger
	Name     string
	Playback browser.Options

	IndexName string
	IndexUnit string
	IndexType sequence.IndexType

	// Synchronizer may be shared between sessions.
	Synchronizer *mirror.Synchronizer
	Journal      Journal
	NewNodeID    idgen.Generator
	// Kinds registers extra item kinds on the scene.
	Kinds map[string]scene.Factory
	// WithoutMirror skips creating a mirror root.
	WithoutMirror bool
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Name == "" {
		o.Name = "browser"
	}
	if o.Playback.Logger == nil {
		o.Playback.Logger = o.Logger
	}
	if o.IndexName == "" {
		o.IndexName = "time"
	}
	if o.IndexUnit == "" && o.IndexType == sequence.Numeric {
		o.IndexUnit = "s"
	}
	if o.Synchronizer == nil {
		o.Synchronizer = mirror.New(mirror.Options{Logger: o.Logger})
	}
}

// EventType classifies session events.
type EventType string

const (
	EventState EventType = "state"
	EventScene EventType = "scene"
	EventSync  EventType = "sync"
)

// Event is fanned out to Subscribe listeners.
type Event struct {
	Type    EventType       `json:"type"`
	Session string          `json:"session"`
	Field   string          `json:"field,omitempty"`
	Status  *browser.Status `json:"status,omitempty"`
	Scene   *scene.Event    `json:"scene,omitempty"`
	Sync    *mirror.Report  `json:"sync,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type listener struct {
	id int
	fn func(Event)
}

// Session is one browse session.
type Session struct {
	mu     sync.Mutex
	id     string
	opts   Options
	logger *slog.Logger

	scene *scene.Scene
	seq   *sequence.Sequence[scene.NodeID]
	state *browser.State
	ctl   *browser.Controller
	sync  *mirror.Synchronizer

	root       scene.NodeID
	mirrorRoot scene.NodeID

	batching  int
	needSync  bool
	syncing   bool
	editing   bool
	pending   []scene.Event
	watched   map[scene.NodeID]bool
	lastSync  *mirror.Report
	lastError error

	listeners  []listener
	nextListen int
	closed     bool
}

// New creates a session with an empty branch root and, unless disabled, a
// mirror root.
func New(id string, opts Options) (*Session, error) {
	s := newSession(id, opts)
	var err error
	if s.root, err = s.scene.CreateChild(""); err != nil {
		return nil, err
	}
	if err := s.scene.SetName(s.root, s.opts.Name+" branches"); err != nil {
		return nil, err
	}
	if !s.opts.WithoutMirror {
		if s.mirrorRoot, err = s.scene.CreateChild(""); err != nil {
			return nil, err
		}
		if err := s.scene.SetName(s.mirrorRoot, s.opts.Name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newSession(id string, opts Options) *Session {
	opts.defaults()
	sc := scene.New(scene.Options{Logger: opts.Logger, NewID: opts.NewNodeID})
	for kind, f := range opts.Kinds {
		sc.RegisterKind(kind, f)
	}
	s := &Session{
		id:      id,
		opts:    opts,
		logger:  opts.Logger.With("session_id", id),
		scene:   sc,
		seq:     newSequence(opts),
		state:   browser.NewState(opts.Playback),
		sync:    opts.Synchronizer,
		watched: map[scene.NodeID]bool{},
	}
	s.ctl = browser.NewController(s.state, s.seq)
	s.state.Subscribe(s.onStateChange)
	s.scene.Subscribe(s.onSceneEvent)
	return s
}

func newSequence(opts Options) *sequence.Sequence[scene.NodeID] {
	seq := sequence.New[scene.NodeID]()
	seq.IndexName = opts.IndexName
	seq.IndexUnit = opts.IndexUnit
	seq.IndexType = opts.IndexType
	return seq
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the display name given at creation.
func (s *Session) Name() string { return s.opts.Name }

// Subscribe registers fn for session events. fn runs under the session
// lock and must not block.
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListen++
	id := s.nextListen
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) publish(ev Event) {
	ev.Session = s.id
	for _, l := range s.listeners {
		l.fn(ev)
	}
}

// lock acquires the session lock and fails on a closed session.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Close marks the session unusable. Pending calls complete first.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state.SetActive(false)
}

func parseIndexType(s string) (sequence.IndexType, error) {
	it, err := sequence.ParseIndexType(s)
	if err != nil {
		return it, fmt.Errorf("session: %w", err)
	}
	return it, nil
}
