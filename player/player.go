// Package player is the playback clock. It polls the resident sessions and
// advances every playing one once a frame period at its own rate has
// elapsed.
//
//	p := player.New(mgr, player.Options{Resolution: 10 * time.Millisecond})
//	go p.Run(ctx)
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/seqbrowse/session"
)

// Source lists the sessions to drive. *session.Manager implements it.
type Source interface {
	Resident() []*session.Session
}

// Options tunes the clock.
type Options struct {
	// Resolution is the polling period. Default: 10ms.
	Resolution time.Duration
	Logger     *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Resolution <= 0 {
		o.Resolution = 10 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Player drives playback. Run must be called from a single goroutine; Stats
// is safe from any goroutine.
type Player struct {
	src  Source
	opts Options

	// last holds, per playing session, when it last advanced.
	last map[string]time.Time

	polls    atomic.Int64
	advances atomic.Int64
	errors   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Polls    int64 `json:"polls"`
	Advances int64 `json:"advances"`
	Errors   int64 `json:"errors"`
}

// New creates a Player. Call Run to start the clock.
func New(src Source, opts Options) *Player {
	opts.defaults()
	return &Player{src: src, opts: opts, last: make(map[string]time.Time)}
}

// Stats returns the current counters.
func (p *Player) Stats() Stats {
	return Stats{
		Polls:    p.polls.Load(),
		Advances: p.advances.Load(),
		Errors:   p.errors.Load(),
	}
}

// Run blocks until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	log := p.opts.Logger
	ticker := time.NewTicker(p.opts.Resolution)
	defer ticker.Stop()
	log.Info("player: started", "resolution", p.opts.Resolution)

	for {
		select {
		case <-ctx.Done():
			log.Info("player: stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one clock step over all resident sessions.
func (p *Player) Poll() {
	p.polls.Add(1)
	now := p.opts.Now()
	seen := make(map[string]bool)

	for _, s := range p.src.Resident() {
		active, rate, _ := s.Playing()
		if !active || rate <= 0 {
			continue
		}
		id := s.ID()
		seen[id] = true
		last, ok := p.last[id]
		if !ok {
			// Playback just started: the first frame comes one period later.
			p.last[id] = now
			continue
		}
		elapsed := now.Sub(last)
		if elapsed.Seconds()*rate < 1 {
			continue
		}
		moved, err := s.Advance(elapsed)
		if err != nil {
			if !errors.Is(err, session.ErrClosed) {
				p.errors.Add(1)
				p.opts.Logger.Warn("player: advance failed", "session_id", id, "error", err)
			}
			continue
		}
		if moved {
			p.advances.Add(1)
			p.last[id] = now
		}
	}

	for id := range p.last {
		if !seen[id] {
			delete(p.last, id)
		}
	}
}
