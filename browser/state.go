// Package browser holds the selection and playback record of a browse
// session and the controller that moves the selection through a sequence.
//
// Neither State nor Controller is safe for concurrent use. Notifications are
// delivered synchronously from the setter that caused them.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrInvalidOperation reports a request with no valid target. The state is
// left unchanged whenever it is returned.
var ErrInvalidOperation = errors.New("browser: invalid operation")

// MaxRateFPS bounds the playback rate.
const MaxRateFPS = 1000

// Field names one mutable member of State.
type Field int

const (
	FieldSelected Field = iota + 1
	FieldActive
	FieldLooped
	FieldRate
	FieldItemSkipping
)

func (f Field) String() string {
	switch f {
	case FieldSelected:
		return "selected_position"
	case FieldActive:
		return "playback_active"
	case FieldLooped:
		return "playback_looped"
	case FieldRate:
		return "playback_rate_fps"
	case FieldItemSkipping:
		return "playback_item_skipping"
	default:
		return "unknown"
	}
}

// Status is a value copy of State.
type Status struct {
	Selected     int     `json:"selected_position"`
	Active       bool    `json:"playback_active"`
	Looped       bool    `json:"playback_looped"`
	RateFPS      float64 `json:"playback_rate_fps"`
	ItemSkipping bool    `json:"playback_item_skipping"`
}

// Change is delivered to subscribers after a field took a new value.
type Change struct {
	Field  Field
	Status Status
}

// Options configures a new State.
type Options struct {
	Logger       *slog.Logger
	RateFPS      float64
	Looped       *bool
	ItemSkipping *bool
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if !(o.RateFPS > 0) {
		o.RateFPS = 10
	}
	o.RateFPS = min(o.RateFPS, MaxRateFPS)
	if o.Looped == nil {
		o.Looped = ptr(true)
	}
	if o.ItemSkipping == nil {
		o.ItemSkipping = ptr(true)
	}
}

func ptr[T any](v T) *T { return &v }

type subscriber struct {
	id int
	fn func(Change)
}

// State is the selection and playback record.
type State struct {
	logger *slog.Logger
	st     Status

	subs        []subscriber
	nextSub     int
	dispatching map[Field]bool
}

// NewState returns a stopped state with no selection.
func NewState(opts Options) *State {
	opts.defaults()
	return &State{
		logger: opts.Logger,
		st: Status{
			Selected:     -1,
			RateFPS:      opts.RateFPS,
			Looped:       *opts.Looped,
			ItemSkipping: *opts.ItemSkipping,
		},
		dispatching: make(map[Field]bool),
	}
}

// Status returns the raw field values. Selected is not clamped; use
// Controller.Selected for a value guaranteed valid against the source.
func (s *State) Status() Status { return s.st }

func (s *State) Active() bool       { return s.st.Active }
func (s *State) Looped() bool       { return s.st.Looped }
func (s *State) RateFPS() float64   { return s.st.RateFPS }
func (s *State) ItemSkipping() bool { return s.st.ItemSkipping }

// Subscribe registers fn for every change and returns its cancel function.
func (s *State) Subscribe(fn func(Change)) (cancel func()) {
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

// SetSelected stores pos without range checks. Callers go through
// Controller, which validates against the source.
func (s *State) SetSelected(pos int) bool {
	return set(s, FieldSelected, &s.st.Selected, pos)
}

func (s *State) SetActive(v bool) bool       { return set(s, FieldActive, &s.st.Active, v) }
func (s *State) SetLooped(v bool) bool       { return set(s, FieldLooped, &s.st.Looped, v) }
func (s *State) SetItemSkipping(v bool) bool { return set(s, FieldItemSkipping, &s.st.ItemSkipping, v) }

// SetRateFPS requires a rate in (0, MaxRateFPS].
func (s *State) SetRateFPS(fps float64) (bool, error) {
	if !(fps > 0) || fps > MaxRateFPS {
		return false, fmt.Errorf("%w: playback rate %v not in (0, %d]", ErrInvalidOperation, fps, MaxRateFPS)
	}
	return set(s, FieldRate, &s.st.RateFPS, fps), nil
}

// set assigns v to *dst and notifies subscribers when the value changed.
// A subscriber that tries to move the field it is being notified about to
// yet another value is refused, which breaks notification loops.
func set[T comparable](s *State, f Field, dst *T, v T) bool {
	if *dst == v {
		return false
	}
	if s.dispatching[f] {
		s.logger.Warn("browser: re-entrant change refused", "field", f.String(), "current", *dst, "requested", v)
		return false
	}
	*dst = v
	s.notify(f)
	return true
}

func (s *State) notify(f Field) {
	s.dispatching[f] = true
	defer delete(s.dispatching, f)
	ch := Change{Field: f, Status: s.st}
	for _, sub := range slices.Clone(s.subs) {
		sub.fn(ch)
	}
}
