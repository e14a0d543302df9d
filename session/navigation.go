package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/sequence"
)

// View is a consistent snapshot of the session, read under the lock.
type View struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	browser.Status                // Selected is clamped
	Length         int            `json:"length"`
	SelectedBranch scene.NodeID   `json:"selected_branch,omitempty"`
	IndexValue     string         `json:"index_value,omitempty"`
	IndexName      string         `json:"index_name"`
	IndexUnit      string         `json:"index_unit"`
	IndexType      string         `json:"index_type"`
	RootID         scene.NodeID   `json:"root_id,omitempty"`
	MirrorRootID   scene.NodeID   `json:"mirror_root_id,omitempty"`
	LastSync       *mirror.Report `json:"last_sync,omitempty"`
	LastSyncError  string         `json:"last_sync_error,omitempty"`
}

// View returns the current snapshot.
func (s *Session) View() (View, error) {
	if err := s.lock(); err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

func (s *Session) view() View {
	st := s.state.Status()
	st.Selected = s.ctl.Selected()
	v := View{
		ID:           s.id,
		Name:         s.opts.Name,
		Status:       st,
		Length:       s.seq.Len(),
		IndexName:    s.seq.IndexName,
		IndexUnit:    s.seq.IndexUnit,
		IndexType:    s.seq.IndexType.String(),
		RootID:       s.root,
		MirrorRootID: s.mirrorRoot,
		LastSync:     s.lastSync,
	}
	if st.Selected >= 0 {
		v.SelectedBranch, _ = s.seq.ItemAt(st.Selected)
		v.IndexValue, _ = s.seq.IndexValueAt(st.Selected)
	}
	if s.lastError != nil {
		v.LastSyncError = s.lastError.Error()
	}
	return v
}

// navigate runs op under the lock and returns the resulting view.
func (s *Session) navigate(op func() error) (View, error) {
	if err := s.lock(); err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()
	if err := op(); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (s *Session) SelectFirst() (View, error)    { return s.navigate(s.ctl.SelectFirst) }
func (s *Session) SelectLast() (View, error)     { return s.navigate(s.ctl.SelectLast) }
func (s *Session) SelectNext() (View, error)     { return s.navigate(s.ctl.SelectNext) }
func (s *Session) SelectPrevious() (View, error) { return s.navigate(s.ctl.SelectPrevious) }

func (s *Session) SelectRelative(delta int) (View, error) {
	return s.navigate(func() error { return s.ctl.SelectRelative(delta) })
}

func (s *Session) SelectExplicit(pos int) (View, error) {
	return s.navigate(func() error { return s.ctl.SelectExplicit(pos) })
}

// Seek selects the branch whose index value matches. With exact false the
// closest branch is chosen. Numeric sessions reject values that do not
// parse as numbers and keep the current selection.
func (s *Session) Seek(indexValue string, exact bool) (View, error) {
	return s.navigate(func() error {
		if s.seq.IndexType == sequence.Numeric {
			if _, err := strconv.ParseFloat(strings.TrimSpace(indexValue), 64); err != nil {
				return fmt.Errorf("%w: %q is not numeric", ErrInvalidIndex, indexValue)
			}
		}
		pos, ok := s.seq.Find(indexValue, exact)
		if !ok {
			return fmt.Errorf("%w: no branch at %s=%s%s", browser.ErrInvalidOperation,
				s.seq.IndexName, indexValue, s.seq.IndexUnit)
		}
		return s.ctl.SelectExplicit(pos)
	})
}

// Play starts playback; it fails when there are no branches.
func (s *Session) Play() (View, error) { return s.navigate(s.ctl.Play) }

// Pause stops playback.
func (s *Session) Pause() (View, error) {
	return s.navigate(func() error { s.ctl.Pause(); return nil })
}

// PlaybackUpdate changes the playback flags that are set.
type PlaybackUpdate struct {
	Active       *bool    `json:"active,omitempty"`
	Looped       *bool    `json:"looped,omitempty"`
	RateFPS      *float64 `json:"rate_fps,omitempty"`
	ItemSkipping *bool    `json:"item_skipping,omitempty"`
}

// UpdatePlayback applies u. A rejected rate or a play request on an empty
// sequence leaves every flag unchanged.
func (s *Session) UpdatePlayback(u PlaybackUpdate) (View, error) {
	return s.navigate(func() error {
		if u.Active != nil && *u.Active && s.seq.Len() == 0 {
			return s.ctl.Play()
		}
		if u.RateFPS != nil {
			if _, err := s.state.SetRateFPS(*u.RateFPS); err != nil {
				return err
			}
		}
		if u.Active != nil && *u.Active {
			if err := s.ctl.Play(); err != nil {
				return err
			}
		}
		if u.Looped != nil {
			s.state.SetLooped(*u.Looped)
		}
		if u.ItemSkipping != nil {
			s.state.SetItemSkipping(*u.ItemSkipping)
		}
		if u.Active != nil && !*u.Active {
			s.ctl.Pause()
		}
		return nil
	})
}

// Tick advances a playing session by one item.
func (s *Session) Tick() (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.ctl.Tick(), nil
}

// Advance moves a playing session by as many items as elapsed covers at
// the current rate. It returns false when elapsed was too short to move.
func (s *Session) Advance(elapsed time.Duration) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.ctl.Advance(elapsed), nil
}

// Playing reports whether playback is active and the current rate.
func (s *Session) Playing() (active bool, rateFPS float64, skipping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, 0, false
	}
	return s.state.Active(), s.state.RateFPS(), s.state.ItemSkipping()
}

func (s *Session) onStateChange(ch browser.Change) {
	st := ch.Status
	st.Selected = s.ctl.Selected()
	s.publish(Event{Type: EventState, Field: ch.Field.String(), Status: &st})
	if ch.Field == browser.FieldSelected {
		s.requestSync()
	}
}
