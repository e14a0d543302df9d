package session

import (
	"fmt"

	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/sequence"
	"github.com/hazyhaar/seqbrowse/store"
)

// Record captures the durable part of the session. The selected position is
// not stored; the selected branch stands in for it.
func (s *Session) Record() (*store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.scene.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("session: record %s: %w", s.id, err)
	}
	st := s.state.Status()
	return &store.SessionRecord{
		ID:               s.id,
		Name:             s.opts.Name,
		PlaybackActive:   st.Active,
		PlaybackLooped:   st.Looped,
		RateFPS:          st.RateFPS,
		ItemSkipping:     st.ItemSkipping,
		IndexName:        s.seq.IndexName,
		IndexUnit:        s.seq.IndexUnit,
		IndexType:        s.seq.IndexType.String(),
		RootID:           string(s.root),
		SelectedBranchID: string(s.selectedBranch()),
		MirrorRootID:     string(s.mirrorRoot),
		Scene:            snap,
	}, nil
}

// Restore rebuilds a session from rec. Node references that no longer
// resolve in the restored scene are treated as absent. opts supplies the
// non-persisted collaborators (logger, synchronizer, journal, kinds).
func Restore(rec *store.SessionRecord, opts Options) (*Session, error) {
	it, err := sequence.ParseIndexType(rec.IndexType)
	if err != nil {
		return nil, fmt.Errorf("session: restore %s: %w", rec.ID, err)
	}
	opts.Name = rec.Name
	opts.IndexName, opts.IndexUnit, opts.IndexType = rec.IndexName, rec.IndexUnit, it
	looped, skipping := rec.PlaybackLooped, rec.ItemSkipping
	opts.Playback.RateFPS = rec.RateFPS
	opts.Playback.Looped = &looped
	opts.Playback.ItemSkipping = &skipping

	s := newSession(rec.ID, opts)
	if len(rec.Scene) > 0 {
		if err := s.scene.Restore(rec.Scene); err != nil {
			return nil, fmt.Errorf("session: restore %s: %w", rec.ID, err)
		}
	}
	resolve := func(id string) scene.NodeID {
		if id != "" && s.scene.Role(scene.NodeID(id)) == scene.RoleHierarchy {
			return scene.NodeID(id)
		}
		return ""
	}
	s.root = resolve(rec.RootID)
	s.mirrorRoot = resolve(rec.MirrorRootID)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.batch(func() error {
		s.rebuildSequence()
		if b := resolve(rec.SelectedBranchID); b != "" {
			if pos := s.seq.IndexOf(func(id scene.NodeID) bool { return id == b }); pos >= 0 {
				s.state.SetSelected(pos)
			}
		}
		if rec.PlaybackActive && s.seq.Len() > 0 {
			s.state.SetActive(true)
		}
		return nil
	})
	return s, nil
}
