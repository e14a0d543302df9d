package session

import (
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/store"
)

// requestSync runs a mirror pass now, or at the end of the current batch.
func (s *Session) requestSync() {
	if s.batching > 0 {
		s.needSync = true
		return
	}
	s.resync()
}

// resync mirrors the selected branch. A pass never triggers another one.
func (s *Session) resync() (mirror.Report, error) {
	if s.syncing {
		return mirror.Report{}, nil
	}
	s.syncing = true
	defer func() { s.syncing = false }()

	branch := s.selectedBranch()
	label := ""
	if pos := s.ctl.Selected(); pos >= 0 {
		label = s.seq.Label(pos)
	}
	rep, err := s.sync.Sync(s.scene, mirror.Request{
		Source:     branch,
		MirrorRoot: s.mirrorRoot,
		IndexLabel: label,
	})
	s.lastSync, s.lastError = &rep, err
	s.watch(branch)

	ev := Event{Type: EventSync, Sync: &rep}
	entry := &store.JournalEntry{
		SessionID: s.id,
		BranchID:  string(branch),
		Created:   len(rep.Created),
		Reused:    len(rep.Reused),
		Deleted:   len(rep.Deleted),
	}
	for _, p := range rep.Problems {
		entry.Problems = append(entry.Problems, p.Error())
	}
	if err != nil {
		s.logger.Error("session: mirror pass failed", "branch", branch, "error", err)
		ev.Error = err.Error()
		entry.Error = err.Error()
	}
	if s.opts.Journal != nil && !rep.Skipped {
		s.opts.Journal.Record(entry)
	}
	s.publish(ev)
	return rep, err
}

// watch tracks the nodes whose changes require a new pass: the branch, its
// children and their data objects.
func (s *Session) watch(branch scene.NodeID) {
	clear(s.watched)
	if branch == "" {
		return
	}
	s.watched[branch] = true
	kids, _ := s.scene.Children(branch)
	for _, k := range kids {
		s.watched[k] = true
		if d, ok := s.scene.AssociatedData(k); ok {
			s.watched[d] = true
		}
	}
}

// Resync forces a mirror pass and returns its report.
func (s *Session) Resync() (mirror.Report, error) {
	if err := s.lock(); err != nil {
		return mirror.Report{}, err
	}
	defer s.mu.Unlock()
	return s.resync()
}

// MirrorEntry describes one mirror child.
type MirrorEntry struct {
	Key       string       `json:"source_data_name"`
	Connector scene.NodeID `json:"connector"`
	Data      scene.NodeID `json:"data,omitempty"`
	Name      string       `json:"name"`
	Kind      string       `json:"kind,omitempty"`
	Hidden    bool         `json:"hidden"`
}

// Mirror lists the mirror children in order. It is empty when mirroring is
// disabled.
func (s *Session) Mirror() ([]MirrorEntry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if s.mirrorRoot == "" {
		return nil, nil
	}
	kids, err := s.scene.Children(s.mirrorRoot)
	if err != nil {
		return nil, err
	}
	out := make([]MirrorEntry, 0, len(kids))
	for _, k := range kids {
		key, _ := s.scene.Attribute(k, mirror.AttrSourceDataName)
		e := MirrorEntry{Key: key, Connector: k}
		if d, ok := s.scene.AssociatedData(k); ok {
			e.Data = d
			e.Name = s.scene.Name(d)
			e.Kind = s.scene.Kind(d)
			e.Hidden = s.scene.Hidden(d)
		}
		out = append(out, e)
	}
	return out, nil
}

// MirrorItem returns the item mirrored for key.
func (s *Session) MirrorItem(key string) (scene.Item, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if s.mirrorRoot == "" {
		return nil, ErrNotFound
	}
	kids, _ := s.scene.Children(s.mirrorRoot)
	for _, k := range kids {
		if v, _ := s.scene.Attribute(k, mirror.AttrSourceDataName); v == key {
			if d, ok := s.scene.AssociatedData(k); ok {
				return s.scene.Item(d)
			}
		}
	}
	return nil, ErrNotFound
}
