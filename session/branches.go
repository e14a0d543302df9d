package session

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/sequence"
)

// ChildSpec describes one child of a new branch.
type ChildSpec struct {
	Key  string
	Item scene.Item
}

// AddBranch creates a branch under the session root holding one connector
// and one hidden data object per child, then re-derives the sequence.
// Numeric sequences keep branches ordered by index value.
func (s *Session) AddBranch(indexValue string, children []ChildSpec) (scene.NodeID, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	if s.root == "" {
		return "", fmt.Errorf("%w: no branch root", mirror.ErrPrecondition)
	}
	if s.seq.IndexType == sequence.Numeric {
		if _, err := strconv.ParseFloat(indexValue, 64); err != nil {
			return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidIndex, indexValue)
		}
	} else if indexValue == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIndex)
	}
	for _, c := range children {
		if c.Key == "" || c.Item == nil {
			return "", fmt.Errorf("session: add branch: child needs a key and an item")
		}
	}

	var branch scene.NodeID
	err := s.batch(func() error {
		var err error
		branch, err = s.buildBranch(indexValue, children)
		if err != nil {
			return err
		}
		s.rebuildSequence()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("session: add branch: %w", err)
	}
	s.logger.Debug("session: branch added", "branch", branch, "index_value", indexValue, "children", len(children))
	return branch, nil
}

func (s *Session) buildBranch(indexValue string, children []ChildSpec) (scene.NodeID, error) {
	sc := s.scene
	branch, err := sc.CreateChild(s.root)
	if err != nil {
		return "", err
	}
	fail := func(err error) (scene.NodeID, error) {
		_ = sc.DeleteNode(branch)
		return "", err
	}
	if err := sc.SetAttribute(branch, AttrIndexValue, indexValue); err != nil {
		return fail(err)
	}
	if err := sc.SetName(branch, fmt.Sprintf("%s %s=%s%s", s.opts.Name, s.seq.IndexName, indexValue, s.seq.IndexUnit)); err != nil {
		return fail(err)
	}
	for _, c := range children {
		conn, err := sc.CreateChild(branch)
		if err != nil {
			return fail(err)
		}
		data, err := sc.AddData(c.Item)
		if err != nil {
			return fail(err)
		}
		for _, step := range []func() error{
			func() error { return sc.SetAttribute(conn, mirror.AttrSourceDataName, c.Key) },
			func() error { return sc.SetName(conn, c.Key) },
			func() error { return sc.SetHidden(data, true) },
			func() error { return sc.SetAssociatedData(conn, data) },
		} {
			if err := step(); err != nil {
				_ = sc.DeleteNode(data)
				return fail(err)
			}
		}
	}
	return branch, nil
}

// AttachRoot makes root the branch root. Its children become the branches;
// those without an index value attribute are ignored.
func (s *Session) AttachRoot(root scene.NodeID) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.scene.Role(root) != scene.RoleHierarchy {
		return fmt.Errorf("%w: root %q is not a hierarchy node", mirror.ErrPrecondition, root)
	}
	return s.batch(func() error {
		s.root = root
		s.rebuildSequence()
		return nil
	})
}

// SetMirrorRoot changes where the selected branch is mirrored. An empty ID
// disables mirroring.
func (s *Session) SetMirrorRoot(id scene.NodeID) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if id != "" && s.scene.Role(id) != scene.RoleHierarchy {
		return fmt.Errorf("%w: mirror root %q is not a hierarchy node", mirror.ErrPrecondition, id)
	}
	return s.batch(func() error {
		s.mirrorRoot = id
		s.needSync = true
		return nil
	})
}

// Edit runs fn against the scene under the session lock, the way a host
// application mutates nodes. Changes that touch the branch root or the
// selected branch are reconciled once fn returns.
func (s *Session) Edit(fn func(sc *scene.Scene) error) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.batch(func() error {
		refs := s.scene.ReferencedData()
		s.editing = true
		err := fn(s.scene)
		s.editing = false
		s.applyPending()
		s.dropOrphanedData(refs)
		return err
	})
}

// dropOrphanedData deletes data nodes that were referenced in before and no
// longer are. Data created but not yet linked during the edit is kept.
func (s *Session) dropOrphanedData(before map[scene.NodeID]bool) {
	after := s.scene.ReferencedData()
	for id := range before {
		if after[id] || !s.scene.Exists(id) {
			continue
		}
		if err := s.scene.DeleteNode(id); err != nil {
			s.logger.Warn("session: drop orphaned data", "node", id, "error", err)
		}
	}
}

// batch defers mirror passes requested by fn into one pass at the end.
func (s *Session) batch(fn func() error) error {
	s.batching++
	err := fn()
	s.batching--
	if s.batching == 0 && s.needSync {
		s.needSync = false
		s.resync()
	}
	return err
}

// rebuildSequence re-derives the branch sequence from the root's children
// and keeps the selection on the same branch when it still exists.
func (s *Session) rebuildSequence() {
	prev := s.selectedBranch()

	type entry struct {
		value  string
		branch scene.NodeID
	}
	var entries []entry
	if s.root != "" {
		kids, err := s.scene.Children(s.root)
		if err != nil {
			s.logger.Warn("session: branch root unreadable", "root", s.root, "error", err)
		}
		for _, k := range kids {
			v, ok := s.scene.Attribute(k, AttrIndexValue)
			if !ok {
				s.logger.Debug("session: child without index value ignored", "node", k)
				continue
			}
			entries = append(entries, entry{v, k})
		}
	}
	if s.seq.IndexType == sequence.Numeric {
		slices.SortStableFunc(entries, func(a, b entry) int {
			return cmp.Compare(parseIndex(a.value), parseIndex(b.value))
		})
	}

	seq := newSequence(s.opts)
	for _, e := range entries {
		seq.Append(e.value, e.branch)
	}
	target := s.ctl.Selected()
	if prev != "" {
		if pos := seq.IndexOf(func(id scene.NodeID) bool { return id == prev }); pos >= 0 {
			target = pos
		}
	}
	s.seq = seq
	s.ctl.SetSourceAt(seq, target)
	s.needSync = true
}

func parseIndex(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func (s *Session) selectedBranch() scene.NodeID {
	pos := s.ctl.Selected()
	if pos < 0 {
		return ""
	}
	id, _ := s.seq.ItemAt(pos)
	return id
}

func (s *Session) onSceneEvent(ev scene.Event) {
	s.publish(Event{Type: EventScene, Scene: &ev})
	if s.editing {
		s.pending = append(s.pending, ev)
	}
}

// applyPending reacts to scene changes collected during Edit.
func (s *Session) applyPending() {
	pending := s.pending
	s.pending = nil
	branch := s.selectedBranch()
	rebuild, resync := false, false

	for _, ev := range pending {
		switch {
		case ev.Type == scene.NodeRemoved && ev.Node == s.root:
			s.root = ""
			rebuild = true
		case ev.Type == scene.NodeRemoved && ev.Node == s.mirrorRoot:
			s.mirrorRoot = ""
		}
		if s.root != "" && ev.Parent == s.root {
			rebuild = true
		}
		if ev.Type == scene.Modified && s.root != "" {
			if p, err := s.scene.Parent(ev.Node); err == nil && p == s.root {
				rebuild = true
			}
		}
		if s.watched[ev.Node] || (branch != "" && ev.Parent == branch) {
			resync = true
		}
	}
	if rebuild {
		s.rebuildSequence()
	}
	if resync {
		s.needSync = true
	}
}
