package mirror

import (
	"fmt"

	"github.com/hazyhaar/seqbrowse/scene"
)

// Sync makes the children of req.MirrorRoot reflect the children of
// req.Source. Running it twice on unchanged input creates and deletes
// nothing the second time.
//
// A nil provider or a mirror root missing from the scene fails with
// ErrPrecondition. Per-item problems are collected in the report.
func (s *Synchronizer) Sync(p Provider, req Request) (Report, error) {
	var rep Report
	if p == nil {
		return rep, fmt.Errorf("%w: no scene attached", ErrPrecondition)
	}
	if req.MirrorRoot == "" {
		rep.Skipped = true
		return rep, nil
	}
	if !p.Exists(req.MirrorRoot) {
		return rep, fmt.Errorf("%w: mirror root %q not in scene", ErrPrecondition, req.MirrorRoot)
	}

	existing, err := p.Children(req.MirrorRoot)
	if err != nil {
		return rep, fmt.Errorf("mirror: list mirror children: %w", err)
	}

	source := req.Source
	if source != "" && !p.Exists(source) {
		s.opts.Logger.Warn("mirror: selected branch no longer exists", "branch", source)
		source = ""
	}
	if source == "" {
		if !s.opts.ClearOnDeselect {
			rep.Skipped = true
			return rep, nil
		}
		for _, m := range existing {
			s.remove(p, m, &rep)
		}
		return rep, nil
	}

	sourceChildren, err := p.Children(source)
	if err != nil {
		return rep, fmt.Errorf("mirror: list source children: %w", err)
	}

	byKey := make(map[string]scene.NodeID, len(existing))
	for _, m := range existing {
		key, _ := p.Attribute(m, AttrSourceDataName)
		if key == "" {
			s.problem(&rep, m, fmt.Errorf("%w: mirror child has no %s", ErrMissingAttribute, AttrSourceDataName))
			continue
		}
		if _, dup := byKey[key]; !dup {
			byKey[key] = m
		}
	}

	valid := make(map[scene.NodeID]bool, len(sourceChildren))
	seen := make(map[string]bool, len(sourceChildren))
	rootName := p.Name(req.MirrorRoot)

	for _, src := range sourceChildren {
		key, _ := p.Attribute(src, AttrSourceDataName)
		if key == "" {
			s.problem(&rep, src, fmt.Errorf("%w: source child has no %s", ErrMissingAttribute, AttrSourceDataName))
			continue
		}
		if seen[key] {
			s.problem(&rep, src, fmt.Errorf("%w: %q", ErrDuplicateKey, key))
			continue
		}
		seen[key] = true

		srcData, ok := p.AssociatedData(src)
		if !ok {
			s.problem(&rep, src, fmt.Errorf("%w: %q", ErrMissingData, key))
			continue
		}

		slot, created, err := s.slotFor(p, req.MirrorRoot, rootName, key, srcData, byKey[key])
		if err != nil {
			s.problem(&rep, src, err)
			continue
		}
		if err := s.fill(p, srcData, slot.Data, req.IndexLabel); err != nil {
			s.problem(&rep, src, err)
		}
		valid[slot.Node] = true
		if created {
			rep.Created = append(rep.Created, slot)
		} else {
			rep.Reused = append(rep.Reused, slot)
		}
	}

	for _, m := range existing {
		if !valid[m] {
			s.remove(p, m, &rep)
		}
	}

	s.opts.Logger.Debug("mirror: sync pass",
		"source", source, "mirror_root", req.MirrorRoot,
		"created", len(rep.Created), "reused", len(rep.Reused),
		"deleted", len(rep.Deleted), "problems", len(rep.Problems))
	return rep, nil
}

// slotFor returns the mirror child for key, creating the connector and its
// data object when none exists yet. A reused child whose data object is
// missing or of another kind gets a fresh one.
func (s *Synchronizer) slotFor(p Provider, root scene.NodeID, rootName, key string, srcData, m scene.NodeID) (Slot, bool, error) {
	if m != "" {
		data, ok := p.AssociatedData(m)
		if ok && p.Kind(data) == p.Kind(srcData) {
			return Slot{Key: key, Node: m, Data: data}, false, nil
		}
		fresh, err := p.NewDataLike(srcData)
		if err != nil {
			return Slot{}, false, fmt.Errorf("mirror: replace data for %q: %w", key, err)
		}
		if err := p.SetAssociatedData(m, fresh); err != nil {
			_ = p.DeleteNode(fresh)
			return Slot{}, false, fmt.Errorf("mirror: replace data for %q: %w", key, err)
		}
		if ok {
			_ = p.DeleteNode(data)
		}
		return Slot{Key: key, Node: m, Data: fresh}, false, nil
	}

	data, err := p.NewDataLike(srcData)
	if err != nil {
		return Slot{}, false, fmt.Errorf("mirror: create data for %q: %w", key, err)
	}
	conn, err := p.CreateChild(root)
	if err != nil {
		_ = p.DeleteNode(data)
		return Slot{}, false, fmt.Errorf("mirror: create connector for %q: %w", key, err)
	}
	steps := []func() error{
		func() error { return p.SetAttribute(conn, AttrSourceDataName, key) },
		func() error { return p.SetName(conn, rootName+" "+key+" connector") },
		func() error { return p.SetHidden(conn, true) },
		func() error { return p.SetAssociatedData(conn, data) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = p.DeleteNode(conn)
			_ = p.DeleteNode(data)
			return Slot{}, false, fmt.Errorf("mirror: set up connector for %q: %w", key, err)
		}
	}
	return Slot{Key: key, Node: conn, Data: data}, true, nil
}

// fill copies content and name from srcData into dst and makes dst visible.
func (s *Synchronizer) fill(p Provider, srcData, dst scene.NodeID, label string) error {
	if err := p.CopyItem(srcData, dst); err != nil {
		return fmt.Errorf("mirror: copy: %w", err)
	}
	name := p.Name(srcData)
	if s.opts.OverwriteProxyName && label != "" {
		name = fmt.Sprintf("%s [%s]", name, label)
	}
	if s.opts.RenameMode == RenameClearThenSet {
		if err := p.SetName(dst, ""); err != nil {
			return fmt.Errorf("mirror: rename: %w", err)
		}
	}
	if err := p.SetName(dst, name); err != nil {
		return fmt.Errorf("mirror: rename: %w", err)
	}
	if err := p.SetHidden(dst, false); err != nil {
		return fmt.Errorf("mirror: unhide: %w", err)
	}
	return nil
}

// remove deletes mirror child m together with its data object.
func (s *Synchronizer) remove(p Provider, m scene.NodeID, rep *Report) {
	key, _ := p.Attribute(m, AttrSourceDataName)
	data, hasData := p.AssociatedData(m)
	if err := p.DeleteNode(m); err != nil {
		s.problem(rep, m, fmt.Errorf("mirror: delete orphan: %w", err))
		return
	}
	if hasData {
		if err := p.DeleteNode(data); err != nil {
			s.problem(rep, data, fmt.Errorf("mirror: delete orphan data: %w", err))
		}
	}
	rep.Deleted = append(rep.Deleted, Slot{Key: key, Node: m, Data: data})
}

func (s *Synchronizer) problem(rep *Report, node scene.NodeID, err error) {
	s.opts.Logger.Warn("mirror: item skipped", "node", node, "error", err)
	rep.Problems = append(rep.Problems, Problem{Node: node, Err: err})
}
