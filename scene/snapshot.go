package scene

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNotEmpty is returned by Restore on a scene that already holds nodes.
var ErrNotEmpty = errors.New("scene: restore into non-empty scene")

type nodeRecord struct {
	ID       NodeID            `json:"id"`
	Role     Role              `json:"role"`
	Name     string            `json:"name,omitempty"`
	Parent   NodeID            `json:"parent,omitempty"`
	Children []NodeID          `json:"children,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Hidden   bool              `json:"hidden,omitempty"`
	Data     NodeID            `json:"data,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Item     json.RawMessage   `json:"item,omitempty"`
}

// Snapshot serialises every node to JSON. Items are encoded with
// encoding/json, so registered kinds must round-trip through it.
func (s *Scene) Snapshot() ([]byte, error) {
	recs := make([]nodeRecord, 0, len(s.nodes))
	for _, n := range s.nodes {
		rec := nodeRecord{
			ID:       n.id,
			Role:     n.role,
			Name:     n.name,
			Parent:   n.parent,
			Children: n.children,
			Attrs:    n.attrs,
			Hidden:   n.hidden,
			Data:     n.data,
		}
		if n.role == RoleData {
			raw, err := json.Marshal(n.item)
			if err != nil {
				return nil, fmt.Errorf("scene: snapshot %s: %w", n.id, err)
			}
			rec.Kind = n.item.Kind()
			rec.Item = raw
		}
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b nodeRecord) int { return cmp.Compare(a.ID, b.ID) })
	return json.Marshal(recs)
}

// Restore loads a Snapshot into an empty scene. No events are emitted.
func (s *Scene) Restore(data []byte) error {
	if len(s.nodes) > 0 {
		return ErrNotEmpty
	}
	var recs []nodeRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("scene: restore: %w", err)
	}
	nodes := make(map[NodeID]*node, len(recs))
	for _, rec := range recs {
		n := &node{
			id:       rec.ID,
			role:     rec.Role,
			name:     rec.Name,
			parent:   rec.Parent,
			children: rec.Children,
			attrs:    rec.Attrs,
			hidden:   rec.Hidden,
			data:     rec.Data,
		}
		if n.attrs == nil {
			n.attrs = map[string]string{}
		}
		switch rec.Role {
		case RoleData:
			item, err := s.newItem(rec.Kind)
			if err != nil {
				return fmt.Errorf("scene: restore %s: %w", rec.ID, err)
			}
			if err := json.Unmarshal(rec.Item, item); err != nil {
				return fmt.Errorf("scene: restore %s: %w", rec.ID, err)
			}
			n.item = item
		case RoleHierarchy:
		default:
			return fmt.Errorf("scene: restore %s: %w: %d", rec.ID, ErrWrongRole, rec.Role)
		}
		nodes[n.id] = n
	}
	for _, n := range nodes {
		if n.parent != "" {
			if _, ok := nodes[n.parent]; !ok {
				return fmt.Errorf("scene: restore %s: parent %w", n.id, ErrNodeNotFound)
			}
		}
		for _, c := range n.children {
			if _, ok := nodes[c]; !ok {
				return fmt.Errorf("scene: restore %s: child %w", n.id, ErrNodeNotFound)
			}
		}
		if n.data != "" {
			if _, ok := nodes[n.data]; !ok {
				n.data = ""
			}
		}
	}
	maps.Copy(s.nodes, nodes)
	return nil
}
