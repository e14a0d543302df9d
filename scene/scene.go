// Package scene is an in-memory node store: an arena of nodes addressed by
// stable IDs, with explicit parent/child tables and a publish/subscribe bus.
//
// Two roles exist. Hierarchy nodes form the tree, carry string attributes
// and may reference one data node. Data nodes hold an Item and live outside
// the tree.
//
// A Scene is not safe for concurrent use. Handlers are invoked synchronously
// from the mutating call, so the owner's lock covers them too.
package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/hazyhaar/seqbrowse/idgen"
)

// NodeID identifies a node. The empty ID means "no node".
type NodeID string

// Role is fixed when a node is created.
type Role int

const (
	RoleHierarchy Role = iota + 1
	RoleData
)

func (r Role) String() string {
	switch r {
	case RoleHierarchy:
		return "hierarchy"
	case RoleData:
		return "data"
	default:
		return "unknown"
	}
}

var (
	ErrNodeNotFound = errors.New("scene: node not found")
	ErrWrongRole    = errors.New("scene: wrong node role")
)

type node struct {
	id       NodeID
	role     Role
	name     string
	parent   NodeID
	children []NodeID
	attrs    map[string]string
	hidden   bool
	data     NodeID // hierarchy only
	item     Item   // data only
}

// Options configures a Scene.
type Options struct {
	Logger *slog.Logger
	NewID  idgen.Generator
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = idgen.ULID()
	}
}

// Scene owns all nodes.
type Scene struct {
	opts    Options
	nodes   map[NodeID]*node
	kinds   map[string]Factory
	subs    []subscription
	nextSub int
}

// New creates an empty scene with the blob kind registered.
func New(opts Options) *Scene {
	opts.defaults()
	s := &Scene{
		opts:  opts,
		nodes: make(map[NodeID]*node),
		kinds: make(map[string]Factory),
	}
	s.RegisterKind(BlobKind, func() Item { return &Blob{} })
	return s
}

func (s *Scene) get(id NodeID) (*node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

func (s *Scene) getRole(id NodeID, role Role) (*node, error) {
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if n.role != role {
		return nil, fmt.Errorf("%w: %q is %s, want %s", ErrWrongRole, id, n.role, role)
	}
	return n, nil
}

// Exists reports whether id names a live node.
func (s *Scene) Exists(id NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

// Role returns the role of id, or 0 if it does not exist.
func (s *Scene) Role(id NodeID) Role {
	if n, ok := s.nodes[id]; ok {
		return n.role
	}
	return 0
}

// Len returns the number of live nodes.
func (s *Scene) Len() int { return len(s.nodes) }

// CreateChild creates a hierarchy node under parent. An empty parent makes a
// top-level node.
func (s *Scene) CreateChild(parent NodeID) (NodeID, error) {
	var p *node
	if parent != "" {
		var err error
		if p, err = s.getRole(parent, RoleHierarchy); err != nil {
			return "", fmt.Errorf("scene: create child: %w", err)
		}
	}
	n := &node{id: NodeID(s.opts.NewID()), role: RoleHierarchy, parent: parent, attrs: map[string]string{}}
	s.nodes[n.id] = n
	if p != nil {
		p.children = append(p.children, n.id)
	}
	s.emit(Event{Type: NodeAdded, Node: n.id, Parent: parent})
	return n.id, nil
}

// AddData stores item in a new data node.
func (s *Scene) AddData(item Item) (NodeID, error) {
	if item == nil {
		return "", errors.New("scene: add data: nil item")
	}
	n := &node{id: NodeID(s.opts.NewID()), role: RoleData, item: item, attrs: map[string]string{}}
	s.nodes[n.id] = n
	s.emit(Event{Type: NodeAdded, Node: n.id})
	return n.id, nil
}

// NewData creates a data node holding an empty item of kind.
func (s *Scene) NewData(kind string) (NodeID, error) {
	item, err := s.newItem(kind)
	if err != nil {
		return "", fmt.Errorf("scene: new data: %w", err)
	}
	return s.AddData(item)
}

// DeleteNode removes id. Hierarchy nodes take their descendants with them;
// referenced data nodes are left in place.
func (s *Scene) DeleteNode(id NodeID) error {
	n, err := s.get(id)
	if err != nil {
		return fmt.Errorf("scene: delete: %w", err)
	}
	for _, c := range slices.Clone(n.children) {
		if err := s.DeleteNode(c); err != nil {
			return err
		}
	}
	if p, ok := s.nodes[n.parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(c NodeID) bool { return c == id })
	}
	if n.role == RoleData {
		for _, other := range s.nodes {
			if other.data == id {
				other.data = ""
			}
		}
	}
	delete(s.nodes, id)
	s.emit(Event{Type: NodeRemoved, Node: id, Parent: n.parent})
	return nil
}

// Children returns the ordered children of a hierarchy node.
func (s *Scene) Children(id NodeID) ([]NodeID, error) {
	n, err := s.getRole(id, RoleHierarchy)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.children), nil
}

// Parent returns the parent of id, empty for top-level and data nodes.
func (s *Scene) Parent(id NodeID) (NodeID, error) {
	n, err := s.get(id)
	if err != nil {
		return "", err
	}
	return n.parent, nil
}

// Attribute returns the value of key on id.
func (s *Scene) Attribute(id NodeID, key string) (string, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return "", false
	}
	v, ok := n.attrs[key]
	return v, ok
}

// Attributes returns a copy of all attributes of id.
func (s *Scene) Attributes(id NodeID) (map[string]string, error) {
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return maps.Clone(n.attrs), nil
}

// SetAttribute sets key on id. An empty value removes the attribute.
func (s *Scene) SetAttribute(id NodeID, key, value string) error {
	n, err := s.get(id)
	if err != nil {
		return fmt.Errorf("scene: set attribute: %w", err)
	}
	old, had := n.attrs[key]
	if value == "" {
		if !had {
			return nil
		}
		delete(n.attrs, key)
	} else {
		if had && old == value {
			return nil
		}
		n.attrs[key] = value
	}
	s.emit(Event{Type: Modified, Node: id})
	return nil
}

// Hidden reports whether id is hidden from interactive editors.
func (s *Scene) Hidden(id NodeID) bool {
	n, ok := s.nodes[id]
	return ok && n.hidden
}

// SetHidden flags id as hidden from (or visible to) interactive editors.
func (s *Scene) SetHidden(id NodeID, hidden bool) error {
	n, err := s.get(id)
	if err != nil {
		return fmt.Errorf("scene: set hidden: %w", err)
	}
	if n.hidden == hidden {
		return nil
	}
	n.hidden = hidden
	s.emit(Event{Type: Modified, Node: id})
	return nil
}

// Name returns the node name. For data nodes this is the item display name.
func (s *Scene) Name(id NodeID) string {
	n, ok := s.nodes[id]
	if !ok {
		return ""
	}
	if n.role == RoleData {
		return n.item.DisplayName()
	}
	return n.name
}

// SetName renames id. Assigning the current name emits nothing.
func (s *Scene) SetName(id NodeID, name string) error {
	n, err := s.get(id)
	if err != nil {
		return fmt.Errorf("scene: set name: %w", err)
	}
	if n.role == RoleData {
		if n.item.DisplayName() == name {
			return nil
		}
		n.item.SetDisplayName(name)
	} else {
		if n.name == name {
			return nil
		}
		n.name = name
	}
	s.emit(Event{Type: Renamed, Node: id})
	return nil
}

// AssociatedData returns the data node referenced by a hierarchy node.
func (s *Scene) AssociatedData(id NodeID) (NodeID, bool) {
	n, ok := s.nodes[id]
	if !ok || n.data == "" {
		return "", false
	}
	return n.data, true
}

// SetAssociatedData points hierarchy node id at data node data. An empty
// data clears the reference.
func (s *Scene) SetAssociatedData(id, data NodeID) error {
	n, err := s.getRole(id, RoleHierarchy)
	if err != nil {
		return fmt.Errorf("scene: set associated data: %w", err)
	}
	if data != "" {
		if _, err := s.getRole(data, RoleData); err != nil {
			return fmt.Errorf("scene: set associated data: %w", err)
		}
	}
	if n.data == data {
		return nil
	}
	n.data = data
	s.emit(Event{Type: Modified, Node: id})
	return nil
}

// ReferencedData returns the data nodes some hierarchy node points at.
func (s *Scene) ReferencedData() map[NodeID]bool {
	refs := make(map[NodeID]bool)
	for _, n := range s.nodes {
		if n.data != "" {
			refs[n.data] = true
		}
	}
	return refs
}

// Item returns the item held by a data node.
func (s *Scene) Item(id NodeID) (Item, error) {
	n, err := s.getRole(id, RoleData)
	if err != nil {
		return nil, err
	}
	return n.item, nil
}

// Kind returns the item kind of a data node, empty if id is not one.
func (s *Scene) Kind(id NodeID) string {
	n, ok := s.nodes[id]
	if !ok || n.role != RoleData {
		return ""
	}
	return n.item.Kind()
}

// NewDataLike creates an empty data node of the same kind as src.
func (s *Scene) NewDataLike(src NodeID) (NodeID, error) {
	n, err := s.getRole(src, RoleData)
	if err != nil {
		return "", fmt.Errorf("scene: new data like: %w", err)
	}
	return s.NewData(n.item.Kind())
}

// CopyItem overwrites the content of dst with the content of src. The
// destination keeps its node identity and display name.
func (s *Scene) CopyItem(src, dst NodeID) error {
	sn, err := s.getRole(src, RoleData)
	if err != nil {
		return fmt.Errorf("scene: copy item: %w", err)
	}
	dn, err := s.getRole(dst, RoleData)
	if err != nil {
		return fmt.Errorf("scene: copy item: %w", err)
	}
	if err := sn.item.CopyInto(dn.item); err != nil {
		return fmt.Errorf("scene: copy item: %w", err)
	}
	s.emit(Event{Type: ItemReplaced, Node: dst})
	return nil
}
