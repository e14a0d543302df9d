// Package mirror keeps the children of a mirror root consistent with the
// children of whichever source branch is selected.
//
// Children are matched across passes by their sourceDataName attribute, so a
// logical slot keeps its mirror node (and that node's data object) for as
// long as some selected branch provides it. Content is copied into the
// existing data object rather than swapped, which keeps identities stable
// for observers.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/seqbrowse/scene"
)

// AttrSourceDataName is the matching key carried by source and mirror
// children.
const AttrSourceDataName = "sourceDataName"

var (
	// ErrPrecondition means the pass could not start: no scene, or a mirror
	// root that does not exist in it.
	ErrPrecondition = errors.New("mirror: precondition failed")
	// ErrMissingAttribute marks a child without a usable sourceDataName.
	ErrMissingAttribute = errors.New("mirror: missing attribute")
	// ErrMissingData marks a source child with no associated data object.
	ErrMissingData = errors.New("mirror: missing associated data")
	// ErrDuplicateKey marks a source child whose key was already mirrored
	// in this pass.
	ErrDuplicateKey = errors.New("mirror: duplicate sourceDataName")
)

// Provider is the part of the host scene the synchronizer needs.
// *scene.Scene implements it.
type Provider interface {
	Exists(id scene.NodeID) bool
	CreateChild(parent scene.NodeID) (scene.NodeID, error)
	DeleteNode(id scene.NodeID) error
	Children(id scene.NodeID) ([]scene.NodeID, error)
	Attribute(id scene.NodeID, key string) (string, bool)
	SetAttribute(id scene.NodeID, key, value string) error
	SetHidden(id scene.NodeID, hidden bool) error
	Name(id scene.NodeID) string
	SetName(id scene.NodeID, name string) error
	AssociatedData(id scene.NodeID) (scene.NodeID, bool)
	SetAssociatedData(id, data scene.NodeID) error
	Kind(id scene.NodeID) string
	NewDataLike(src scene.NodeID) (scene.NodeID, error)
	CopyItem(src, dst scene.NodeID) error
}

// RenameMode selects how a mirrored data object receives its display name.
type RenameMode int

const (
	// RenameReplaceEvent sets the name once. Observers learn about the new
	// content from the ItemReplaced event emitted by the copy.
	RenameReplaceEvent RenameMode = iota
	// RenameClearThenSet writes an empty name before the real one, for
	// observers that only react to Renamed.
	RenameClearThenSet
)

func (m RenameMode) String() string {
	if m == RenameClearThenSet {
		return "clear_then_set"
	}
	return "replace_event"
}

// ParseRenameMode accepts "replace_event" (or "") and "clear_then_set".
func ParseRenameMode(s string) (RenameMode, error) {
	switch s {
	case "", "replace_event":
		return RenameReplaceEvent, nil
	case "clear_then_set":
		return RenameClearThenSet, nil
	}
	return 0, fmt.Errorf("mirror: unknown rename mode %q", s)
}

// Options configures a Synchronizer.
type Options struct {
	Logger     *slog.Logger
	RenameMode RenameMode
	// ClearOnDeselect empties the mirror when no branch is selected.
	// By default the last synchronized content is kept.
	ClearOnDeselect bool
	// OverwriteProxyName names each mirrored data object
	// "<source name> [<index label>]" instead of copying the source name.
	OverwriteProxyName bool
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Synchronizer runs reconcile passes. It holds no per-pass state and may be
// shared by sessions, as long as each pass runs under its session's lock.
type Synchronizer struct {
	opts Options
}

// New returns a Synchronizer.
func New(opts Options) *Synchronizer {
	opts.defaults()
	return &Synchronizer{opts: opts}
}

// Options returns the effective options.
func (s *Synchronizer) Options() Options { return s.opts }

// Request names the two subtrees of one pass. Empty IDs mean absent.
type Request struct {
	Source     scene.NodeID
	MirrorRoot scene.NodeID
	IndexLabel string
}
