package scene

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Item is the opaque payload held by a data node. CopyInto performs a deep
// value copy of content into dst, which keeps its own identity and display
// name.
type Item interface {
	Kind() string
	CopyInto(dst Item) error
	DisplayName() string
	SetDisplayName(name string)
}

// Factory creates an empty item of one kind.
type Factory func() Item

var (
	ErrUnknownKind  = errors.New("scene: unknown item kind")
	ErrKindMismatch = errors.New("scene: item kind mismatch")
)

// BlobKind is the built-in item kind registered on every scene.
const BlobKind = "blob"

// Blob is a generic item: a media-typed payload plus string metadata.
type Blob struct {
	Name      string            `json:"name"`
	MediaType string            `json:"media_type,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func (b *Blob) Kind() string               { return BlobKind }
func (b *Blob) DisplayName() string        { return b.Name }
func (b *Blob) SetDisplayName(name string) { b.Name = name }

func (b *Blob) CopyInto(dst Item) error {
	d, ok := dst.(*Blob)
	if !ok {
		return fmt.Errorf("%w: %s into %s", ErrKindMismatch, b.Kind(), dst.Kind())
	}
	d.MediaType = b.MediaType
	d.Data = slices.Clone(b.Data)
	d.Meta = maps.Clone(b.Meta)
	return nil
}

// RegisterKind makes kind constructible through NewData and restorable from
// snapshots. Registering an existing kind replaces its factory.
func (s *Scene) RegisterKind(kind string, f Factory) {
	s.kinds[kind] = f
}

func (s *Scene) newItem(kind string) (Item, error) {
	f, ok := s.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(), nil
}
