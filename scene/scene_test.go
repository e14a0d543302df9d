package scene

import (
	"errors"
	"slices"
	"testing"

	"github.com/hazyhaar/seqbrowse/idgen"
)

func newTestScene(t *testing.T) (*Scene, *[]Event) {
	t.Helper()
	s := New(Options{NewID: idgen.Sequential("n")})
	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })
	return s, &events
}

func TestCreateChild_Tree(t *testing.T) {
	s, events := newTestScene(t)
	root, err := s.CreateChild("")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := s.CreateChild(root)
	b, _ := s.CreateChild(root)

	kids, err := s.Children(root)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(kids, []NodeID{a, b}) {
		t.Fatalf("Children = %v, want [%s %s]", kids, a, b)
	}
	if p, _ := s.Parent(b); p != root {
		t.Fatalf("Parent(b) = %q, want %q", p, root)
	}
	if len(*events) != 3 || (*events)[1].Type != NodeAdded || (*events)[1].Parent != root {
		t.Fatalf("events = %+v", *events)
	}
}

func TestCreateChild_UnderDataNode(t *testing.T) {
	s, _ := newTestScene(t)
	d, _ := s.NewData(BlobKind)
	if _, err := s.CreateChild(d); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("err = %v, want ErrWrongRole", err)
	}
}

func TestDeleteNode_Recursive(t *testing.T) {
	s, events := newTestScene(t)
	root, _ := s.CreateChild("")
	branch, _ := s.CreateChild(root)
	leaf, _ := s.CreateChild(branch)
	data, _ := s.NewData(BlobKind)
	if err := s.SetAssociatedData(leaf, data); err != nil {
		t.Fatal(err)
	}
	*events = nil

	if err := s.DeleteNode(branch); err != nil {
		t.Fatal(err)
	}
	if s.Exists(branch) || s.Exists(leaf) {
		t.Fatal("branch subtree still present")
	}
	if !s.Exists(data) {
		t.Fatal("referenced data node should survive hierarchy deletion")
	}
	if kids, _ := s.Children(root); len(kids) != 0 {
		t.Fatalf("root children = %v", kids)
	}
	if len(*events) != 2 || (*events)[0].Node != leaf || (*events)[1].Node != branch {
		t.Fatalf("removal events = %+v", *events)
	}
}

func TestDeleteData_ClearsReferences(t *testing.T) {
	s, _ := newTestScene(t)
	h, _ := s.CreateChild("")
	d, _ := s.NewData(BlobKind)
	_ = s.SetAssociatedData(h, d)
	if err := s.DeleteNode(d); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.AssociatedData(h); ok {
		t.Fatal("dangling associated data reference")
	}
}

func TestReferencedData(t *testing.T) {
	s, _ := newTestScene(t)
	a, _ := s.CreateChild("")
	b, _ := s.CreateChild("")
	shared, _ := s.NewData(BlobKind)
	loose, _ := s.NewData(BlobKind)
	_ = s.SetAssociatedData(a, shared)
	_ = s.SetAssociatedData(b, shared)

	refs := s.ReferencedData()
	if len(refs) != 1 || !refs[shared] || refs[loose] {
		t.Fatalf("refs = %v", refs)
	}
	_ = s.DeleteNode(a)
	if !s.ReferencedData()[shared] {
		t.Fatal("data still referenced by b reported as free")
	}
}

func TestSetters_SuppressNoOp(t *testing.T) {
	s, events := newTestScene(t)
	h, _ := s.CreateChild("")
	*events = nil

	_ = s.SetAttribute(h, "k", "v")
	_ = s.SetAttribute(h, "k", "v")
	_ = s.SetHidden(h, true)
	_ = s.SetHidden(h, true)
	_ = s.SetName(h, "x")
	_ = s.SetName(h, "x")
	if len(*events) != 3 {
		t.Fatalf("events = %d, want 3: %+v", len(*events), *events)
	}
	if v, ok := s.Attribute(h, "k"); !ok || v != "v" {
		t.Fatalf("Attribute = %q,%v", v, ok)
	}
	_ = s.SetAttribute(h, "k", "")
	if _, ok := s.Attribute(h, "k"); ok {
		t.Fatal("empty value should remove attribute")
	}
}

func TestCopyItem_PreservesIdentityAndName(t *testing.T) {
	s, events := newTestScene(t)
	src, _ := s.AddData(&Blob{Name: "heart", MediaType: "text/plain", Data: []byte("beat")})
	dst, _ := s.AddData(&Blob{Name: "old"})
	*events = nil

	if err := s.CopyItem(src, dst); err != nil {
		t.Fatal(err)
	}
	item, _ := s.Item(dst)
	b := item.(*Blob)
	if string(b.Data) != "beat" || b.MediaType != "text/plain" {
		t.Fatalf("dst content = %+v", b)
	}
	if b.Name != "old" {
		t.Fatalf("dst name = %q, copy must not rename", b.Name)
	}
	// Deep copy.
	srcItem, _ := s.Item(src)
	srcItem.(*Blob).Data[0] = 'B'
	if string(b.Data) != "beat" {
		t.Fatal("copy shares payload with source")
	}
	if len(*events) != 1 || (*events)[0].Type != ItemReplaced || (*events)[0].Node != dst {
		t.Fatalf("events = %+v", *events)
	}
}

type otherItem struct{ name string }

func (o *otherItem) Kind() string               { return "other" }
func (o *otherItem) CopyInto(Item) error        { return nil }
func (o *otherItem) DisplayName() string        { return o.name }
func (o *otherItem) SetDisplayName(name string) { o.name = name }

func TestCopyItem_KindMismatch(t *testing.T) {
	s, _ := newTestScene(t)
	src, _ := s.AddData(&Blob{})
	dst, _ := s.AddData(&otherItem{})
	if err := s.CopyItem(src, dst); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("err = %v, want ErrKindMismatch", err)
	}
}

func TestNewData_UnknownKind(t *testing.T) {
	s, _ := newTestScene(t)
	if _, err := s.NewData("volume"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
	s.RegisterKind("other", func() Item { return &otherItem{} })
	id, err := s.NewData("other")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind(id) != "other" {
		t.Fatalf("Kind = %q", s.Kind(id))
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	s := New(Options{})
	n := 0
	cancel := s.Subscribe(func(Event) { n++ })
	_, _ = s.CreateChild("")
	cancel()
	_, _ = s.CreateChild("")
	if n != 1 {
		t.Fatalf("handler calls = %d, want 1", n)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s, _ := newTestScene(t)
	root, _ := s.CreateChild("")
	_ = s.SetName(root, "root")
	c, _ := s.CreateChild(root)
	_ = s.SetAttribute(c, "sourceDataName", "A")
	_ = s.SetHidden(c, true)
	d, _ := s.AddData(&Blob{Name: "a", Data: []byte{1, 2}})
	_ = s.SetAssociatedData(c, d)

	raw, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	r := New(Options{})
	if err := r.Restore(raw); err != nil {
		t.Fatal(err)
	}
	if r.Name(root) != "root" || !r.Hidden(c) {
		t.Fatal("hierarchy fields lost")
	}
	if v, _ := r.Attribute(c, "sourceDataName"); v != "A" {
		t.Fatalf("attribute = %q", v)
	}
	if got, _ := r.AssociatedData(c); got != d {
		t.Fatalf("associated data = %q, want %q", got, d)
	}
	item, err := r.Item(d)
	if err != nil {
		t.Fatal(err)
	}
	if item.DisplayName() != "a" || len(item.(*Blob).Data) != 2 {
		t.Fatalf("item = %+v", item)
	}
	if err := r.Restore(raw); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("second restore err = %v, want ErrNotEmpty", err)
	}
}
