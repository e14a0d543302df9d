package session

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/dbopen"
	"github.com/hazyhaar/seqbrowse/idgen"
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/scene"
	"github.com/hazyhaar/seqbrowse/store"
)

func blob(name, body string) *scene.Blob {
	return &scene.Blob{Name: name, MediaType: "text/plain", Data: []byte(body)}
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.NewNodeID == nil {
		opts.NewNodeID = idgen.Sequential("n")
	}
	s, err := New("s1", opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// addBranches adds one branch per index value, each with children A and B
// whose payload embeds the index value.
func addBranches(t *testing.T, s *Session, values ...string) []scene.NodeID {
	t.Helper()
	var ids []scene.NodeID
	for _, v := range values {
		id, err := s.AddBranch(v, []ChildSpec{
			{Key: "A", Item: blob("A", "A@"+v)},
			{Key: "B", Item: blob("B", "B@"+v)},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func mirrorKeys(t *testing.T, s *Session) []string {
	t.Helper()
	entries, err := s.Mirror()
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	sort.Strings(keys)
	return keys
}

func payload(t *testing.T, s *Session, key string) string {
	t.Helper()
	item, err := s.MirrorItem(key)
	if err != nil {
		t.Fatalf("MirrorItem(%s): %v", key, err)
	}
	return string(item.(*scene.Blob).Data)
}

func TestSelectionDrivesMirror(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "1", "2")

	if keys := mirrorKeys(t, s); len(keys) != 0 {
		t.Fatalf("mirror before selection = %v", keys)
	}
	v, err := s.SelectFirst()
	if err != nil {
		t.Fatal(err)
	}
	if v.Selected != 0 || v.IndexValue != "0" {
		t.Fatalf("view = %+v", v)
	}
	if got := payload(t, s, "A"); got != "A@0" {
		t.Fatalf("A = %q", got)
	}

	entries, _ := s.Mirror()
	connA := entries[0].Connector
	if _, err := s.SelectNext(); err != nil {
		t.Fatal(err)
	}
	if got := payload(t, s, "A"); got != "A@1" {
		t.Fatalf("A after next = %q", got)
	}
	entries, _ = s.Mirror()
	if entries[0].Connector != connA {
		t.Fatal("mirror connector identity changed across selections")
	}
	if entries[0].Hidden {
		t.Fatal("mirrored data should be visible")
	}
}

func TestAddBranch_NumericOrder(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "2.0", "0.5", "1.0")
	_, _ = s.SelectFirst()
	v, _ := s.View()
	if v.IndexValue != "0.5" || v.Length != 3 {
		t.Fatalf("first branch = %+v", v)
	}
	v, _ = s.SelectLast()
	if v.IndexValue != "2.0" {
		t.Fatalf("last branch index = %q", v.IndexValue)
	}
}

func TestAddBranch_KeepsSelectedBranch(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "1", "2")
	_, _ = s.SelectExplicit(0)
	addBranches(t, s, "0")
	v, _ := s.View()
	if v.SelectedBranch != ids[0] || v.Selected != 1 {
		t.Fatalf("selection moved off its branch: %+v", v)
	}
}

func TestAddBranch_InvalidIndex(t *testing.T) {
	s := newTestSession(t, Options{})
	if _, err := s.AddBranch("soon", nil); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("err = %v, want ErrInvalidIndex", err)
	}
}

func TestSeek(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "0.5", "1.0")

	v, err := s.Seek("0.7", false)
	if err != nil || v.IndexValue != "0.5" {
		t.Fatalf("Seek closest: %+v, %v", v, err)
	}
	if _, err := s.Seek("0.7", true); !errors.Is(err, browser.ErrInvalidOperation) {
		t.Fatalf("Seek exact err = %v", err)
	}
	v, _ = s.View()
	if v.IndexValue != "0.5" {
		t.Fatalf("failed seek changed selection: %+v", v)
	}
}

func TestSeek_RejectsNonNumeric(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "1", "2")
	_, _ = s.SelectLast()

	for _, exact := range []bool{true, false} {
		v, err := s.Seek("not-a-number", exact)
		if !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("Seek(exact=%v) err = %v, want ErrInvalidIndex", exact, err)
		}
		if v.Selected != 2 {
			t.Fatalf("Seek(exact=%v) moved selection to %d", exact, v.Selected)
		}
	}
}

func TestSeek_DuplicateValuesSelectFirst(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "0", "1", "1")

	v, err := s.Seek("1", true)
	if err != nil {
		t.Fatal(err)
	}
	if v.Selected != 1 || v.SelectedBranch != ids[1] {
		t.Fatalf("Seek(1) = %d (%s), want first branch at 1", v.Selected, v.SelectedBranch)
	}
}

func TestPlaybackTicks(t *testing.T) {
	looped := false
	s := newTestSession(t, Options{Playback: browser.Options{Looped: &looped}})
	addBranches(t, s, "0", "1", "2")
	if _, err := s.Play(); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if _, err := s.Tick(); err != nil {
			t.Fatal(err)
		}
	}
	v, _ := s.View()
	if v.Selected != 2 || v.Active {
		t.Fatalf("after end of non-looped playback: %+v", v)
	}
	if got := payload(t, s, "B"); got != "B@2" {
		t.Fatalf("B = %q", got)
	}
}

func TestPlay_Empty(t *testing.T) {
	s := newTestSession(t, Options{})
	if _, err := s.Play(); !errors.Is(err, browser.ErrInvalidOperation) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdatePlayback(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0")
	on, off, rate := true, false, 25.0
	v, err := s.UpdatePlayback(PlaybackUpdate{Active: &on, Looped: &off, RateFPS: &rate})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Active || v.Looped || v.RateFPS != 25 {
		t.Fatalf("view = %+v", v)
	}
	bad := -3.0
	if _, err := s.UpdatePlayback(PlaybackUpdate{Active: &off, RateFPS: &bad}); !errors.Is(err, browser.ErrInvalidOperation) {
		t.Fatalf("err = %v", err)
	}
	v, _ = s.View()
	if !v.Active || v.RateFPS != 25 {
		t.Fatalf("rejected update changed state: %+v", v)
	}
}

func TestEdit_ModifiedSourceResyncs(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "0", "1")
	_, _ = s.SelectExplicit(1)

	err := s.Edit(func(sc *scene.Scene) error {
		kids, _ := sc.Children(ids[1])
		conn, _ := sc.CreateChild(ids[1])
		_ = sc.SetAttribute(conn, mirror.AttrSourceDataName, "C")
		d, _ := sc.AddData(blob("C", "C@1"))
		_ = sc.SetAssociatedData(conn, d)
		return sc.DeleteNode(kids[0])
	})
	if err != nil {
		t.Fatal(err)
	}
	if keys := mirrorKeys(t, s); !slices.Equal(keys, []string{"B", "C"}) {
		t.Fatalf("mirror = %v, want [B C]", keys)
	}
}

func TestEdit_UnrelatedChangeIgnored(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "0", "1")
	_, _ = s.SelectExplicit(0)
	var syncs int
	s.Subscribe(func(ev Event) {
		if ev.Type == EventSync {
			syncs++
		}
	})
	_ = s.Edit(func(sc *scene.Scene) error {
		kids, _ := sc.Children(ids[1])
		return sc.SetAttribute(kids[0], "note", "x")
	})
	if syncs != 0 {
		t.Fatalf("edit of an unselected branch triggered %d passes", syncs)
	}
}

func TestEdit_RemovingBranchesReclamps(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "0", "1", "2")
	_, _ = s.SelectLast()

	err := s.Edit(func(sc *scene.Scene) error {
		if err := sc.DeleteNode(ids[2]); err != nil {
			return err
		}
		return sc.DeleteNode(ids[1])
	})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := s.View()
	if v.Length != 1 || v.Selected != 0 || v.SelectedBranch != ids[0] {
		t.Fatalf("view after removal = %+v", v)
	}
	if got := payload(t, s, "A"); got != "A@0" {
		t.Fatalf("mirror not resynced: A = %q", got)
	}
}

func TestEdit_RebuildNotifiesFinalSelection(t *testing.T) {
	s := newTestSession(t, Options{})
	ids := addBranches(t, s, "0", "1", "2", "3")
	_, _ = s.SelectExplicit(2)
	var selected []int
	s.Subscribe(func(ev Event) {
		if ev.Type == EventState && ev.Field == "selected_position" {
			selected = append(selected, ev.Status.Selected)
		}
	})

	err := s.Edit(func(sc *scene.Scene) error {
		if err := sc.DeleteNode(ids[0]); err != nil {
			return err
		}
		return sc.DeleteNode(ids[1])
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(selected, []int{0}) {
		t.Fatalf("selected_position events = %v, want [0]", selected)
	}
	if v, _ := s.View(); v.SelectedBranch != ids[2] {
		t.Fatalf("selected branch = %s, want %s", v.SelectedBranch, ids[2])
	}
}

func TestEdit_RemovedBranchDropsData(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "1")
	nodes := func() int {
		var n int
		_ = s.Edit(func(sc *scene.Scene) error { n = sc.Len(); return nil })
		return n
	}
	before := nodes()

	ids := addBranches(t, s, "2")
	if err := s.Edit(func(sc *scene.Scene) error { return sc.DeleteNode(ids[0]) }); err != nil {
		t.Fatal(err)
	}
	if got := nodes(); got != before {
		t.Fatalf("nodes after removing branch = %d, want %d", got, before)
	}

	var kept scene.NodeID
	_ = s.Edit(func(sc *scene.Scene) error {
		kept, _ = sc.NewData(scene.BlobKind)
		return nil
	})
	if got := nodes(); got != before+1 {
		t.Fatalf("unlinked data created in an edit was dropped: %d nodes, kept %s", got, kept)
	}
}

func TestEdit_RemovingMirrorRoot(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0")
	v, _ := s.SelectFirst()
	_ = s.Edit(func(sc *scene.Scene) error { return sc.DeleteNode(v.MirrorRootID) })
	v, _ = s.View()
	if v.MirrorRootID != "" {
		t.Fatalf("mirror root still referenced: %q", v.MirrorRootID)
	}
	if _, err := s.Resync(); err != nil {
		t.Fatalf("resync without mirror root: %v", err)
	}
}

func TestDeselectRetainsMirror(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0")
	_, _ = s.SelectFirst()
	_, _ = s.SelectExplicit(-1)
	if keys := mirrorKeys(t, s); len(keys) != 2 {
		t.Fatalf("mirror cleared on deselect: %v", keys)
	}

	c := newTestSession(t, Options{Synchronizer: mirror.New(mirror.Options{ClearOnDeselect: true})})
	addBranches(t, c, "0")
	_, _ = c.SelectFirst()
	_, _ = c.SelectExplicit(-1)
	if keys := mirrorKeys(t, c); len(keys) != 0 {
		t.Fatalf("clear-on-deselect kept %v", keys)
	}
}

func TestWithoutMirror(t *testing.T) {
	s := newTestSession(t, Options{WithoutMirror: true})
	addBranches(t, s, "0")
	if _, err := s.SelectFirst(); err != nil {
		t.Fatal(err)
	}
	if entries, _ := s.Mirror(); len(entries) != 0 {
		t.Fatalf("mirror entries = %v", entries)
	}
}

func TestAttachRoot(t *testing.T) {
	s := newTestSession(t, Options{})
	var root scene.NodeID
	_ = s.Edit(func(sc *scene.Scene) error {
		root, _ = sc.CreateChild("")
		for _, v := range []string{"3", "1"} {
			b, _ := sc.CreateChild(root)
			_ = sc.SetAttribute(b, AttrIndexValue, v)
			c, _ := sc.CreateChild(b)
			_ = sc.SetAttribute(c, mirror.AttrSourceDataName, "A")
			d, _ := sc.AddData(blob("A", "A@"+v))
			_ = sc.SetAssociatedData(c, d)
		}
		_, _ = sc.CreateChild(root) // no index value
		return nil
	})
	if err := s.AttachRoot(root); err != nil {
		t.Fatal(err)
	}
	v, _ := s.SelectFirst()
	if v.Length != 2 || v.IndexValue != "1" || v.RootID != root {
		t.Fatalf("view = %+v", v)
	}
	if got := payload(t, s, "A"); got != "A@1" {
		t.Fatalf("A = %q", got)
	}
	if err := s.AttachRoot("missing"); !errors.Is(err, mirror.ErrPrecondition) {
		t.Fatalf("err = %v", err)
	}
}

func TestOverwriteProxyName(t *testing.T) {
	s := newTestSession(t, Options{Synchronizer: mirror.New(mirror.Options{OverwriteProxyName: true})})
	addBranches(t, s, "1.5")
	_, _ = s.SelectFirst()
	entries, _ := s.Mirror()
	if entries[0].Name != "A [time=1.5s]" {
		t.Fatalf("proxy name = %q", entries[0].Name)
	}
}

func TestStateEventsPublished(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "1")
	var fields []string
	s.Subscribe(func(ev Event) {
		if ev.Type == EventState {
			fields = append(fields, ev.Field)
		}
	})
	_, _ = s.SelectFirst()
	_, _ = s.SelectFirst() // no-op
	looped := true
	_, _ = s.UpdatePlayback(PlaybackUpdate{Looped: &looped}) // no-op
	if !slices.Equal(fields, []string{"selected_position"}) {
		t.Fatalf("state events = %v", fields)
	}
}

type memJournal struct {
	mu      sync.Mutex
	entries []*store.JournalEntry
}

func (j *memJournal) Record(e *store.JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func TestJournalRecordsPasses(t *testing.T) {
	j := &memJournal{}
	s := newTestSession(t, Options{Journal: j})
	addBranches(t, s, "0", "1")
	_, _ = s.SelectFirst()
	_, _ = s.SelectNext()
	if len(j.entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(j.entries))
	}
	if j.entries[0].Created != 2 || j.entries[1].Reused != 2 || j.entries[1].Created != 0 {
		t.Fatalf("entries = %+v %+v", j.entries[0], j.entries[1])
	}
}

func TestRecordRestore(t *testing.T) {
	s := newTestSession(t, Options{Name: "cardiac"})
	ids := addBranches(t, s, "0", "1", "2")
	_, _ = s.SelectExplicit(1)
	rate := 30.0
	_, _ = s.UpdatePlayback(PlaybackUpdate{RateFPS: &rate})

	rec, err := s.Record()
	if err != nil {
		t.Fatal(err)
	}
	r, err := Restore(rec, Options{})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := r.View()
	if v.Name != "cardiac" || v.Selected != 1 || v.SelectedBranch != ids[1] || v.RateFPS != 30 || v.Length != 3 {
		t.Fatalf("restored view = %+v", v)
	}
	if got := payload(t, r, "A"); got != "A@1" {
		t.Fatalf("restored mirror A = %q", got)
	}
}

func TestRestore_DanglingReferences(t *testing.T) {
	rec := &store.SessionRecord{
		ID: "s9", Name: "x", RateFPS: 10, PlaybackLooped: true, PlaybackActive: true,
		IndexType: "numeric", RootID: "gone", MirrorRootID: "gone too", SelectedBranchID: "nope",
	}
	s, err := Restore(rec, Options{})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := s.View()
	if v.RootID != "" || v.MirrorRootID != "" || v.Selected != -1 || v.Active {
		t.Fatalf("view = %+v", v)
	}
}

func TestClosedSession(t *testing.T) {
	s := newTestSession(t, Options{})
	s.Close()
	if _, err := s.SelectFirst(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestSession(t, Options{})
	addBranches(t, s, "0", "1", "2", "3")
	_, _ = s.Play()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				switch i % 3 {
				case 0:
					_, _ = s.Tick()
				case 1:
					_, _ = s.SelectRelative(-1)
				default:
					_, _ = s.Advance(150 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	v, _ := s.View()
	if v.Selected < 0 || v.Selected >= 4 {
		t.Fatalf("selected = %d", v.Selected)
	}
}

func newTestManager(t *testing.T, max int) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	m, err := NewManager(ManagerOptions{Store: st, MaxResident: max, NewID: idgen.Sequential("ses_")})
	if err != nil {
		t.Fatal(err)
	}
	return m, st
}

func TestManager_EvictionPersists(t *testing.T) {
	m, _ := newTestManager(t, 1)
	ctx := context.Background()

	first, err := m.Create(ctx, CreateOptions{Name: "first"})
	if err != nil {
		t.Fatal(err)
	}
	addBranches(t, first, "0", "1")
	_, _ = first.SelectLast()

	if _, err := m.Create(ctx, CreateOptions{Name: "second"}); err != nil {
		t.Fatal(err)
	}
	if _, err := first.View(); !errors.Is(err, ErrClosed) {
		t.Fatalf("evicted session still usable: %v", err)
	}

	back, err := m.Get(ctx, first.ID())
	if err != nil {
		t.Fatal(err)
	}
	v, _ := back.View()
	if v.Name != "first" || v.Length != 2 || v.IndexValue != "1" {
		t.Fatalf("restored view = %+v", v)
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("List = %+v", list)
	}
}

func TestManager_Delete(t *testing.T) {
	m, st := newTestManager(t, 4)
	ctx := context.Background()
	s, _ := m.Create(ctx, CreateOptions{})
	if err := m.Delete(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if _, err := st.Load(ctx, s.ID()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("store still has session: %v", err)
	}
	if err := m.Delete(ctx, "ses_404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete unknown err = %v", err)
	}
}

func TestManager_CloseSavesResident(t *testing.T) {
	m, st := newTestManager(t, 4)
	ctx := context.Background()
	s, _ := m.Create(ctx, CreateOptions{Name: "keep"})
	addBranches(t, s, "0")
	m.Close()

	rec, err := st.Load(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Scene) == 0 || rec.RootID == "" {
		t.Fatalf("record not saved with scene: %+v", rec)
	}
}

func TestManager_CreateInvalidIndexType(t *testing.T) {
	m, _ := newTestManager(t, 4)
	if _, err := m.Create(context.Background(), CreateOptions{IndexType: "fuzzy"}); err == nil {
		t.Fatal("expected error")
	}
}
