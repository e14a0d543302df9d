package player

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/session"
)

type fixedSource []*session.Session

func (f fixedSource) Resident() []*session.Session { return f }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func playingSession(t *testing.T, skipping bool, n int) *session.Session {
	t.Helper()
	s, err := session.New("p1", session.Options{
		Playback: browser.Options{RateFPS: 10, ItemSkipping: &skipping},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := range n {
		if _, err := s.AddBranch(string(rune('0'+i)), nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Play(); err != nil {
		t.Fatal(err)
	}
	return s
}

func selected(t *testing.T, s *session.Session) int {
	t.Helper()
	v, err := s.View()
	if err != nil {
		t.Fatal(err)
	}
	return v.Selected
}

func TestPoll_AdvancesAtRate(t *testing.T) {
	s := playingSession(t, true, 10)
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := New(fixedSource{s}, Options{Now: clk.now})

	p.Poll() // arms the clock
	if got := selected(t, s); got != -1 {
		t.Fatalf("selected after arming = %d", got)
	}
	clk.advance(50 * time.Millisecond)
	p.Poll()
	if got := selected(t, s); got != -1 {
		t.Fatalf("advanced before a full period: %d", got)
	}
	clk.advance(50 * time.Millisecond)
	p.Poll()
	if got := selected(t, s); got != 0 {
		t.Fatalf("selected after one period = %d, want 0", got)
	}
	if st := p.Stats(); st.Advances != 1 || st.Polls != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPoll_SkipsItemsWhenLate(t *testing.T) {
	s := playingSession(t, true, 10)
	_, _ = s.SelectFirst()
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := New(fixedSource{s}, Options{Now: clk.now})

	p.Poll()
	clk.advance(300 * time.Millisecond)
	p.Poll()
	if got := selected(t, s); got != 3 {
		t.Fatalf("selected = %d, want 3 (three frames skipped ahead)", got)
	}
}

func TestPoll_NoSkipping(t *testing.T) {
	s := playingSession(t, false, 10)
	_, _ = s.SelectFirst()
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := New(fixedSource{s}, Options{Now: clk.now})

	p.Poll()
	clk.advance(300 * time.Millisecond)
	p.Poll()
	if got := selected(t, s); got != 1 {
		t.Fatalf("selected = %d, want 1", got)
	}
}

func TestPoll_IgnoresStoppedSessions(t *testing.T) {
	s := playingSession(t, true, 3)
	_, _ = s.Pause()
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := New(fixedSource{s}, Options{Now: clk.now})
	p.Poll()
	clk.advance(time.Second)
	p.Poll()
	if got := selected(t, s); got != -1 {
		t.Fatalf("paused session moved to %d", got)
	}
	if len(p.last) != 0 {
		t.Fatalf("stopped session still tracked: %v", p.last)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := New(fixedSource{}, Options{Resolution: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.Stats().Polls == 0 {
		t.Fatal("no polls recorded")
	}
}
