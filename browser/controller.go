package browser

import (
	"fmt"
	"math"
	"time"
)

// Source is anything with a length; positions are [0, Len()).
type Source interface {
	Len() int
}

// Controller applies navigation and playback rules to a State.
type Controller struct {
	state *State
	src   Source
}

// NewController binds state to src. src may be nil until a sequence is
// attached; every navigation then fails with ErrInvalidOperation.
func NewController(state *State, src Source) *Controller {
	return &Controller{state: state, src: src}
}

// State returns the controlled record.
func (c *Controller) State() *State { return c.state }

// SetSource replaces the source and reclamps the selection.
func (c *Controller) SetSource(src Source) {
	c.SetSourceAt(src, c.state.st.Selected)
}

// SetSourceAt replaces the source and moves the selection to pos, clamped
// against the new source. Observers see at most one selection change.
func (c *Controller) SetSourceAt(src Source, pos int) bool {
	c.src = src
	n := c.n()
	changed := c.state.SetSelected(clamp(pos, n))
	if n == 0 && c.state.SetActive(false) {
		changed = true
	}
	return changed
}

func (c *Controller) n() int {
	if c.src == nil {
		return 0
	}
	return c.src.Len()
}

// Selected returns the selection clamped to {-1} ∪ [0, N).
func (c *Controller) Selected() int {
	return clamp(c.state.st.Selected, c.n())
}

func clamp(pos, n int) int {
	switch {
	case n == 0 || pos < 0:
		return -1
	case pos >= n:
		return n - 1
	}
	return pos
}

// Reclamp writes the clamped selection back into the state. It is called
// whenever the source may have shrunk. Playback stops if nothing is left.
func (c *Controller) Reclamp() bool {
	return c.SetSourceAt(c.src, c.state.st.Selected)
}

func (c *Controller) requireItems(op string) (int, error) {
	if c.state == nil {
		return 0, fmt.Errorf("%w: %s: no state", ErrInvalidOperation, op)
	}
	n := c.n()
	if n == 0 {
		return 0, fmt.Errorf("%w: %s: empty sequence", ErrInvalidOperation, op)
	}
	return n, nil
}

// SelectFirst selects position 0.
func (c *Controller) SelectFirst() error {
	if _, err := c.requireItems("select first"); err != nil {
		return err
	}
	c.state.SetSelected(0)
	return nil
}

// SelectLast selects position N-1.
func (c *Controller) SelectLast() error {
	n, err := c.requireItems("select last")
	if err != nil {
		return err
	}
	c.state.SetSelected(n - 1)
	return nil
}

// SelectRelative moves by delta. Looped sequences wrap around; otherwise the
// result is clamped to the nearest end. No selection counts as position -1.
func (c *Controller) SelectRelative(delta int) error {
	n, err := c.requireItems("select relative")
	if err != nil {
		return err
	}
	next := c.Selected() + delta
	if next < 0 || next >= n {
		if c.state.st.Looped {
			next = ((next % n) + n) % n
		} else {
			next = min(max(next, 0), n-1)
		}
	}
	c.state.SetSelected(next)
	return nil
}

// SelectNext is SelectRelative(1).
func (c *Controller) SelectNext() error { return c.SelectRelative(1) }

// SelectPrevious is SelectRelative(-1).
func (c *Controller) SelectPrevious() error { return c.SelectRelative(-1) }

// SelectExplicit selects pos, which must be in [-1, N). -1 clears the
// selection.
func (c *Controller) SelectExplicit(pos int) error {
	if c.state == nil {
		return fmt.Errorf("%w: select explicit: no state", ErrInvalidOperation)
	}
	n := c.n()
	if pos < -1 || pos >= n {
		return fmt.Errorf("%w: position %d not in [-1,%d)", ErrInvalidOperation, pos, n)
	}
	c.state.SetSelected(pos)
	return nil
}

// Play starts playback. It fails on an empty source.
func (c *Controller) Play() error {
	if _, err := c.requireItems("play"); err != nil {
		return err
	}
	c.state.SetActive(true)
	return nil
}

// Pause stops playback. Pausing a stopped controller is a no-op.
func (c *Controller) Pause() {
	c.state.SetActive(false)
}

// Tick advances playback by exactly one item.
func (c *Controller) Tick() bool {
	return c.step(1)
}

// Advance converts elapsed wall time into an item increment at the current
// rate and applies it. It returns false without moving when less than half
// a frame has elapsed, so the caller should keep accumulating. With item
// skipping disabled any non-zero increment becomes 1.
func (c *Controller) Advance(elapsed time.Duration) bool {
	if !c.state.st.Active {
		return false
	}
	frames := math.Floor(elapsed.Seconds()*c.state.st.RateFPS + 0.5)
	if !(frames >= 1) {
		return false
	}
	inc := 1
	if c.state.st.ItemSkipping {
		// Fold long gaps to under two laps; the landing position is unchanged.
		if n := float64(c.n()); n > 0 && frames > n {
			frames = n + math.Mod(frames, n)
		}
		inc = int(frames)
	}
	return c.step(inc)
}

// step moves a playing controller forward by inc. At the end of a non-looped
// sequence it stays on the last item and stops playback.
func (c *Controller) step(inc int) bool {
	if !c.state.st.Active {
		return false
	}
	n := c.n()
	if n == 0 {
		c.state.SetActive(false)
		return false
	}
	cur := c.Selected()
	next := 0
	if cur >= 0 {
		next = cur + inc
	}
	if next >= n {
		if c.state.st.Looped {
			next %= n
		} else {
			c.state.SetSelected(n - 1)
			c.state.SetActive(false)
			return true
		}
	}
	c.state.SetSelected(next)
	return true
}
