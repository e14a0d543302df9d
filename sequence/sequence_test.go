package sequence

import (
	"errors"
	"testing"
)

func numeric(values ...string) *Sequence[string] {
	s := New[string]()
	for _, v := range values {
		s.Append(v, "item@"+v)
	}
	return s
}

func TestAppend_PositionsAreStable(t *testing.T) {
	s := New[int]()
	for i := range 4 {
		if pos := s.Append("x", i*10); pos != i {
			t.Fatalf("Append #%d pos = %d", i, pos)
		}
	}
	// Growth must not change what earlier positions refer to.
	before, _ := s.ItemAt(1)
	s.Append("y", 99)
	after, _ := s.ItemAt(1)
	if before != after {
		t.Fatalf("ItemAt(1) changed after append: %d -> %d", before, after)
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, want 5", s.Len())
	}
}

func TestOutOfRange(t *testing.T) {
	s := numeric("0", "1")
	for _, pos := range []int{-1, 2, 100} {
		if _, err := s.IndexValueAt(pos); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("IndexValueAt(%d) err = %v, want ErrOutOfRange", pos, err)
		}
		if _, err := s.ItemAt(pos); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ItemAt(%d) err = %v, want ErrOutOfRange", pos, err)
		}
	}
}

func TestFind_Numeric(t *testing.T) {
	s := numeric("0", "0.5", "1.0", "1.5", "2.0")

	tests := []struct {
		value  string
		exact  bool
		want   int
		wantOK bool
	}{
		{"1.0", true, 2, true},
		{"1.0004", true, 2, true}, // within tolerance
		{"1.2", true, -1, false},
		{"1.2", false, 2, true}, // lower bracket
		{"-3", false, 0, true},
		{"-3", true, -1, false},
		{"9", false, 4, true},
		{"9", true, -1, false},
		{"2.0", true, 4, true},
		{"0", true, 0, true},
	}
	for _, tt := range tests {
		got, ok := s.Find(tt.value, tt.exact)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Find(%q, %v) = %d,%v, want %d,%v", tt.value, tt.exact, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFind_NumericRejectsText(t *testing.T) {
	s := numeric("0", "1", "2")
	for _, exact := range []bool{true, false} {
		if pos, ok := s.Find("abc", exact); ok {
			t.Errorf("Find(abc, %v) = %d, want no match", exact, pos)
		}
	}
	if _, ok := s.Find("", false); ok {
		t.Error("empty query should not match")
	}
}

func TestFind_DuplicatesResolveToFirst(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		value  string
		exact  bool
		want   int
	}{
		{"tail duplicate", []string{"0", "1", "1"}, "1", true, 1},
		{"middle duplicate", []string{"0", "1", "2", "2", "2", "2", "3"}, "2", true, 2},
		{"head duplicate", []string{"0", "0", "1"}, "0", true, 0},
		{"above range lands on first of tail run", []string{"0", "1", "1"}, "5", false, 1},
		{"lower bracket is first of its run", []string{"0", "1", "1", "3"}, "2", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numeric(tt.values...).Find(tt.value, tt.exact)
			if !ok || got != tt.want {
				t.Fatalf("Find(%q) = %d,%v, want %d", tt.value, got, ok, tt.want)
			}
		})
	}
}

func TestFind_Text(t *testing.T) {
	s := New[string]()
	s.IndexType = Text
	s.Append("rest", "a")
	s.Append("stress", "b")
	s.Append("rest", "c")

	if pos, ok := s.Find("rest", true); !ok || pos != 0 {
		t.Fatalf("Find(rest) = %d,%v, want first match 0", pos, ok)
	}
	if _, ok := s.Find("recovery", false); ok {
		t.Fatal("text lookup should not approximate")
	}
}

func TestFind_Empty(t *testing.T) {
	if _, ok := New[string]().Find("1", false); ok {
		t.Fatal("Find on empty sequence should fail")
	}
}

func TestLabel(t *testing.T) {
	s := numeric("1.5")
	if got := s.Label(0); got != "time=1.5s" {
		t.Fatalf("Label = %q", got)
	}
	if got := s.Label(3); got != "" {
		t.Fatalf("Label out of range = %q, want empty", got)
	}
}

func TestParseIndexType(t *testing.T) {
	if it, err := ParseIndexType("text"); err != nil || it != Text {
		t.Fatalf("ParseIndexType(text) = %v, %v", it, err)
	}
	if _, err := ParseIndexType("bogus"); err == nil {
		t.Fatal("expected error")
	}
}
