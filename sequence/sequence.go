// Package sequence provides an append-only ordered collection of
// (index value, item) pairs addressed by a dense position in [0, Len()).
//
// Positions never change meaning once assigned. Index values are compared as
// numbers or as text depending on IndexType and need not be unique.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrOutOfRange is returned when a position is outside [0, Len()).
var ErrOutOfRange = errors.New("sequence: position out of range")

// IndexType selects how index values are compared by Find.
type IndexType int

const (
	Numeric IndexType = iota
	Text
)

func (t IndexType) String() string {
	if t == Text {
		return "text"
	}
	return "numeric"
}

// ParseIndexType accepts "numeric" or "text".
func ParseIndexType(s string) (IndexType, error) {
	switch s {
	case "", "numeric":
		return Numeric, nil
	case "text":
		return Text, nil
	}
	return Numeric, fmt.Errorf("sequence: unknown index type %q", s)
}

// Entry is one element of a Sequence.
type Entry[T any] struct {
	IndexValue string
	Item       T
}

// Sequence is not safe for concurrent use; the owner serialises access.
type Sequence[T any] struct {
	IndexName        string
	IndexUnit        string
	IndexType        IndexType
	NumericTolerance float64

	entries []Entry[T]
}

// New returns an empty numeric sequence indexed by time in seconds.
func New[T any]() *Sequence[T] {
	return &Sequence[T]{
		IndexName:        "time",
		IndexUnit:        "s",
		IndexType:        Numeric,
		NumericTolerance: 0.001,
	}
}

// Append adds an entry at the end and returns its position.
func (s *Sequence[T]) Append(indexValue string, item T) int {
	s.entries = append(s.entries, Entry[T]{IndexValue: indexValue, Item: item})
	return len(s.entries) - 1
}

// Len returns the number of entries.
func (s *Sequence[T]) Len() int { return len(s.entries) }

// IndexValueAt returns the index value stored at pos.
func (s *Sequence[T]) IndexValueAt(pos int) (string, error) {
	if pos < 0 || pos >= len(s.entries) {
		return "", fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, pos, len(s.entries))
	}
	return s.entries[pos].IndexValue, nil
}

// ItemAt returns the item stored at pos.
func (s *Sequence[T]) ItemAt(pos int) (T, error) {
	if pos < 0 || pos >= len(s.entries) {
		var zero T
		return zero, fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, pos, len(s.entries))
	}
	return s.entries[pos].Item, nil
}

// IndexOf returns the first position whose item satisfies match, or -1.
func (s *Sequence[T]) IndexOf(match func(T) bool) int {
	for i, e := range s.entries {
		if match(e.Item) {
			return i
		}
	}
	return -1
}

// Entries returns a copy of all entries in order.
func (s *Sequence[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(s.entries))
	copy(out, s.entries)
	return out
}

// Label formats the index value at pos as "name=valueunit", e.g. "time=1.5s".
func (s *Sequence[T]) Label(pos int) string {
	v, err := s.IndexValueAt(pos)
	if err != nil {
		return ""
	}
	return s.IndexName + "=" + v + s.IndexUnit
}

// Find returns the position matching indexValue.
//
// Numeric sequences are assumed sorted by index value and searched within
// NumericTolerance; a query that is not a number matches nothing. With exact
// false a value below the stored range matches the first entry and any other
// miss matches the lower bracket. Text sequences, and numeric values the
// search missed, fall back to a linear scan for string equality. Duplicate
// values resolve to the first match.
func (s *Sequence[T]) Find(indexValue string, exact bool) (int, bool) {
	n := len(s.entries)
	if n == 0 {
		return -1, false
	}

	if s.IndexType == Numeric {
		v, err := strconv.ParseFloat(strings.TrimSpace(indexValue), 64)
		if err != nil || math.IsNaN(v) {
			return -1, false
		}
		tol := s.NumericTolerance
		// lower bound: first entry not below the tolerance window
		i := sort.Search(n, func(i int) bool {
			return parseNum(s.entries[i].IndexValue) >= v-tol
		})
		if i < n && math.Abs(parseNum(s.entries[i].IndexValue)-v) <= tol {
			return i, true
		}
		if !exact {
			if i == 0 {
				return 0, true
			}
			return s.firstOf(i - 1), true
		}
	}

	for i, e := range s.entries {
		if e.IndexValue == indexValue {
			return i, true
		}
	}
	return -1, false
}

// firstOf walks back from pos over entries sharing its numeric value.
func (s *Sequence[T]) firstOf(pos int) int {
	v := parseNum(s.entries[pos].IndexValue)
	for pos > 0 && math.Abs(parseNum(s.entries[pos-1].IndexValue)-v) <= s.NumericTolerance {
		pos--
	}
	return pos
}

// parseNum reads a leading float and yields 0 for unparsable text.
func parseNum(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
