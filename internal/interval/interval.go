package interval

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open time range [From, To). From must be strictly
// before To. Values are immutable once created.
type Interval struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// New builds an interval after checking the bounds ordering.
func New(from, to time.Time) (Interval, error) {
	if !from.Before(to) {
		return Interval{}, fmt.Errorf("invalid interval: from %s must be before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Interval{From: from, To: to}, nil
}

// MustNew is New for statically known-good bounds, used in tests and
// internal construction from already-ordered measurement data.
func MustNew(from, to time.Time) Interval {
	iv, err := New(from, to)
	if err != nil {
		panic(err)
	}
	return iv
}

// Duration returns To - From.
func (iv Interval) Duration() time.Duration {
	return iv.To.Sub(iv.From)
}

// Equal reports whether both bounds match to the instant.
func (iv Interval) Equal(other Interval) bool {
	return iv.From.Equal(other.From) && iv.To.Equal(other.To)
}

// Contains reports whether other lies fully inside iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.From.Before(iv.From) && !other.To.After(iv.To)
}

// Overlaps reports whether the two half-open ranges share any instant.
// Adjacent intervals (one's To equals the other's From) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.From.Before(other.To) && other.From.Before(iv.To)
}

// Adjacent reports whether the two intervals touch without overlapping.
func (iv Interval) Adjacent(other Interval) bool {
	return iv.To.Equal(other.From) || other.To.Equal(iv.From)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.From.Format(time.RFC3339), iv.To.Format(time.RFC3339))
}

// Set is an ordered list of non-overlapping, non-adjacent intervals.
// The zero value is an empty set. Mutating operations return the new
// set and never alias the receiver's backing array.
type Set []Interval

// Add merges iv into the set, coalescing any overlapping or adjacent
// entries into a single interval.
func (s Set) Add(iv Interval) Set {
	merged := iv
	out := make(Set, 0, len(s)+1)
	for _, existing := range s {
		if existing.Overlaps(merged) || existing.Adjacent(merged) {
			if existing.From.Before(merged.From) {
				merged.From = existing.From
			}
			if existing.To.After(merged.To) {
				merged.To = existing.To
			}
			continue
		}
		out = append(out, existing)
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].From.Before(out[j].From) })
	return out
}

// Remove subtracts iv from the set. An entry partially covered by iv is
// trimmed; an entry split by iv yields two remainders.
func (s Set) Remove(iv Interval) Set {
	out := make(Set, 0, len(s))
	for _, existing := range s {
		if !existing.Overlaps(iv) {
			out = append(out, existing)
			continue
		}
		if existing.From.Before(iv.From) {
			out = append(out, Interval{From: existing.From, To: iv.From})
		}
		if iv.To.Before(existing.To) {
			out = append(out, Interval{From: iv.To, To: existing.To})
		}
	}
	return out
}

// Empty reports whether the set holds no intervals.
func (s Set) Empty() bool {
	return len(s) == 0
}
