package interval_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/energyorigin/certificate-worker/internal/interval"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}

func TestNew_RejectsInvertedBounds(t *testing.T) {
	if _, err := interval.New(at(2), at(1)); err == nil {
		t.Error("Expected error for from after to")
	}
	if _, err := interval.New(at(1), at(1)); err == nil {
		t.Error("Expected error for zero-length interval")
	}
}

func TestOverlaps_AdjacentDoesNotOverlap(t *testing.T) {
	a := interval.MustNew(at(0), at(1))
	b := interval.MustNew(at(1), at(2))

	if a.Overlaps(b) {
		t.Error("Adjacent intervals must not overlap")
	}
	if !a.Adjacent(b) || !b.Adjacent(a) {
		t.Error("Expected intervals to be adjacent")
	}
}

func TestSet_AddMergesAdjacent(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(1)))
	s = s.Add(interval.MustNew(at(1), at(2)))

	if len(s) != 1 {
		t.Fatalf("Expected 1 merged interval, got %d", len(s))
	}
	want := interval.MustNew(at(0), at(2))
	if !s[0].Equal(want) {
		t.Errorf("Expected %v, got %v", want, s[0])
	}
}

func TestSet_AddMergesOverlapping(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(3)))
	s = s.Add(interval.MustNew(at(2), at(5)))
	s = s.Add(interval.MustNew(at(10), at(11)))

	if len(s) != 2 {
		t.Fatalf("Expected 2 intervals, got %d", len(s))
	}
	if !s[0].Equal(interval.MustNew(at(0), at(5))) {
		t.Errorf("Expected merged [0h,5h), got %v", s[0])
	}
	if !s[1].Equal(interval.MustNew(at(10), at(11))) {
		t.Errorf("Expected untouched [10h,11h), got %v", s[1])
	}
}

func TestSet_AddKeepsOrder(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(5), at(6)))
	s = s.Add(interval.MustNew(at(1), at(2)))
	s = s.Add(interval.MustNew(at(3), at(4)))

	if len(s) != 3 {
		t.Fatalf("Expected 3 intervals, got %d", len(s))
	}
	for i := 1; i < len(s); i++ {
		if !s[i-1].To.Before(s[i].From) && !s[i-1].To.Equal(s[i].From) {
			t.Errorf("Set not ordered at position %d: %v then %v", i, s[i-1], s[i])
		}
	}
}

func TestSet_RemoveExact(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(2)))
	s = s.Remove(interval.MustNew(at(0), at(2)))

	if !s.Empty() {
		t.Errorf("Expected empty set, got %v", s)
	}
}

func TestSet_RemoveSplitsEntry(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(10)))
	s = s.Remove(interval.MustNew(at(4), at(6)))

	if len(s) != 2 {
		t.Fatalf("Expected 2 remainders, got %d", len(s))
	}
	if !s[0].Equal(interval.MustNew(at(0), at(4))) {
		t.Errorf("Expected left remainder [0h,4h), got %v", s[0])
	}
	if !s[1].Equal(interval.MustNew(at(6), at(10))) {
		t.Errorf("Expected right remainder [6h,10h), got %v", s[1])
	}
}

func TestSet_RemoveTrimsPartialOverlap(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(4)))
	s = s.Remove(interval.MustNew(at(2), at(8)))

	if len(s) != 1 {
		t.Fatalf("Expected 1 remainder, got %d", len(s))
	}
	if !s[0].Equal(interval.MustNew(at(0), at(2))) {
		t.Errorf("Expected trimmed [0h,2h), got %v", s[0])
	}
}

// The set is persisted as a JSONB column; encoding must preserve every
// interval's bounds exactly.
func TestSet_JSONRoundTrip(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(1)))
	s = s.Add(interval.MustNew(at(3), at(5)))
	s = s.Add(interval.MustNew(at(8), at(9)))

	encoded, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded interval.Set
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(decoded) != len(s) {
		t.Fatalf("Expected %d intervals after round trip, got %d", len(s), len(decoded))
	}
	for i := range s {
		if !decoded[i].Equal(s[i]) {
			t.Errorf("Interval %d changed: expected %v, got %v", i, s[i], decoded[i])
		}
	}
}

func TestSet_RemoveUntouchedWhenDisjoint(t *testing.T) {
	var s interval.Set
	s = s.Add(interval.MustNew(at(0), at(1)))
	s = s.Remove(interval.MustNew(at(2), at(3)))

	if len(s) != 1 || !s[0].Equal(interval.MustNew(at(0), at(1))) {
		t.Errorf("Expected set untouched, got %v", s)
	}
}
