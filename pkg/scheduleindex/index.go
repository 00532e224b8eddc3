// Package scheduleindex implements the per-key ordered interval structure
// spec.md §9 calls for: "a per-berth ordered list indexed by eta ... not
// cyclic pointer graphs; overlaps resolve in O(log N) per lookup." One
// Index instance covers one key (a berth, or a resource) the way the
// teacher's OrderBook covers one symbol; the caller keeps a map of these
// keyed by berthId/resourceId, exactly as the teacher keeps a map of
// OrderBooks keyed by symbol.
package scheduleindex

import (
	"sort"
	"sync"
	"time"
)

// Interval is a half-open [Eta, Etd) occupancy window tagged with the
// schedule (or resource-allocation) id that owns it.
type Interval struct {
	ID  int64
	Eta time.Time
	Etd time.Time
}

// Overlaps reports whether two half-open intervals intersect. Touching
// exactly at an endpoint (a.Etd == b.Eta) is NOT an overlap — spec.md §8
// requires touching boundaries to be accepted.
func (a Interval) Overlaps(b Interval) bool {
	return a.Eta.Before(b.Etd) && b.Eta.Before(a.Etd)
}

// Index holds the intervals for a single key in eta order.
type Index struct {
	mu        sync.RWMutex
	intervals []Interval // sorted by Eta ascending
}

func New() *Index {
	return &Index{}
}

// Insert adds an interval, keeping the slice sorted by Eta. It does not
// itself check for overlap — callers that need the exclusivity invariant
// call Overlapping first inside the same transaction.
func (idx *Index) Insert(iv Interval) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := sort.Search(len(idx.intervals), func(i int) bool {
		return idx.intervals[i].Eta.After(iv.Eta)
	})
	idx.intervals = append(idx.intervals, Interval{})
	copy(idx.intervals[i+1:], idx.intervals[i:])
	idx.intervals[i] = iv
}

// Remove drops the interval with the given id, if present.
func (idx *Index) Remove(id int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, iv := range idx.intervals {
		if iv.ID == id {
			idx.intervals = append(idx.intervals[:i], idx.intervals[i+1:]...)
			return
		}
	}
}

// Update replaces the interval with the given id (a Remove followed by an
// Insert), so the slice stays sorted if the new Eta moves it.
func (idx *Index) Update(iv Interval) {
	idx.Remove(iv.ID)
	idx.Insert(iv)
}

// Overlapping returns every stored interval that overlaps [eta, etd).
// The slice is eta-ordered, so a binary search finds the first interval
// whose Eta reaches etd — nothing at or past it can overlap. Everything
// before that index is a candidate; each is a cheap Etd comparison.
func (idx *Index) Overlapping(eta, etd time.Time) []Interval {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	window := Interval{Eta: eta, Etd: etd}
	hi := sort.Search(len(idx.intervals), func(i int) bool {
		return !idx.intervals[i].Eta.Before(etd)
	})

	var out []Interval
	for i := 0; i < hi; i++ {
		if idx.intervals[i].Overlaps(window) {
			out = append(out, idx.intervals[i])
		}
	}
	return out
}

// All returns a copy of every interval in eta order.
func (idx *Index) All() []Interval {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Interval, len(idx.intervals))
	copy(out, idx.intervals)
	return out
}

// After returns the intervals with Eta >= t, in order.
func (idx *Index) After(t time.Time) []Interval {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	i := sort.Search(len(idx.intervals), func(i int) bool {
		return !idx.intervals[i].Eta.Before(t)
	})
	out := make([]Interval, len(idx.intervals)-i)
	copy(out, idx.intervals[i:])
	return out
}

// Len reports how many intervals are currently tracked for this key.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.intervals)
}
