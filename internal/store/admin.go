package store

import "github.com/portops/berthplan/pkg/scheduleindex"

// ClearAll truncates schedules, conflicts and alerts, returning every
// entity to the empty state seen at process start. spec.md §9 flags this
// as an Open Question and this repo's decision: admin-only, guarded by
// internal/auth's operator API key at the gateway (spec.md §3/§9).
// Vessels, berths, resources and maintenance windows are reference data
// and are not cleared.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules = make(map[int64]*Schedule)
	s.scheduleIndex = make(map[int64]*scheduleindex.Index)
	s.resourceAllocs = make(map[string]*ResourceAllocation)
	s.resourceAllocsByID = make(map[int64]*ResourceAllocation)
	s.resourceIndex = make(map[int64]*scheduleindex.Index)
	s.conflicts = make(map[int64]*Conflict)
	s.alerts = make(map[int64]*Alert)
	s.history = nil
}
