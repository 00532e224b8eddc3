package store

import (
	"context"
	"fmt"
	"time"

	"github.com/portops/berthplan/pkg/apperr"
	"github.com/portops/berthplan/pkg/scheduleindex"
)

// AllocateResource implements spec.md §12's resource allocation
// supplement — the Resource/ResourceAllocation entities are in the data
// model (spec.md §3) and the constraint validator's layer 3 reads them
// (spec.md §4.B), but no write operation is named; this is it, reusing the
// same temporal-exclusivity-style guard as berth scheduling, sized by
// capacity rather than strict non-overlap.
func (s *Store) AllocateResource(ctx context.Context, scheduleID, resourceID int64, from, to time.Time, quantity int) (*ResourceAllocation, error) {
	if !from.Before(to) {
		return nil, apperr.New(apperr.CodeValidation, "from must be before to")
	}
	if quantity <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "quantity must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.resources[resourceID]
	if !ok || !res.IsAvailable {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("resource %d not found or unavailable", resourceID))
	}

	idx := s.resourceSchedules(resourceID)
	used := quantity
	for _, iv := range idx.Overlapping(from, to) {
		if alloc, ok := s.resourceAllocsByID[iv.ID]; ok && alloc.Status != ResourceReleased {
			used += alloc.Quantity
		}
	}
	if used > res.Capacity {
		return nil, apperr.New(apperr.CodeConstraintViolationHard, fmt.Sprintf("resource %d capacity exceeded for requested window", resourceID))
	}

	allocID := s.nextID(&s.nextResourceAllocSeq)
	alloc := &ResourceAllocation{
		ScheduleID: scheduleID,
		ResourceID: resourceID,
		From:       from,
		To:         to,
		Quantity:   quantity,
		Status:     ResourceAllocated,
	}
	s.resourceAllocs[resourceAllocKey(scheduleID, resourceID)] = alloc
	s.resourceAllocsByID[allocID] = alloc
	idx.Insert(scheduleindex.Interval{ID: allocID, Eta: from, Etd: to})

	out := *alloc
	return &out, nil
}

func resourceAllocKey(scheduleID, resourceID int64) string {
	return fmt.Sprintf("%d:%d", scheduleID, resourceID)
}

// ReleaseResource transitions an allocation to Released and frees its slot.
func (s *Store) ReleaseResource(ctx context.Context, scheduleID, resourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resourceAllocKey(scheduleID, resourceID)
	alloc, ok := s.resourceAllocs[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "resource allocation not found")
	}
	alloc.Status = ResourceReleased
	return nil
}
