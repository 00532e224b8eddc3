package store

import (
	"context"
	"fmt"
	"time"

	"github.com/portops/berthplan/pkg/apperr"
)

// ScheduleMaintenance implements spec.md §12's supplement making §4.D's
// "skip over maintenance windows" testable end-to-end: without a write
// path, maintenance windows could only ever be pre-seeded fixtures.
func (s *Store) ScheduleMaintenance(ctx context.Context, berthID int64, start, end time.Time) (*MaintenanceWindow, error) {
	if !start.Before(end) {
		return nil, apperr.New(apperr.CodeValidation, "start must be before end")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.berths[berthID]; !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("berth %d not found", berthID))
	}

	w := MaintenanceWindow{
		ID:      s.nextID(&s.nextMaintenanceID),
		BerthID: berthID,
		Start:   start,
		End:     end,
		Status:  "Scheduled",
	}
	s.maintenance[berthID] = append(s.maintenance[berthID], w)
	out := w
	return &out, nil
}

// CancelMaintenance marks a window Cancelled so the slot finder stops
// treating it as a blocker.
func (s *Store) CancelMaintenance(ctx context.Context, berthID, windowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	windows := s.maintenance[berthID]
	for i := range windows {
		if windows[i].ID == windowID {
			windows[i].Status = "Cancelled"
			return nil
		}
	}
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("maintenance window %d not found on berth %d", windowID, berthID))
}

// MaintenanceWindowsFor returns the active maintenance windows for a berth,
// used by the slot finder.
func (s *Store) MaintenanceWindowsFor(berthID int64) []MaintenanceWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MaintenanceWindow
	for _, w := range s.maintenance[berthID] {
		if w.Active() {
			out = append(out, w)
		}
	}
	return out
}
