package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/portops/berthplan/internal/slotfinder"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/internal/validator"
	"github.com/portops/berthplan/pkg/apperr"
	"github.com/portops/berthplan/shared/events"
)

// AllocateRequest carries everything allocate() needs beyond what Suggest
// already computed — a caller normally passes the eta/etd straight from a
// chosen Suggestion.
type AllocateRequest struct {
	VesselID           int64
	BerthID            int64
	Eta                time.Time
	Etd                time.Time
	DwellOverride      *int
	PriorityOverride   *string
	GovernmentOverride bool
}

// Allocate implements spec.md §4.E's allocate operation: re-validates HARD
// constraints at the exact window as a race guard, commits through the
// Store, retries once on TimeConflict by re-running the slot finder, and
// emits ScheduleChanged on success.
func (s *Service) Allocate(ctx context.Context, req AllocateRequest) (*store.Schedule, error) {
	vessel, ok := s.store.GetVessel(req.VesselID)
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("vessel %d not found", req.VesselID))
	}
	berth, ok := s.store.GetBerth(req.BerthID)
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("berth %d not found", req.BerthID))
	}

	tide, _ := s.tidal.NearestHeightMeters(ctx, berth.TerminalID, req.Eta)
	res := validator.Validate(validator.Candidate{
		Vessel: vessel, Berth: berth, TideHeightMeters: tide,
		GovernmentOverride: req.GovernmentOverride,
	}, true)
	if !res.HardPassed {
		return nil, apperr.New(apperr.CodeConstraintViolationHard, "candidate window fails a hard constraint at allocation time").WithDetails(map[string]interface{}{
			"violations": res.Violations,
		})
	}

	priorityWeight := vessel.PriorityClass.Weight()
	if req.PriorityOverride != nil {
		priorityWeight = store.PriorityClass(*req.PriorityOverride).Weight()
	}

	var sch *store.Schedule
	lockErr := s.lock.WithLock(ctx, fmt.Sprintf("berth:%d", req.BerthID), func(ctx context.Context) error {
		var allocErr error
		sch, allocErr = s.store.Allocate(ctx, req.VesselID, req.BerthID, req.Eta, req.Etd, priorityWeight, req.DwellOverride)
		if allocErr == nil {
			return nil
		}
		if !apperr.Is(allocErr, apperr.CodeTimeConflict) {
			return allocErr
		}

		// Retry once: re-run the slot finder from max(eta, now).
		retryFrom := req.Eta
		if now := s.clock.Now(); now.After(retryFrom) {
			retryFrom = now
		}
		dwell := int(req.Etd.Sub(req.Eta).Minutes())
		if req.DwellOverride != nil {
			dwell = *req.DwellOverride
		}
		tidalReq := slotfinder.TidalRequirement{
			Lookup:            s.tidal,
			PortID:            berth.TerminalID,
			DraftMeters:       vessel.Draft,
			RequiredUKCMeters: validator.RequiredUKCMeters(vessel),
		}
		slot, slotErr := slotfinder.Find(ctx, s.store, req.BerthID, vessel.CargoType, retryFrom, dwell, s.buffers, s.horizon, tidalReq)
		if slotErr != nil {
			return allocErr // surface the original TimeConflict
		}

		sch, allocErr = s.store.Allocate(ctx, req.VesselID, req.BerthID, slot.Eta, slot.Etd, priorityWeight, req.DwellOverride)
		return allocErr
	})
	if lockErr != nil {
		return nil, lockErr
	}
	s.emitScheduleChanged(ctx, sch, "created")
	return sch, nil
}

// Reschedule implements spec.md §4.E's reschedule operation: cancel(old) and
// allocate(new) applied back-to-back under the Store's own mutex, with the
// old schedule restored if the new allocation fails — preserving the
// exclusivity invariant without a cross-package distributed transaction.
func (s *Service) Reschedule(ctx context.Context, scheduleID, newBerthID int64, newEta, newEtd time.Time) (*store.Schedule, error) {
	old, ok := s.store.GetSchedule(scheduleID)
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("schedule %d not found", scheduleID))
	}

	if err := s.store.Cancel(ctx, scheduleID); err != nil {
		return nil, err
	}

	sch, err := s.Allocate(ctx, AllocateRequest{
		VesselID: old.VesselID, BerthID: newBerthID, Eta: newEta, Etd: newEtd,
	})
	if err != nil {
		// Compensate: restore the original window so reschedule is atomic
		// from the caller's point of view even though Store has no
		// multi-statement transaction.
		if _, reallocErr := s.store.Allocate(ctx, old.VesselID, old.BerthID, old.Eta, old.Etd, old.PriorityWeight, nil); reallocErr != nil {
			return nil, apperr.Wrap(apperr.CodeTransientStore, "reschedule failed and the original window could not be restored", err)
		}
		return nil, err
	}
	return sch, nil
}

func (s *Service) emitScheduleChanged(ctx context.Context, sch *store.Schedule, action string) {
	evt, err := events.NewEvent(events.TypeScheduleChanged, sch.ScheduleID, "Schedule", events.ScheduleChangedData{
		ScheduleID: sch.ScheduleID,
		VesselID:   sch.VesselID,
		BerthID:    sch.BerthID,
		Action:     action,
		Eta:        sch.Eta.Format(time.RFC3339),
		Etd:        sch.Etd.Format(time.RFC3339),
		Status:     string(sch.Status),
	}, events.Metadata{Source: "internal/allocation"})
	if err != nil {
		return
	}
	_ = s.notify.Publish(ctx, evt)
}
