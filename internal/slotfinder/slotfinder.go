// Package slotfinder is the Slot Finder (spec.md §4.D): walks a berth's
// schedule forward from a preferred ETA to the earliest non-overlapping
// window, skipping maintenance windows and applying a per-cargo-type
// buffer after every collision. It reuses pkg/scheduleindex's ordered
// interval store the same way internal/store does for the occupancy check
// itself, rather than re-deriving an overlap test here.
package slotfinder

import (
	"context"
	"time"

	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/apperr"
)

// DefaultHorizon is the 14-day search cutoff (spec.md §4.D).
const DefaultHorizon = 14 * 24 * time.Hour

// Buffers is the per-cargo-type post-collision gap, defaulting to
// spec.md §4.D's figures: Container 60m, Bulk 90m, Liquid 45m, RoRo 30m.
type Buffers struct {
	Container time.Duration
	Bulk      time.Duration
	Liquid    time.Duration
	RoRo      time.Duration
	Default   time.Duration
}

// DefaultBuffers matches spec.md §4.D.
func DefaultBuffers() Buffers {
	return Buffers{
		Container: 60 * time.Minute,
		Bulk:      90 * time.Minute,
		Liquid:    45 * time.Minute,
		RoRo:      30 * time.Minute,
		Default:   60 * time.Minute,
	}
}

func (b Buffers) forCargoType(cargoType string) time.Duration {
	switch cargoType {
	case "Liquid", "Liquids":
		return b.Liquid
	case "RoRo":
		return b.RoRo
	case "Bulk":
		return b.Bulk
	case "Containers", "Container":
		return b.Container
	default:
		return b.Default
	}
}

// Result is the slot finder's output.
type Result struct {
	Eta            time.Time
	Etd            time.Time
	WaitingMinutes int
}

// TidalLookup supplies the nearest tidal sample to a candidate instant.
// internal/tidal implements it in production.
type TidalLookup interface {
	NearestHeightMeters(ctx context.Context, portID int64, at time.Time) (*float64, error)
}

// TidalRequirement lets Find also honor a deep-draft vessel's tidal window
// (spec.md §4.D, exercised by §8 Scenario 3) instead of handing back a slot
// the validator would only hard-reject on the tidal layer anyway. The zero
// value (Lookup == nil) disables the check entirely, so every existing
// caller that never passes one gets exactly the prior schedule-only search.
type TidalRequirement struct {
	Lookup            TidalLookup
	PortID            int64
	DraftMeters       float64
	RequiredUKCMeters float64
}

func (t TidalRequirement) enabled() bool {
	return t.Lookup != nil && t.DraftMeters > 10
}

// tidalStep is the granularity Find nudges eta forward by when the nearest
// tidal sample at the current candidate is inadequate, mirroring the
// 15-minute granularity the handover-zone nudge already uses.
const tidalStep = 15 * time.Minute

// tidalAdequate reports whether the nearest tidal sample to at clears t's
// draft+UKC requirement. A lookup error or missing sample is treated as
// "cannot rule it out" rather than a blocker — the validator's own temporal
// layer already downgrades a missing sample to a soft (Low) finding rather
// than a hard rejection, and Find mirrors that rather than searching
// forever for a sample that may never arrive.
func tidalAdequate(ctx context.Context, t TidalRequirement, at time.Time) bool {
	if !t.enabled() {
		return true
	}
	height, err := t.Lookup.NearestHeightMeters(ctx, t.PortID, at)
	if err != nil || height == nil {
		return true
	}
	return *height >= t.DraftMeters+t.RequiredUKCMeters
}

// Find walks forward from preferredEta on berthID until a window of
// dwellMinutes fits without overlapping any non-terminal schedule or active
// maintenance window, and — when tidal is enabled — without arriving during
// an inadequate tidal window. Returns apperr.CodeNoSlotFound once the search
// passes horizon (defaulting to DefaultHorizon when horizon <= 0).
func Find(ctx context.Context, s *store.Store, berthID int64, cargoType string, preferredEta time.Time, dwellMinutes int, buffers Buffers, horizon time.Duration, tidal TidalRequirement) (Result, error) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	deadline := preferredEta.Add(horizon)
	buffer := buffers.forCargoType(cargoType)
	dwell := time.Duration(dwellMinutes) * time.Minute

	eta := preferredEta
	for {
		if eta.After(deadline) {
			return Result{}, apperr.New(apperr.CodeNoSlotFound, "no slot found within the search horizon")
		}
		if !tidalAdequate(ctx, tidal, eta) {
			eta = eta.Add(tidalStep)
			continue
		}
		etd := eta.Add(dwell)

		conflicting, maint, verdict := s.CheckBerthAvailability(berthID, eta, etd)
		if verdict == store.Available {
			waiting := int(eta.Sub(preferredEta).Minutes())
			if waiting < 0 {
				waiting = 0
			}
			nudged := nudgeOffHandoverZone(eta, etd, preferredEta, waiting)
			if tidalAdequate(ctx, tidal, nudged) {
				// Only take the handover-zone nudge if it keeps the tidal
				// window adequate — the nudge is a soft preference, the
				// tidal check is a hard one.
				eta = nudged
			}
			return Result{Eta: eta, Etd: eta.Add(dwell), WaitingMinutes: int(eta.Sub(preferredEta).Minutes())}, nil
		}

		next := eta
		for _, c := range conflicting {
			candidate := c.Etd.Add(buffer)
			if candidate.After(next) {
				next = candidate
			}
		}
		for _, w := range maint {
			candidate := w.End.Add(buffer)
			if candidate.After(next) {
				next = candidate
			}
		}
		if !next.After(eta) {
			// Safety valve: if nothing advanced the cursor (shouldn't happen
			// given Unavailable implies at least one blocker), step forward
			// by the dwell to avoid spinning.
			next = eta.Add(dwell)
		}
		eta = next
	}
}

var handoverMinutesOfDay = []int{6 * 60, 14 * 60, 22 * 60}

// nudgeOffHandoverZone softly avoids shift-handover zones (+/-15 min around
// 06:00/14:00/22:00 local time) when doing so costs under 15 extra minutes
// of wait (spec.md §4.D). It never pushes the window past that cost cap.
// With currentWaiting equal to eta's wait past preferredEta, as Find passes
// it, only an eta 1-15 minutes after a handover is moved (to handover+15);
// an eta at or up to 15 minutes before a handover is left unchanged.
func nudgeOffHandoverZone(eta, etd, preferredEta time.Time, currentWaiting int) time.Time {
	minuteOfDay := eta.Hour()*60 + eta.Minute()
	for _, handover := range handoverMinutesOfDay {
		delta := minuteOfDay - handover
		if delta >= -15 && delta <= 15 {
			nudged := eta.Add(time.Duration(15-delta) * time.Minute)
			extraWait := int(nudged.Sub(preferredEta).Minutes()) - currentWaiting
			if extraWait >= 0 && extraWait < 15 {
				return nudged
			}
		}
	}
	return eta
}
