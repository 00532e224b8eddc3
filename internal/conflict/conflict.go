// Package conflict is the Conflict Detector (spec.md §4.G): a reactive scan
// triggered by schedule/ETA changes plus a periodic 30s sweep, both feeding
// the same edge-triggered raise path so a condition that's still true on the
// next tick doesn't re-raise. Grounded on internal/alerts.Engine's
// channel-driven processing loop (price updates in, alerts out) turned to
// schedule triggers in, conflicts out; the periodic half is new since the
// teacher's Engine is purely reactive.
package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/slotfinder"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/shared/events"
)

const scanInterval = 30 * time.Second

// overstay escalation bands (spec.md §4.G).
const (
	overstayWarningMinutes  = 15.0
	overstayHighMinutes     = 30.0
	overstayCriticalMinutes = 60.0

	approachingDepartureWindow = 2 * time.Hour
)

// Notifier publishes domain events raised by the detector.
type Notifier interface {
	Publish(ctx context.Context, evt *events.BaseEvent) error
}

// Trigger is a reactive scan request: a schedule or ETA change on a berth.
type Trigger struct {
	BerthID  int64
	VesselID int64
}

// debounceKey extends spec.md §4.G's "(scheduleId,kind)" edge-trigger set
// with a severity band: overstay crosses three escalating bands (Warning,
// High, Critical) while the underlying condition never stops holding, so
// without the severity component the first raise would permanently
// debounce the later, more severe ones.
type debounceKey struct {
	scheduleID int64
	kind       store.ConflictKind
	severity   store.Severity
}

// Detector runs the reactive and periodic scans described in spec.md §4.G.
type Detector struct {
	store  *store.Store
	clock  clock.Clock
	notify Notifier

	triggers chan Trigger

	mu       sync.Mutex
	active   map[debounceKey]bool // conditions currently raised, cleared when they stop holding
}

// New builds a Detector. notify may be nil (events are dropped).
func New(st *store.Store, clk clock.Clock, notify Notifier) *Detector {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{
		store:    st,
		clock:    clk,
		notify:   notify,
		triggers: make(chan Trigger, 256),
		active:   make(map[debounceKey]bool),
	}
}

// Notify enqueues a reactive scan trigger; non-blocking — a full queue drops
// the trigger since the next periodic sweep will catch the same condition.
func (d *Detector) Notify(t Trigger) {
	select {
	case d.triggers <- t:
	default:
	}
}

// Run drives both the reactive and periodic scans until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-d.triggers:
			d.reactiveScan(ctx, t)
		case <-ticker.C:
			d.periodicScan(ctx)
		}
	}
}

func (d *Detector) reactiveScan(ctx context.Context, t Trigger) {
	for _, sch := range d.store.GetActiveSchedules(nil) {
		if sch.BerthID != t.BerthID && sch.VesselID != t.VesselID {
			continue
		}
		d.checkOverlap(ctx, sch)
		d.checkOverstay(ctx, sch)
	}
}

// periodicScan fans each active schedule's checks out concurrently — every
// check only touches its own schedule's debounce key and Store calls are
// internally synchronized, so there is no shared mutable state to race on.
func (d *Detector) periodicScan(ctx context.Context) {
	schedules := d.store.GetActiveSchedules(nil)
	g, gctx := errgroup.WithContext(ctx)
	for _, sch := range schedules {
		sch := sch
		g.Go(func() error {
			d.checkOverstay(gctx, sch)
			d.checkApproachingDeparture(gctx, sch)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Detector) checkOverlap(ctx context.Context, sch store.Schedule) {
	conflicting, _, _ := d.store.CheckBerthAvailability(sch.BerthID, sch.Eta, sch.Etd)
	key := debounceKey{sch.ScheduleID, store.ConflictBerthOverlap, store.SeverityHigh}
	var other *int64
	for _, c := range conflicting {
		if c.ScheduleID != sch.ScheduleID {
			id := c.ScheduleID
			other = &id
			break
		}
	}
	if other == nil {
		d.clearIfActive(key)
		return
	}
	if !d.shouldRaise(key) {
		return
	}
	d.raiseConflict(ctx, store.Conflict{
		Kind:        store.ConflictBerthOverlap,
		ScheduleID1: sch.ScheduleID,
		ScheduleID2: other,
		Severity:    store.SeverityHigh,
		Description: fmt.Sprintf("schedule %d overlaps another schedule on berth %d", sch.ScheduleID, sch.BerthID),
	})
}

// overstayBands enumerates every severity checkOverstay can raise, so a
// resolved or no-longer-overstaying schedule can clear all of them at once
// regardless of which band was active when the condition ceased.
var overstayBands = []store.Severity{store.SeverityWarning, store.SeverityHigh, store.SeverityCritical}

func (d *Detector) clearOverstayBands(scheduleID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sev := range overstayBands {
		delete(d.active, debounceKey{scheduleID, store.ConflictOverstay, sev})
	}
}

func (d *Detector) checkOverstay(ctx context.Context, sch store.Schedule) {
	if sch.Status != store.StatusBerthed {
		d.clearOverstayBands(sch.ScheduleID)
		return
	}
	now := d.clock.Now()
	if !now.After(sch.Etd) {
		d.clearOverstayBands(sch.ScheduleID)
		return
	}
	overMinutes := now.Sub(sch.Etd).Minutes()
	severity, ok := overstaySeverity(overMinutes)
	if !ok {
		d.clearOverstayBands(sch.ScheduleID)
		return
	}
	key := debounceKey{sch.ScheduleID, store.ConflictOverstay, severity}
	if !d.shouldRaise(key) {
		return
	}
	d.raiseConflict(ctx, store.Conflict{
		Kind:        store.ConflictOverstay,
		ScheduleID1: sch.ScheduleID,
		Severity:    severity,
		Description: fmt.Sprintf("schedule %d has overstayed its etd by %.0f minutes", sch.ScheduleID, overMinutes),
	})
}

func overstaySeverity(overMinutes float64) (store.Severity, bool) {
	switch {
	case overMinutes >= overstayCriticalMinutes:
		return store.SeverityCritical, true
	case overMinutes >= overstayHighMinutes:
		return store.SeverityHigh, true
	case overMinutes >= overstayWarningMinutes:
		return store.SeverityWarning, true
	default:
		return "", false
	}
}

func (d *Detector) checkApproachingDeparture(ctx context.Context, sch store.Schedule) {
	key := debounceKey{sch.ScheduleID, "ApproachingDeparture", store.SeverityInfo}
	remaining := sch.Etd.Sub(d.clock.Now())
	if remaining <= 0 || remaining > approachingDepartureWindow {
		d.clearIfActive(key)
		return
	}
	if !d.shouldRaise(key) {
		return
	}
	d.raiseAlert(ctx, store.Alert{
		Type:            "ApproachingDeparture",
		Severity:        store.SeverityInfo,
		Message:         fmt.Sprintf("schedule %d departs within %.0f minutes", sch.ScheduleID, remaining.Minutes()),
		RelatedEntities: []int64{sch.ScheduleID, sch.VesselID},
	})
}

func (d *Detector) shouldRaise(key debounceKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[key] {
		return false
	}
	d.active[key] = true
	return true
}

func (d *Detector) clearIfActive(key debounceKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, key)
}

func (d *Detector) raiseConflict(ctx context.Context, c store.Conflict) {
	raised, err := d.store.RaiseConflict(ctx, c)
	if err != nil {
		return
	}
	if d.notify == nil {
		return
	}
	var schedule2 int64
	if raised.ScheduleID2 != nil {
		schedule2 = *raised.ScheduleID2
	}
	evt, err := events.NewEvent(events.TypeConflictDetected, raised.ConflictID, "Conflict", events.ConflictDetectedData{
		ConflictID:  raised.ConflictID,
		Kind:        string(raised.Kind),
		ScheduleID1: raised.ScheduleID1,
		ScheduleID2: schedule2,
		Severity:    string(raised.Severity),
		Description: raised.Description,
	}, events.Metadata{Source: "internal/conflict"})
	if err != nil {
		return
	}
	_ = d.notify.Publish(ctx, evt)
}

func (d *Detector) raiseAlert(ctx context.Context, a store.Alert) {
	raised, err := d.store.RaiseAlert(ctx, a)
	if err != nil || d.notify == nil {
		return
	}
	evt, err := events.NewEvent(events.TypeAlertRaised, raised.AlertID, "Alert", events.AlertRaisedData{
		AlertID:         raised.AlertID,
		Type:            raised.Type,
		Severity:        string(raised.Severity),
		Message:         raised.Message,
		RelatedEntities: raised.RelatedEntities,
	}, events.Metadata{Source: "internal/conflict"})
	if err != nil {
		return
	}
	_ = d.notify.Publish(ctx, evt)
}

// ResolutionOption is a structural (non-LLM) fix for a BerthOverlap conflict
// (spec.md §4.G).
type ResolutionOption struct {
	Kind        string // DelaySecond | ShiftToAlternateBerth | SwapSchedules
	ImpactScore float64 // added waiting minutes (SwapSchedules counts half the delay); no resource re-allocation cost is included
	Description string
}

// SuggestResolutions enumerates the three structural options for a
// BerthOverlap between first (earlier-priority) and second (the party that
// would be delayed/moved). Nothing here is auto-applied; spec.md §4.G
// leaves that to a configured autoResolve flag the caller enforces.
//
// The ShiftToAlternateBerth option runs the slot finder with tidal
// awareness disabled (slotfinder.TidalRequirement{}): the Detector isn't
// wired with a tidal lookup, and a resolution suggestion that silently
// skipped tide-inadequate slots without the allocator's own
// revalidation pass would be no more reliable than not checking tide here
// at all.
func SuggestResolutions(ctx context.Context, st *store.Store, first, second store.Schedule) ([]ResolutionOption, error) {
	var options []ResolutionOption

	delayMinutes := first.Etd.Sub(second.Eta).Minutes()
	if delayMinutes < 0 {
		delayMinutes = 0
	}
	options = append(options, ResolutionOption{
		Kind:        "DelaySecond",
		ImpactScore: delayMinutes,
		Description: fmt.Sprintf("delay schedule %d's arrival by %.0f minutes until the berth clears", second.ScheduleID, delayMinutes),
	})

	vessel, ok := st.GetVessel(second.VesselID)
	if ok {
		dwell := int(second.Etd.Sub(second.Eta).Minutes())
		for _, alt := range st.GetCompatibleBerths(vessel.LOA, vessel.Draft) {
			if alt.BerthID == first.BerthID {
				continue
			}
			slot, err := slotfinder.Find(ctx, st, alt.BerthID, vessel.CargoType, second.Eta, dwell, slotfinder.DefaultBuffers(), slotfinder.DefaultHorizon, slotfinder.TidalRequirement{})
			if err != nil {
				continue // absence of a slot simply omits this berth
			}
			waiting := float64(slot.WaitingMinutes)
			options = append(options, ResolutionOption{
				Kind:        "ShiftToAlternateBerth",
				ImpactScore: waiting,
				Description: fmt.Sprintf("reallocate schedule %d to berth %d at %s", second.ScheduleID, alt.BerthID, slot.Eta.Format(time.RFC3339)),
			})
			break
		}
	}

	options = append(options, ResolutionOption{
		Kind:        "SwapSchedules",
		ImpactScore: delayMinutes * 0.5,
		Description: fmt.Sprintf("swap berths between schedules %d and %d", first.ScheduleID, second.ScheduleID),
	})

	return options, nil
}
