// Package allocation is the Suggestion & Allocation Service (spec.md §4.E):
// it composes internal/validator, internal/scoring and internal/slotfinder
// over a vessel's compatible berths, the way internal/matching.Engine
// composes its order book and messaging client into one coordinating
// service — fan-out over independent berth candidates runs through
// golang.org/x/sync/errgroup instead of the teacher's fixed background
// ticker, since here the fan-out is per-request rather than per-tick.
package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/scoring"
	"github.com/portops/berthplan/internal/slotfinder"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/internal/validator"
	"github.com/portops/berthplan/pkg/apperr"
	"github.com/portops/berthplan/shared/events"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers a domain event to the in-process bus (internal/eventbus)
// and/or an outbound NATS subject (pkg/messaging). Kept as a narrow
// interface here so this package does not import either concrete
// implementation — cmd/allocator wires a real one at startup.
type Notifier interface {
	Publish(ctx context.Context, evt *events.BaseEvent) error
}

// noopNotifier discards events; used when the service is built without one
// (e.g. in tests that only assert on store state).
type noopNotifier struct{}

func (noopNotifier) Publish(ctx context.Context, evt *events.BaseEvent) error { return nil }

// HistoryLookup supplies the vessel/berth pair history internal/scoring
// needs for historicalPerformance; internal/store doesn't track per-berth
// visit counts directly, so this is injected rather than baked in.
type HistoryLookup interface {
	VisitsAndAccuracy(vesselID, berthID int64) (visits int, avgEtaAccuracy float64, hasHistory bool)
}

// noHistory always reports no history, giving scoring's neutral 0.5.
type noHistory struct{}

func (noHistory) VisitsAndAccuracy(vesselID, berthID int64) (int, float64, bool) { return 0, 0, false }

// TidalLookup supplies the nearest tidal sample to a candidate eta;
// internal/tidal implements it in production.
type TidalLookup interface {
	NearestHeightMeters(ctx context.Context, portID int64, at time.Time) (*float64, error)
}

// noTidal always reports no sample.
type noTidal struct{}

func (noTidal) NearestHeightMeters(ctx context.Context, portID int64, at time.Time) (*float64, error) {
	return nil, nil
}

// DistLock guards the critical section of Allocate against concurrent
// allocators running on different daemon instances against the same
// Postgres-backed Store (spec.md §4.E's "race guard" — two processes racing
// a hold-check-then-commit on the same berth window). internal/lock.Manager
// implements this over etcd in production; a single-process deployment
// never needs one.
type DistLock interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// noLock runs fn directly — correct for a single allocator process, since
// the Store's own mutex already serializes in-process callers.
type noLock struct{}

func (noLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service is the suggestion/allocation/reschedule API over a Store.
type Service struct {
	store   *store.Store
	notify  Notifier
	history HistoryLookup
	tidal   TidalLookup
	lock    DistLock
	clock   clock.Clock
	weights scoring.Weights
	buffers slotfinder.Buffers
	horizon time.Duration
}

// Option configures a Service at construction.
type Option func(*Service)

func WithNotifier(n Notifier) Option           { return func(s *Service) { s.notify = n } }
func WithHistoryLookup(h HistoryLookup) Option { return func(s *Service) { s.history = h } }
func WithTidalLookup(t TidalLookup) Option     { return func(s *Service) { s.tidal = t } }
func WithLock(l DistLock) Option               { return func(s *Service) { s.lock = l } }
func WithWeights(w scoring.Weights) Option     { return func(s *Service) { s.weights = w } }
func WithBuffers(b slotfinder.Buffers) Option  { return func(s *Service) { s.buffers = b } }
func WithHorizon(d time.Duration) Option       { return func(s *Service) { s.horizon = d } }

// New builds a Service over st, applying sensible defaults for anything not
// overridden by an Option.
func New(st *store.Store, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		store:   st,
		notify:  noopNotifier{},
		history: noHistory{},
		tidal:   noTidal{},
		lock:    noLock{},
		clock:   clk,
		weights: scoring.DefaultWeights(),
		buffers: slotfinder.DefaultBuffers(),
		horizon: slotfinder.DefaultHorizon,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReasoningFactor is one structured contributor to a suggestion's score —
// spec.md §4.D/§6: "never free prose", a label/weight/sign/message tuple
// instead.
type ReasoningFactor struct {
	Label      string
	Weight     float64
	ImpactSign int // +1 favorable, -1 unfavorable, 0 neutral
	Message    string
}

// Suggestion is one ranked berth candidate.
type Suggestion struct {
	Rank                int
	BerthID             int64
	Score               float64
	ProposedEta         time.Time
	ProposedEtd         time.Time
	WaitingMinutes      int
	ViolationsNonCritical []validator.Violation
	ReasoningFactors    []ReasoningFactor
}

// Suggest implements spec.md §4.E's suggest operation.
func (s *Service) Suggest(ctx context.Context, vesselID int64, preferredEta *time.Time, topN int) ([]Suggestion, error) {
	if topN <= 0 {
		topN = 5
	}
	vessel, ok := s.store.GetVessel(vesselID)
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("vessel %d not found", vesselID))
	}

	pref := s.clock.Now()
	if preferredEta != nil {
		pref = *preferredEta
	}

	berths := s.store.GetCompatibleBerths(vessel.LOA, vessel.Draft)
	if len(berths) == 0 {
		return nil, apperr.New(apperr.CodeNoCompatibleBerth, "no berth is physically compatible with this vessel")
	}

	candidates := make([]Suggestion, len(berths))
	valid := make([]bool, len(berths))

	g, gctx := errgroup.WithContext(ctx)
	for i, berth := range berths {
		i, berth := i, berth
		g.Go(func() error {
			sugg, ok, err := s.evaluateCandidate(gctx, vessel, berth, pref)
			if err != nil {
				return err
			}
			candidates[i] = sugg
			valid[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Suggestion
	for i, ok := range valid {
		if ok {
			out = append(out, candidates[i])
		}
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.CodeNoSlotFound, "no compatible berth had an available slot")
	}

	sortSuggestions(out)
	for i := range out {
		out[i].Rank = i + 1
	}
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// evaluateCandidate runs the validator fastReject + slot finder + scoring
// pipeline for one berth. The bool return is false when the candidate
// should be silently dropped (hard-disqualified or no slot available),
// distinct from a genuine error.
//
// Validation happens in two passes: the static layers (physical, cargo,
// resources, priority) don't depend on an actual window, so they run first,
// with no window or tide sample, to reject cheaply; the tidal/navigation layers are
// deferred until after the slot finder has picked a window, since the slot
// finder itself is tidal-aware and may have already advanced eta past an
// inadequate tidal window (spec.md §8 Scenario 3) — hard-rejecting on the
// tide at preferredEta here would drop the berth before the slot finder
// ever gets the chance to find it a later, adequate one.
func (s *Service) evaluateCandidate(ctx context.Context, vessel store.Vessel, berth store.Berth, preferredEta time.Time) (Suggestion, bool, error) {
	estimatedDwell := estimateDwellMinutes(vessel)

	staticRes := validator.Validate(validator.Candidate{Vessel: vessel, Berth: berth}, true)
	if !staticRes.HardPassed {
		return Suggestion{}, false, nil
	}

	tidalReq := slotfinder.TidalRequirement{
		Lookup:            s.tidal,
		PortID:            berth.TerminalID,
		DraftMeters:       vessel.Draft,
		RequiredUKCMeters: validator.RequiredUKCMeters(vessel),
	}
	slot, err := slotfinder.Find(ctx, s.store, berth.BerthID, vessel.CargoType, preferredEta, estimatedDwell, s.buffers, s.horizon, tidalReq)
	if err != nil {
		return Suggestion{}, false, nil
	}

	tideAtSlot, _ := s.tidal.NearestHeightMeters(ctx, berth.TerminalID, slot.Eta)
	res := validator.Validate(validator.Candidate{Vessel: vessel, Berth: berth, TideHeightMeters: tideAtSlot}, true)
	if !res.HardPassed {
		return Suggestion{}, false, nil
	}

	visits, accuracy, hasHistory := s.history.VisitsAndAccuracy(vessel.VesselID, berth.BerthID)

	sub := scoring.Score(scoring.Input{
		Vessel:           vessel,
		Berth:            berth,
		WaitingMinutes:   slot.WaitingMinutes,
		PastVisits:       visits,
		AvgEtaAccuracy:   accuracy,
		HasHistory:       hasHistory,
		TideHeightMeters: tideAtSlot,
	}, s.weights)
	if sub.Disqualified {
		return Suggestion{}, false, nil
	}

	nonCritical := res.Violations // fastReject already dropped Critical findings from reaching here

	return Suggestion{
		BerthID:               berth.BerthID,
		Score:                 sub.Total,
		ProposedEta:           slot.Eta,
		ProposedEtd:           slot.Etd,
		WaitingMinutes:        slot.WaitingMinutes,
		ViolationsNonCritical: nonCritical,
		ReasoningFactors:      buildReasoningFactors(sub, s.weights),
	}, true, nil
}

func buildReasoningFactors(sub scoring.SubScores, w scoring.Weights) []ReasoningFactor {
	factor := func(label string, value, weight float64) ReasoningFactor {
		sign := 0
		switch {
		case value >= 0.8:
			sign = 1
		case value <= 0.4:
			sign = -1
		}
		return ReasoningFactor{
			Label: label, Weight: weight, ImpactSign: sign,
			Message: fmt.Sprintf("%s contributed %.2f of its %.0f-point weight", label, value, weight),
		}
	}
	return []ReasoningFactor{
		factor("physicalFit", sub.PhysicalFit, w.PhysicalFit),
		factor("typeMatch", sub.TypeMatch, w.TypeMatch),
		factor("waitingTime", sub.WaitingTime, w.WaitingTime),
		factor("craneAdequacy", sub.CraneAdequacy, w.CraneAdequacy),
		factor("historicalPerformance", sub.HistoricalPerformance, w.HistoricalPerformance),
		factor("tidalCompatibility", sub.TidalCompatibility, w.TidalCompatibility),
	}
}

// sortSuggestions orders by descending score; ties within 0.5 points break
// by higher physicalFit (not carried on Suggestion, so approximated here by
// waitingMinutes then berthId per spec.md §4.C's documented fallback order).
func sortSuggestions(out []Suggestion) {
	sort.SliceStable(out, func(i, j int) bool {
		if scoring.WithinTieTolerance(out[i].Score, out[j].Score) {
			if out[i].WaitingMinutes != out[j].WaitingMinutes {
				return out[i].WaitingMinutes < out[j].WaitingMinutes
			}
			return out[i].BerthID < out[j].BerthID
		}
		return out[i].Score > out[j].Score
	})
}

func estimateDwellMinutes(v store.Vessel) int {
	switch v.Type {
	case store.VesselContainer:
		return 18 * 60
	case store.VesselBulk:
		return 36 * 60
	case store.VesselTanker, store.VesselLNG:
		return 24 * 60
	case store.VesselRoRo:
		return 8 * 60
	default:
		return 24 * 60
	}
}
