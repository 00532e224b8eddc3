// Package scoring is the Scoring Engine (spec.md §4.C): a weighted composite
// score in [0,100] over six sub-scores, built the way
// internal/risk.Calculator.CalculateRisk composes several independent
// float metrics (exposure, margin, leverage) into one RiskMetrics value —
// generalized here to a table of named weighted sub-scores instead of one
// fixed metric struct, since spec.md's weighting may be tuned per-deployment
// (see Config).
package scoring

import (
	"math"

	"github.com/portops/berthplan/internal/store"
)

// Weights is the sub-score weight table, defaulting to spec.md §4.C's
// figures; operators can retune via Config.ScoringWeights (SPEC_FULL.md §10.3).
type Weights struct {
	PhysicalFit          float64
	TypeMatch            float64
	WaitingTime          float64
	CraneAdequacy        float64
	HistoricalPerformance float64
	TidalCompatibility   float64
}

// DefaultWeights matches spec.md §4.C: 25/20/20/15/10/10.
func DefaultWeights() Weights {
	return Weights{
		PhysicalFit: 25, TypeMatch: 20, WaitingTime: 20,
		CraneAdequacy: 15, HistoricalPerformance: 10, TidalCompatibility: 10,
	}
}

// SubScores holds each 0..1 component alongside the final weighted total.
type SubScores struct {
	PhysicalFit           float64
	TypeMatch             float64
	WaitingTime           float64
	CraneAdequacy         float64
	HistoricalPerformance float64
	TidalCompatibility    float64
	Total                 float64
	Disqualified          bool
}

// Input bundles everything Score needs to rank one berth candidate.
type Input struct {
	Vessel         store.Vessel
	Berth          store.Berth
	WaitingMinutes int
	PastVisits     int     // vessel's prior calls at this berth
	AvgEtaAccuracy float64 // 0..100, historical ETA accuracy at this berth
	HasHistory     bool
	TideHeightMeters *float64
}

// Score computes spec.md §4.C's weighted total for one candidate berth.
func Score(in Input, w Weights) SubScores {
	physical := physicalFit(in.Vessel, in.Berth)
	if physical < 0 {
		return SubScores{Disqualified: true}
	}

	s := SubScores{
		PhysicalFit:           physical,
		TypeMatch:             typeMatch(in.Vessel.Type, in.Berth.BerthType),
		WaitingTime:           waitingTimeScore(in.WaitingMinutes),
		CraneAdequacy:         craneAdequacy(in.Vessel, in.Berth),
		HistoricalPerformance: historicalPerformance(in.HasHistory, in.PastVisits, in.AvgEtaAccuracy),
		TidalCompatibility:    tidalCompatibility(in.Vessel.Draft, in.TideHeightMeters),
	}
	weighted := s.PhysicalFit*w.PhysicalFit +
		s.TypeMatch*w.TypeMatch +
		s.WaitingTime*w.WaitingTime +
		s.CraneAdequacy*w.CraneAdequacy +
		s.HistoricalPerformance*w.HistoricalPerformance +
		s.TidalCompatibility*w.TidalCompatibility
	totalWeight := w.PhysicalFit + w.TypeMatch + w.WaitingTime + w.CraneAdequacy + w.HistoricalPerformance + w.TidalCompatibility
	s.Total = 100 * weighted / totalWeight
	return s
}

// physicalFit bands the vessel-vs-berth margin on the length and draft axes
// per spec.md §4.C ("Aggregated across length and draft axes equally") and
// averages the two. A negative margin on either axis (vessel doesn't fit)
// returns -1 to signal disqualification rather than a low score.
func physicalFit(v store.Vessel, b store.Berth) float64 {
	if b.Length <= 0 || b.MaxDraft <= 0 {
		return -1
	}
	lengthMargin := marginScore((b.Length - v.LOA) / b.Length)
	draftMargin := marginScore((b.MaxDraft - v.Draft) / b.MaxDraft)
	if lengthMargin < 0 || draftMargin < 0 {
		return -1
	}
	return (lengthMargin + draftMargin) / 2
}

// marginScore bands one (cap-dim)/cap margin per spec.md §4.C.
func marginScore(margin float64) float64 {
	switch {
	case margin < 0:
		return -1
	case margin >= 0.10 && margin <= 0.25:
		return 1.0
	case margin >= 0.05 && margin < 0.10:
		return 0.85
	case margin >= 0 && margin < 0.05:
		return 0.70
	case margin > 0.25 && margin <= 0.40:
		return 0.9
	default: // margin > 0.40
		return 0.8
	}
}

var typeMatchTable = map[store.VesselType]map[string]float64{
	store.VesselContainer: {"Container": 1.0, "General": 0.6, "RoRo": 0.4, "Bulk": 0.3, "Tanker": 0.3},
	store.VesselBulk:      {"Bulk": 1.0, "General": 0.6, "Tanker": 0.3, "Container": 0.4},
	store.VesselTanker:    {"Tanker": 1.0, "Bulk": 0.3, "General": 0.4},
	store.VesselRoRo:      {"RoRo": 1.0, "General": 0.6, "Container": 0.4},
	store.VesselGeneral:   {"General": 1.0, "Container": 0.6, "Bulk": 0.6, "RoRo": 0.6, "Tanker": 0.4},
	store.VesselLNG:       {"Tanker": 1.0, "General": 0.4},
}

// typeMatch scores how well a vessel type fits a berth type (spec.md §4.C).
func typeMatch(vt store.VesselType, berthType string) float64 {
	table, ok := typeMatchTable[vt]
	if !ok {
		return 0.4
	}
	if score, ok := table[berthType]; ok {
		return score
	}
	return 0.4
}

// waitingTimeScore is spec.md §4.C's step function on expected wait.
func waitingTimeScore(minutes int) float64 {
	switch {
	case minutes <= 0:
		return 1.0
	case minutes <= 30:
		return 0.95
	case minutes <= 60:
		return 0.85
	case minutes <= 120:
		return 0.70
	case minutes <= 240:
		return 0.50
	case minutes <= 480:
		return 0.30
	default:
		return 0.10
	}
}

// estimatedCranesRequired maps cargo scale to crane need (spec.md §4.C):
// Container 1/2/3 at >2k/>5k TEU, Bulk 1/2 at >50k MT.
func estimatedCranesRequired(v store.Vessel) int {
	switch v.Type {
	case store.VesselContainer:
		vol := 0.0
		if v.CargoVolume != nil {
			vol = *v.CargoVolume
		}
		switch {
		case vol > 5000:
			return 3
		case vol > 2000:
			return 2
		default:
			return 1
		}
	case store.VesselBulk:
		vol := 0.0
		if v.CargoVolume != nil {
			vol = *v.CargoVolume
		}
		if vol > 50000 {
			return 2
		}
		return 1
	default:
		return 1
	}
}

func craneAdequacy(v store.Vessel, b store.Berth) float64 {
	required := estimatedCranesRequired(v)
	if required <= 0 {
		return 1.0
	}
	ratio := float64(b.NumberOfCranes) / float64(required)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// historicalPerformance blends visit frequency with ETA accuracy; no
// history at all scores a neutral 0.5 rather than penalizing new vessels.
func historicalPerformance(hasHistory bool, visits int, avgEtaAccuracy float64) float64 {
	if !hasHistory {
		return 0.5
	}
	visitScore := math.Min(1.0, float64(visits)/10.0)
	return 0.4*visitScore + 0.6*(avgEtaAccuracy/100.0)
}

// tidalCompatibility is full for draft<=10m; otherwise full when tide>=
// draft+1, 0 when tide<=draft, rising linearly from 0.5 toward 1.0 across
// the (draft, draft+1) band, and 0.5 with no tide sample, per spec.md §4.C.
func tidalCompatibility(draft float64, tideHeight *float64) float64 {
	if draft <= 10 {
		return 1.0
	}
	if tideHeight == nil {
		return 0.5
	}
	h := *tideHeight
	switch {
	case h >= draft+1:
		return 1.0
	case h <= draft:
		return 0.0
	default:
		return 0.5 + 0.5*(h-draft)
	}
}

// WithinTieTolerance reports whether two totals (already on the 0..100
// scale) are close enough to invoke the tie-break order: higher
// physicalFit, then lower waitingTime, then lower berthId (spec.md §4.C).
func WithinTieTolerance(a, b float64) bool {
	return math.Abs(a-b) <= 0.5
}
