// Package validator is the Constraint Validator (spec.md §4.B): a six-layer
// hierarchy of checks run against a candidate (vessel, berth, window) triple,
// producing a list of Violations plus a hardPassed verdict rather than a
// single pass/fail bool — the same accumulate-then-report shape
// internal/risk.Calculator uses for margin/leverage/loss checks, generalized
// from "one float in, one error out" to "many structured findings out".
package validator

import (
	"fmt"

	"github.com/portops/berthplan/internal/store"
)

// Layer numbers spec.md §4.B's six-layer hierarchy.
const (
	LayerVesselPhysical    = 1
	LayerCargo             = 1
	LayerBerthAvailability = 2
	LayerResources         = 3
	LayerTemporal          = 4
	LayerPriority          = 5
	LayerNavigation        = 6
)

// Violation is one failed rule.
type Violation struct {
	Rule     string
	Layer    int
	Severity store.Severity
	Message  string
}

// Result is the validator's output: every violation found, plus whether any
// Critical violation occurred (hardPassed == false means the allocation must
// be rejected; ConstraintViolationSoft findings never block it, per
// spec.md §7).
type Result struct {
	Violations []Violation
	HardPassed bool
}

func (r *Result) add(v Violation) {
	r.Violations = append(r.Violations, v)
	if v.Severity == store.SeverityCritical {
		r.HardPassed = false
	}
}

// Candidate bundles everything a validation pass needs to evaluate one
// vessel/berth/window triple.
type Candidate struct {
	Vessel    store.Vessel
	Berth     store.Berth
	Resources []store.Resource // resources assignable at this berth, for layer 3
	TideHeightMeters *float64  // nearest tidal sample to ETA, if known (layer 4/6)
	WindowVesselConflict bool  // true if this allocation would bump a Window-class vessel (layer 5)
	GovernmentOverride bool
}

// Validate runs all six layers. When fastReject is true, evaluation stops
// at the first Critical violation (spec.md §4.B); internal/allocation calls
// it this way on both the suggestion and the allocate path. With
// fastReject=false every finding is collected.
func Validate(c Candidate, fastReject bool) Result {
	res := Result{HardPassed: true}

	layers := []func(Candidate) []Violation{
		vesselPhysicalChecks,
		cargoChecks,
		berthAvailabilityChecks,
		resourceChecks,
		temporalEnvironmentalChecks,
		priorityCommercialChecks,
		navigationSafetyChecks,
	}

	for _, layer := range layers {
		for _, v := range layer(c) {
			res.add(v)
			if fastReject && v.Severity == store.SeverityCritical {
				return res
			}
		}
	}
	return res
}

// vesselPhysicalChecks is layer 1: LOA, draft, beam, air draft and gross
// tonnage must all fit the berth's physical limits.
func vesselPhysicalChecks(c Candidate) []Violation {
	var out []Violation
	v, b := c.Vessel, c.Berth

	if v.LOA > b.Length {
		out = append(out, Violation{
			Rule: "loa_exceeds_berth_length", Layer: LayerVesselPhysical, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("vessel LOA %.1fm exceeds berth length %.1fm", v.LOA, b.Length),
		})
	}
	if v.Draft > b.MaxDraft {
		out = append(out, Violation{
			Rule: "draft_exceeds_berth_max", Layer: LayerVesselPhysical, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("vessel draft %.1fm exceeds berth max draft %.1fm", v.Draft, b.MaxDraft),
		})
	}
	if b.MaxBeam != nil && v.Beam > *b.MaxBeam {
		out = append(out, Violation{
			Rule: "beam_exceeds_berth_max", Layer: LayerVesselPhysical, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("vessel beam %.1fm exceeds berth max beam %.1fm", v.Beam, *b.MaxBeam),
		})
	}
	if v.AirDraft != nil && b.MaxAirDraft != nil && *v.AirDraft > *b.MaxAirDraft {
		out = append(out, Violation{
			Rule: "air_draft_exceeds_berth_max", Layer: LayerVesselPhysical, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("vessel air draft %.1fm exceeds berth max %.1fm", *v.AirDraft, *b.MaxAirDraft),
		})
	}
	if v.GrossTonnage != nil && b.MaxGT != nil && *v.GrossTonnage > *b.MaxGT {
		out = append(out, Violation{
			Rule: "gross_tonnage_exceeds_berth_max", Layer: LayerVesselPhysical, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("vessel GT %.0f exceeds berth max GT %.0f", *v.GrossTonnage, *b.MaxGT),
		})
	}
	return out
}

// cargoChecks is the cargo half of layer 1: the berth must accept the
// vessel's cargo type, and hazmat cargo requires a DG-certified berth.
func cargoChecks(c Candidate) []Violation {
	var out []Violation
	v, b := c.Vessel, c.Berth

	if len(b.CargoTypesAllowed) > 0 && !b.CargoTypesAllowed[v.CargoType] {
		out = append(out, Violation{
			Rule: "cargo_type_not_allowed", Layer: LayerCargo, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("berth does not accept cargo type %q", v.CargoType),
		})
	}
	if v.HazmatClass != nil && !b.DGCertified {
		out = append(out, Violation{
			Rule: "hazmat_requires_dg_certification", Layer: LayerCargo, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("hazmat class %q requires a DG-certified berth", *v.HazmatClass),
		})
	}
	return out
}

// berthAvailabilityChecks is layer 2. The actual overlap/maintenance test
// runs in internal/store.checkBerthAvailabilityLocked and internal/slotfinder
// before a candidate ever reaches the validator; this layer only checks the
// berth is active, since an inactive berth can slip through a stale cache
// read (spec.md §5: berths cached <=60s).
func berthAvailabilityChecks(c Candidate) []Violation {
	if !c.Berth.Active {
		return []Violation{{
			Rule: "berth_inactive", Layer: LayerBerthAvailability, Severity: store.SeverityCritical,
			Message: "berth is not active",
		}}
	}
	return nil
}

// resourceChecks is layer 3: the berth's crane count must be able to serve
// cargo volume at all — insufficiency here is soft (internal/scoring's
// craneAdequacy sub-score is where it costs points), full absence is hard.
func resourceChecks(c Candidate) []Violation {
	if c.Berth.NumberOfCranes == 0 && needsCranes(c.Vessel.Type) {
		return []Violation{{
			Rule: "no_cranes_available", Layer: LayerResources, Severity: store.SeverityCritical,
			Message: "berth has no cranes but vessel type requires crane service",
		}}
	}
	return nil
}

func needsCranes(t store.VesselType) bool {
	return t == store.VesselContainer || t == store.VesselBulk || t == store.VesselGeneral
}

// RequiredUKCMeters is spec.md §4.B's required under-keel clearance table:
// 1.5m standard, 2.0m for GT>100000, 2.5m for GT>200000.
func RequiredUKCMeters(v store.Vessel) float64 {
	if v.GrossTonnage == nil {
		return 1.5
	}
	switch {
	case *v.GrossTonnage > 200000:
		return 2.5
	case *v.GrossTonnage > 100000:
		return 2.0
	default:
		return 1.5
	}
}

// temporalEnvironmentalChecks is layer 4: a deep-draft arrival needs a
// tidal sample showing enough water, i.e. tideHeight >= draft + requiredUKC.
// A missing tidal sample is a soft finding (we cannot confirm safety, but we
// also cannot prove its absence), not a hard rejection.
func temporalEnvironmentalChecks(c Candidate) []Violation {
	if c.Vessel.Draft <= 10 {
		return nil
	}
	if c.TideHeightMeters == nil {
		return []Violation{{
			Rule: "tidal_sample_unavailable", Layer: LayerTemporal, Severity: store.SeverityLow,
			Message: "no tidal reading available to confirm under-keel clearance for a deep-draft vessel",
		}}
	}
	required := c.Vessel.Draft + RequiredUKCMeters(c.Vessel)
	if *c.TideHeightMeters < required {
		return []Violation{{
			Rule: "insufficient_tidal_window", Layer: LayerTemporal, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("tide height %.2fm is below the %.2fm required for draft %.2fm", *c.TideHeightMeters, required, c.Vessel.Draft),
		}}
	}
	return nil
}

// priorityCommercialChecks is layer 5: bumping a Window-class vessel's
// contracted slot is a soft violation unless the caller is explicitly
// acting under Government/Emergency override (spec.md §9 Open Question).
func priorityCommercialChecks(c Candidate) []Violation {
	if !c.WindowVesselConflict {
		return nil
	}
	if c.GovernmentOverride {
		return nil
	}
	return []Violation{{
		Rule: "window_vessel_contract_at_risk", Layer: LayerPriority, Severity: store.SeverityMedium,
		Message: "this allocation would displace a Window-class vessel's contracted slot",
	}}
}

// navigationSafetyChecks is layer 6: applies the same UKC formula as layer 4
// but unconditionally, whereas layer 4 only runs it for draft > 10m — this
// catches a shallow-draft vessel against a berth with a known tight tidal
// window instead of assuming shallow draft is always safe. Exactly at the
// boundary (tide == draft + required UKC) is accepted, per the boundary law.
func navigationSafetyChecks(c Candidate) []Violation {
	if c.TideHeightMeters == nil {
		return nil
	}
	required := c.Vessel.Draft + RequiredUKCMeters(c.Vessel)
	if *c.TideHeightMeters < required {
		return []Violation{{
			Rule: "ukc_formula_violation", Layer: LayerNavigation, Severity: store.SeverityCritical,
			Message: fmt.Sprintf("navigation safety check failed: tide %.2fm < draft %.2fm + required UKC %.2fm", *c.TideHeightMeters, c.Vessel.Draft, RequiredUKCMeters(c.Vessel)),
		}}
	}
	return nil
}
