package validator

import (
	"testing"

	"github.com/portops/berthplan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseBerth() store.Berth {
	return store.Berth{
		BerthID: 1, Length: 300, MaxDraft: 14, MaxLOA: 300,
		CargoTypesAllowed: map[string]bool{"Containers": true},
		NumberOfCranes:    3,
		DGCertified:       true,
		Active:            true,
	}
}

func baseVessel() store.Vessel {
	return store.Vessel{
		VesselID: 1, LOA: 280, Beam: 35, Draft: 12,
		Type: store.VesselContainer, CargoType: "Containers",
		PriorityClass: store.PriorityFCFS,
	}
}

func TestVesselPhysicalDisqualification(t *testing.T) {
	t.Run("LOA beyond berth length is a hard Critical violation", func(t *testing.T) {
		v := baseVessel()
		v.LOA = 301
		res := Validate(Candidate{Vessel: v, Berth: baseBerth()}, false)
		require.False(t, res.HardPassed)
		found := false
		for _, vi := range res.Violations {
			if vi.Rule == "loa_exceeds_berth_length" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("LOA exactly at berth length is accepted", func(t *testing.T) {
		v := baseVessel()
		v.LOA = 300
		res := Validate(Candidate{Vessel: v, Berth: baseBerth()}, false)
		assert.True(t, res.HardPassed)
	})
}

func TestCargoTypeRejection(t *testing.T) {
	t.Run("disallowed cargo type is critical", func(t *testing.T) {
		v := baseVessel()
		v.CargoType = "Bulk Grain"
		res := Validate(Candidate{Vessel: v, Berth: baseBerth()}, false)
		assert.False(t, res.HardPassed)
	})
}

func TestHazmatRequiresDGBerth(t *testing.T) {
	t.Run("hazmat cargo at a non-DG berth is critical", func(t *testing.T) {
		v := baseVessel()
		hz := "Class 3"
		v.HazmatClass = &hz
		b := baseBerth()
		b.DGCertified = false
		res := Validate(Candidate{Vessel: v, Berth: b}, false)
		assert.False(t, res.HardPassed)
	})
}

func TestTidalWindowCheck(t *testing.T) {
	t.Run("tide below required UKC for deep draft is critical", func(t *testing.T) {
		v := baseVessel()
		v.Draft = 13
		tide := 14.0 // required = 13 + 1.5 = 14.5
		res := Validate(Candidate{Vessel: v, Berth: baseBerth(), TideHeightMeters: &tide}, false)
		assert.False(t, res.HardPassed)
	})

	t.Run("tide exactly at draft+ukc is accepted", func(t *testing.T) {
		v := baseVessel()
		v.Draft = 13
		tide := 14.5
		res := Validate(Candidate{Vessel: v, Berth: baseBerth(), TideHeightMeters: &tide}, false)
		assert.True(t, res.HardPassed)
	})

	t.Run("shallow draft needs no tidal sample", func(t *testing.T) {
		v := baseVessel()
		v.Draft = 8
		res := Validate(Candidate{Vessel: v, Berth: baseBerth()}, false)
		assert.True(t, res.HardPassed)
	})
}

func TestWindowVesselSoftViolation(t *testing.T) {
	t.Run("window-vessel bump without override is soft, not hard", func(t *testing.T) {
		res := Validate(Candidate{Vessel: baseVessel(), Berth: baseBerth(), WindowVesselConflict: true}, false)
		assert.True(t, res.HardPassed)
		assert.NotEmpty(t, res.Violations)
	})

	t.Run("government override suppresses the violation entirely", func(t *testing.T) {
		v := baseVessel()
		v.Draft = 8 // shallow draft, so no tidal-sample finding accompanies the window check
		res := Validate(Candidate{Vessel: v, Berth: baseBerth(), WindowVesselConflict: true, GovernmentOverride: true}, false)
		assert.Empty(t, res.Violations)
	})
}

func TestFastReject(t *testing.T) {
	t.Run("fastReject stops at the first Critical violation", func(t *testing.T) {
		v := baseVessel()
		v.LOA = 301
		v.Draft = 20 // would also fail MaxDraft
		res := Validate(Candidate{Vessel: v, Berth: baseBerth()}, true)
		assert.Len(t, res.Violations, 1)
	})
}
