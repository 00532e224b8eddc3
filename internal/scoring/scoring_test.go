package scoring

import (
	"testing"

	"github.com/portops/berthplan/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestPhysicalFitDisqualifiesOversizedVessel(t *testing.T) {
	t.Run("LOA beyond berth length disqualifies", func(t *testing.T) {
		in := Input{
			Vessel: store.Vessel{LOA: 310, Draft: 10, Type: store.VesselContainer},
			Berth:  store.Berth{Length: 300, BerthType: "Container", NumberOfCranes: 2},
		}
		s := Score(in, DefaultWeights())
		assert.True(t, s.Disqualified)
	})
}

func TestWaitingTimeRankingSeparatesScores(t *testing.T) {
	t.Run("waits of 0, 45 and 120 minutes differ by at least 2 points on total", func(t *testing.T) {
		base := Input{
			Vessel: store.Vessel{LOA: 250, Draft: 10, Type: store.VesselContainer},
			Berth:  store.Berth{Length: 300, MaxDraft: 12, BerthType: "Container", NumberOfCranes: 2},
		}
		w := DefaultWeights()

		a := base
		a.WaitingMinutes = 0
		b := base
		b.WaitingMinutes = 45
		c := base
		c.WaitingMinutes = 120

		sa, sb, sc := Score(a, w), Score(b, w), Score(c, w)
		assert.GreaterOrEqual(t, sa.Total-sb.Total, 2.0)
		assert.GreaterOrEqual(t, sb.Total-sc.Total, 2.0)
	})
}

func TestTypeMatchTable(t *testing.T) {
	t.Run("exact type match scores 1.0, partial match scores less", func(t *testing.T) {
		assert.Equal(t, 1.0, typeMatch(store.VesselContainer, "Container"))
		assert.Equal(t, 0.6, typeMatch(store.VesselContainer, "General"))
		assert.Equal(t, 0.3, typeMatch(store.VesselTanker, "Bulk"))
	})
}

func TestTidalCompatibilityBands(t *testing.T) {
	t.Run("shallow draft is always fully compatible", func(t *testing.T) {
		assert.Equal(t, 1.0, tidalCompatibility(9, nil))
	})
	t.Run("deep draft ramps linearly between draft and draft+1", func(t *testing.T) {
		draft := 12.0
		tide := 12.5
		assert.InDelta(t, 0.75, tidalCompatibility(draft, &tide), 0.001)
	})
	t.Run("deep draft at or below draft itself scores zero", func(t *testing.T) {
		draft := 12.0
		tide := 11.0
		assert.Equal(t, 0.0, tidalCompatibility(draft, &tide))
	})
}

func TestHistoricalPerformanceNeutralWithoutHistory(t *testing.T) {
	t.Run("no prior visits yields the neutral 0.5 score", func(t *testing.T) {
		assert.Equal(t, 0.5, historicalPerformance(false, 0, 0))
	})
}

func TestWithinTieTolerance(t *testing.T) {
	t.Run("scores within 0.5 points are considered tied", func(t *testing.T) {
		assert.True(t, WithinTieTolerance(80.2, 80.6))
		assert.False(t, WithinTieTolerance(80.0, 81.0))
	})
}
