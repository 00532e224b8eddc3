package ingestor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/store"
)

func newFixture() (*Ingestor, *store.Store, *clock.Fixed) {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	st := store.New(nil, nil, clk)
	st.PutVessel(store.Vessel{VesselID: 1, Name: "MV Ingestor", LOA: 200, Beam: 30, Draft: 10, Type: store.VesselContainer, CargoType: "Containers", PriorityClass: store.PriorityFCFS})
	st.PutBerth(store.Berth{BerthID: 1, TerminalID: 1, Code: "K1", Length: 250, MaxDraft: 14, MaxLOA: 250, BerthType: "Container", NumberOfCranes: 2, CargoTypesAllowed: map[string]bool{"Containers": true}, Active: true})

	cfg := Config{PortLat: 51.9, PortLon: 4.05}
	ig := New(cfg, st, clk, nil)
	return ig, st, clk
}

func TestHandlePositionReportDropsOlderThanLatest(t *testing.T) {
	t.Run("a report recorded before the stored latest is dropped", func(t *testing.T) {
		ig, st, clk := newFixture()
		base := clk.Now()

		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.0, Lon: 3.0, SOG: 12, RecordedAt: base.Format(time.RFC3339)})
		clk.Advance(10 * time.Second)
		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.1, Lon: 3.1, SOG: 10, RecordedAt: base.Add(-time.Minute).Format(time.RFC3339)})

		latest, ok := st.LatestPosition(1)
		require.True(t, ok)
		assert.Equal(t, 51.0, latest.Lat, "the stale report must not overwrite the newer one")
	})
}

func TestHandlePositionReportCoalescesWithinWindow(t *testing.T) {
	t.Run("two reports inside the 5s coalesce window yield one write", func(t *testing.T) {
		ig, st, clk := newFixture()
		base := clk.Now()

		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.0, Lon: 3.0, SOG: 12, RecordedAt: base.Format(time.RFC3339)})
		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.2, Lon: 3.2, SOG: 12, RecordedAt: base.Add(2 * time.Second).Format(time.RFC3339)})

		recent := st.RecentPositions(1, 10)
		assert.Len(t, recent, 1, "the second report must be coalesced away")
	})
}

func TestHandlePositionReportWritesAfterCoalesceWindow(t *testing.T) {
	t.Run("a report past the coalesce window is accepted as a new write", func(t *testing.T) {
		ig, st, clk := newFixture()
		base := clk.Now()

		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.0, Lon: 3.0, SOG: 12, RecordedAt: base.Format(time.RFC3339)})
		clk.Advance(6 * time.Second)
		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.2, Lon: 3.2, SOG: 12, RecordedAt: base.Add(6 * time.Second).Format(time.RFC3339)})

		recent := st.RecentPositions(1, 10)
		assert.Len(t, recent, 2)
	})
}

func TestRecomputePredictedETARaisesAlertOnLargeDeviation(t *testing.T) {
	t.Run("a slow vessel far from port predicts an eta that crosses the warning band", func(t *testing.T) {
		ig, st, clk := newFixture()
		sch, err := st.Allocate(context.Background(), 1, 1, clk.Now().Add(time.Hour), clk.Now().Add(5*time.Hour), store.PriorityFCFS.Weight(), nil)
		require.NoError(t, err)

		// Far from the configured port reference point, slow speed -> a large
		// predicted transit time that deviates well past the eta.
		ig.handlePositionReport(context.Background(), wirePosition{
			VesselID: 1, Lat: 48.0, Lon: -5.0, SOG: 5,
			RecordedAt: clk.Now().Format(time.RFC3339),
		})

		alerts := st.GetActiveAlerts()
		require.NotEmpty(t, alerts, "a large eta deviation must raise an ETAUpdate alert")
		assert.Equal(t, "ETAUpdate", alerts[0].Type)
		_ = sch
	})
}

func TestRecomputePredictedETANoopWithoutActiveSchedule(t *testing.T) {
	t.Run("a vessel with no active schedule does not panic or alert", func(t *testing.T) {
		ig, st, clk := newFixture()
		ig.handlePositionReport(context.Background(), wirePosition{VesselID: 1, Lat: 51.0, Lon: 3.0, SOG: 12, RecordedAt: clk.Now().Format(time.RFC3339)})
		assert.Empty(t, st.GetActiveAlerts())
	})
}

func TestDeviationSeverityBands(t *testing.T) {
	t.Run("deviation minutes map to the spec's Info/Warning/Critical bands", func(t *testing.T) {
		_, below := deviationSeverity(10)
		assert.False(t, below)

		sev, ok := deviationSeverity(20)
		assert.True(t, ok)
		assert.Equal(t, "Info", sev)

		sev, ok = deviationSeverity(75)
		assert.True(t, ok)
		assert.Equal(t, "Warning", sev)

		sev, ok = deviationSeverity(150)
		assert.True(t, ok)
		assert.Equal(t, "Critical", sev)
	})
}

func TestBackoffWithFullJitterRespectsCapAndBase(t *testing.T) {
	t.Run("jittered backoff never exceeds the 60s cap even at high attempt counts", func(t *testing.T) {
		for attempt := 0; attempt < 20; attempt++ {
			d := backoffWithFullJitter(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, backoffCap)
		}
	})
}

func TestHaversineNMZeroAtSamePoint(t *testing.T) {
	t.Run("distance between identical coordinates is zero", func(t *testing.T) {
		assert.InDelta(t, 0, haversineNM(51.9, 4.05, 51.9, 4.05), 0.0001)
	})
}
