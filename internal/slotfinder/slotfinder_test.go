package slotfinder

import (
	"context"
	"testing"
	"time"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFinderStore() *store.Store {
	s := store.New(nil, nil, clock.NewFixed(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	s.PutBerth(store.Berth{BerthID: 1, TerminalID: 1, Code: "K1", Length: 350, MaxDraft: 14, MaxLOA: 350, Active: true})
	s.PutVessel(store.Vessel{VesselID: 1, Name: "MV One", LOA: 300, Beam: 40, Draft: 11, Type: store.VesselContainer, PriorityClass: store.PriorityFCFS})
	return s
}

func t0(h int) time.Time { return time.Date(2025, 3, 5, h, 0, 0, 0, time.UTC) }

func TestFindEmptyBerthReturnsPreferredEta(t *testing.T) {
	t.Run("an empty berth yields the preferred eta with zero wait", func(t *testing.T) {
		s := newFinderStore()
		res, err := Find(context.Background(), s, 1, "Containers", t0(9), 240, DefaultBuffers(), 0, TidalRequirement{})
		require.NoError(t, err)
		assert.Equal(t, 0, res.WaitingMinutes)
	})
}

func TestFindSkipsOverlappingScheduleWithBuffer(t *testing.T) {
	t.Run("an occupied window pushes the slot past etd plus the container buffer", func(t *testing.T) {
		s := newFinderStore()
		_, err := s.Allocate(context.Background(), 1, 1, t0(8), t0(12), 50, nil)
		require.NoError(t, err)

		res, err := Find(context.Background(), s, 1, "Containers", t0(9), 120, DefaultBuffers(), 0, TidalRequirement{})
		require.NoError(t, err)
		assert.True(t, !res.Eta.Before(t0(12).Add(60*time.Minute)))
	})
}

func TestFindSkipsMaintenanceWindow(t *testing.T) {
	t.Run("an active maintenance window blocks the slot", func(t *testing.T) {
		s := newFinderStore()
		_, err := s.ScheduleMaintenance(context.Background(), 1, t0(9), t0(11))
		require.NoError(t, err)

		res, err := Find(context.Background(), s, 1, "Containers", t0(9), 60, DefaultBuffers(), 0, TidalRequirement{})
		require.NoError(t, err)
		assert.True(t, !res.Eta.Before(t0(11)))
	})
}

func TestFindNoSlotWithinHorizon(t *testing.T) {
	t.Run("an impossibly short horizon yields NoSlotFound", func(t *testing.T) {
		s := newFinderStore()
		_, err := s.Allocate(context.Background(), 1, 1, t0(8), t0(23), 50, nil)
		require.NoError(t, err)

		_, err = Find(context.Background(), s, 1, "Containers", t0(9), 60, DefaultBuffers(), 2*time.Hour, TidalRequirement{})
		require.Error(t, err)
	})
}

// fakeTideTable is a sparse-sample TidalLookup, in the spirit of spec.md §8
// Scenario 3 (a deep-draft vessel's preferred eta falls in a tide-inadequate
// window, and a later sample clears it). Each sample's key is minutes since
// midnight on t0's day; NearestHeightMeters picks the closest one by minute
// distance.
type fakeTideTable struct {
	chartedDepth float64
	samples      map[int]float64
}

func (f fakeTideTable) NearestHeightMeters(ctx context.Context, portID int64, at time.Time) (*float64, error) {
	atMinute := at.Hour()*60 + at.Minute()
	best, bestDist := -1, 0
	for minute := range f.samples {
		dist := minute - atMinute
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best, bestDist = minute, dist
		}
	}
	if best == -1 {
		return nil, nil
	}
	h := f.chartedDepth + f.samples[best]
	return &h, nil
}

func TestFindAdvancesPastInadequateTidalWindow(t *testing.T) {
	t.Run("a deep-draft vessel's request advances past an inadequate tidal window to the next adequate sample", func(t *testing.T) {
		s := newFinderStore()
		tide := fakeTideTable{
			chartedDepth: 16.0,
			samples: map[int]float64{
				9*60 + 0:  0.2, // 09:00, 16.2m: below the 19.0m draft+UKC requirement
				10*60 + 40: 3.5, // 10:40, 19.5m: clears it
			},
		}
		// draft 17.5 + required UKC 1.5 = 19.0m needed.
		req := TidalRequirement{Lookup: tide, PortID: 1, DraftMeters: 17.5, RequiredUKCMeters: 1.5}

		res, err := Find(context.Background(), s, 1, "Containers", t0(9), 240, DefaultBuffers(), 0, req)
		require.NoError(t, err)
		assert.True(t, res.Eta.After(t0(9)), "eta must advance off the inadequate 09:00 window")
		assert.Equal(t, 10, res.Eta.Hour())
		assert.Equal(t, 0, res.Eta.Minute()%15, "eta must land on the finder's 15-minute tidal step grid")
	})
}
