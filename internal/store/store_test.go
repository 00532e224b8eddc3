package store

import (
	"context"
	"testing"
	"time"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(nil, nil, clock.NewFixed(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func seedBerthAndVessel(s *Store) (berthID, vesselID int64) {
	s.PutBerth(Berth{BerthID: 1, TerminalID: 1, Code: "K1", Length: 350, MaxDraft: 13, MaxLOA: 350, Active: true})
	s.PutVessel(Vessel{VesselID: 1, Name: "MV Test", LOA: 300, Beam: 40, Draft: 11, Type: VesselContainer, PriorityClass: PriorityFCFS})
	return 1, 1
}

func ts(h int) time.Time { return time.Date(2025, 3, 1, h, 0, 0, 0, time.UTC) }

func TestAllocateOverlap(t *testing.T) {
	s := newTestStore()
	berthID, vesselID := seedBerthAndVessel(s)

	_, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
	require.NoError(t, err)

	t.Run("overlapping window is rejected with TimeConflict", func(t *testing.T) {
		_, err := s.Allocate(context.Background(), vesselID, berthID, ts(13), ts(17), 50, nil)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.CodeTimeConflict))
	})

	t.Run("touching-endpoint window is accepted", func(t *testing.T) {
		_, err := s.Allocate(context.Background(), vesselID, berthID, ts(14), ts(18), 50, nil)
		assert.NoError(t, err)
	})
}

func TestRecordArrivalIdempotent(t *testing.T) {
	t.Run("recording the same arrival twice leaves state unchanged", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		sch, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		a := ts(10)
		first, err := s.RecordArrival(context.Background(), sch.ScheduleID, a)
		require.NoError(t, err)

		second, err := s.RecordArrival(context.Background(), sch.ScheduleID, a)
		require.NoError(t, err)

		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, *first.Ata, *second.Ata)
	})
}

func TestDepartureAppendsOneHistoryRow(t *testing.T) {
	t.Run("recordDeparture appends exactly one history row with non-negative dwell", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		sch, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		_, err = s.RecordArrival(context.Background(), sch.ScheduleID, ts(10))
		require.NoError(t, err)
		_, err = s.RecordBerthing(context.Background(), sch.ScheduleID, ts(11))
		require.NoError(t, err)
		_, err = s.RecordDeparture(context.Background(), sch.ScheduleID, ts(14))
		require.NoError(t, err)

		hist := s.VesselHistoryFor(vesselID, 10)
		require.Len(t, hist, 1)
		assert.GreaterOrEqual(t, hist[0].ActualDwellMinutes, 0)
	})
}

func TestMonotoneStatus(t *testing.T) {
	t.Run("status cannot move backward", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		sch, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		_, err = s.RecordBerthing(context.Background(), sch.ScheduleID, ts(11))
		require.NoError(t, err)

		got, err := s.RecordArrival(context.Background(), sch.ScheduleID, ts(10))
		require.NoError(t, err)
		assert.Equal(t, StatusBerthed, got.Status, "arrival recorded after berthing must not regress status")
	})
}

func TestUpdateETARaisesAlertAndConflict(t *testing.T) {
	t.Run("a 75 minute deviation raises a High severity alert", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		sch, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		_, alert, _, err := s.UpdateETA(context.Background(), sch.ScheduleID, ts(10).Add(75*time.Minute), nil)
		require.NoError(t, err)
		require.NotNil(t, alert)
		assert.Equal(t, SeverityHigh, alert.Severity)
	})

	t.Run("a sub-30-minute deviation raises nothing", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		sch, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		_, alert, conflict, err := s.UpdateETA(context.Background(), sch.ScheduleID, ts(10).Add(10*time.Minute), nil)
		require.NoError(t, err)
		assert.Nil(t, alert)
		assert.Nil(t, conflict)
	})

	t.Run("a shift that overlaps a later schedule on the same berth inserts a BerthOverlap conflict", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		first, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)
		second, err := s.Allocate(context.Background(), vesselID, berthID, ts(15), ts(18), 50, nil)
		require.NoError(t, err)

		// first's predicted window shifts to [16,20), which now overlaps
		// second's committed [15,18) window, even though first's own
		// committed [Eta,Etd) = [10,14) never changes.
		_, alert, conflict, err := s.UpdateETA(context.Background(), first.ScheduleID, ts(16), nil)
		require.NoError(t, err)
		require.NotNil(t, alert)
		require.NotNil(t, conflict)
		assert.Equal(t, ConflictBerthOverlap, conflict.Kind)
		assert.Equal(t, first.ScheduleID, conflict.ScheduleID1)
		require.NotNil(t, conflict.ScheduleID2)
		assert.Equal(t, second.ScheduleID, *conflict.ScheduleID2)
	})
}

func TestClearAll(t *testing.T) {
	t.Run("clears schedules/conflicts/alerts but keeps reference data", func(t *testing.T) {
		s := newTestStore()
		berthID, vesselID := seedBerthAndVessel(s)
		_, err := s.Allocate(context.Background(), vesselID, berthID, ts(10), ts(14), 50, nil)
		require.NoError(t, err)

		s.ClearAll()

		assert.Empty(t, s.GetActiveSchedules(nil))
		_, ok := s.GetBerth(berthID)
		assert.True(t, ok, "reference data (berths) must survive ClearAll")
	})
}
