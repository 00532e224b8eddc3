package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocationFixture() (*Service, *store.Store) {
	clk := clock.NewFixed(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	st := store.New(nil, nil, clk)
	st.PutBerth(store.Berth{BerthID: 1, TerminalID: 1, Code: "K1", Length: 340, MaxDraft: 14, MaxLOA: 340, BerthType: "Container", NumberOfCranes: 3, CargoTypesAllowed: map[string]bool{"Containers": true}, Active: true})
	st.PutBerth(store.Berth{BerthID: 2, TerminalID: 1, Code: "K2", Length: 320, MaxDraft: 13, MaxLOA: 320, BerthType: "Container", NumberOfCranes: 2, CargoTypesAllowed: map[string]bool{"Containers": true}, Active: true})
	st.PutVessel(store.Vessel{VesselID: 1, Name: "MV Fixture", LOA: 300, Beam: 40, Draft: 11, Type: store.VesselContainer, CargoType: "Containers", PriorityClass: store.PriorityFCFS})
	return New(st, clk), st
}

func at(h int) time.Time { return time.Date(2025, 3, 5, h, 0, 0, 0, time.UTC) }

func TestSuggestRanksEmptyBerths(t *testing.T) {
	t.Run("an empty port returns suggestions for every compatible berth", func(t *testing.T) {
		svc, _ := newAllocationFixture()
		preferred := at(8)
		out, err := svc.Suggest(context.Background(), 1, &preferred, 5)
		require.NoError(t, err)
		assert.NotEmpty(t, out)
		assert.LessOrEqual(t, len(out), 5)
	})
}

func TestSuggestNoCompatibleBerth(t *testing.T) {
	t.Run("an oversized vessel yields NoCompatibleBerth", func(t *testing.T) {
		svc, st := newAllocationFixture()
		st.PutVessel(store.Vessel{VesselID: 2, Name: "MV Huge", LOA: 500, Beam: 60, Draft: 18, Type: store.VesselContainer, CargoType: "Containers", PriorityClass: store.PriorityFCFS})
		_, err := svc.Suggest(context.Background(), 2, nil, 5)
		require.Error(t, err)
	})
}

func TestAllocateThenOverlapRetrySucceeds(t *testing.T) {
	t.Run("allocating into an occupied window retries and then succeeds on a later window", func(t *testing.T) {
		svc, st := newAllocationFixture()
		st.PutVessel(store.Vessel{VesselID: 2, Name: "MV Second", LOA: 300, Beam: 40, Draft: 11, Type: store.VesselContainer, CargoType: "Containers", PriorityClass: store.PriorityFCFS})

		_, err := svc.Allocate(context.Background(), AllocateRequest{VesselID: 1, BerthID: 1, Eta: at(8), Etd: at(12)})
		require.NoError(t, err)

		sch, err := svc.Allocate(context.Background(), AllocateRequest{VesselID: 2, BerthID: 1, Eta: at(9), Etd: at(11)})
		require.NoError(t, err)
		assert.False(t, sch.Eta.Before(at(12)))
	})
}

func TestRescheduleMovesSchedule(t *testing.T) {
	t.Run("reschedule cancels the old window and allocates the new one", func(t *testing.T) {
		svc, _ := newAllocationFixture()
		sch, err := svc.Allocate(context.Background(), AllocateRequest{VesselID: 1, BerthID: 1, Eta: at(8), Etd: at(12)})
		require.NoError(t, err)

		moved, err := svc.Reschedule(context.Background(), sch.ScheduleID, 2, at(14), at(18))
		require.NoError(t, err)
		assert.Equal(t, int64(2), moved.BerthID)
	})
}
