package scheduleindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func t0(h int) time.Time {
	return time.Date(2025, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestIndexInsertOrdering(t *testing.T) {
	t.Run("keeps intervals sorted by eta regardless of insert order", func(t *testing.T) {
		idx := New()
		idx.Insert(Interval{ID: 3, Eta: t0(14), Etd: t0(18)})
		idx.Insert(Interval{ID: 1, Eta: t0(6), Etd: t0(10)})
		idx.Insert(Interval{ID: 2, Eta: t0(10), Etd: t0(14)})

		all := idx.All()
		require.Len(t, all, 3)
		assert.Equal(t, int64(1), all[0].ID)
		assert.Equal(t, int64(2), all[1].ID)
		assert.Equal(t, int64(3), all[2].ID)
	})
}

func TestIndexOverlapping(t *testing.T) {
	idx := New()
	idx.Insert(Interval{ID: 1, Eta: t0(10), Etd: t0(14)})

	t.Run("detects a genuine overlap", func(t *testing.T) {
		got := idx.Overlapping(t0(13), t0(17))
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), got[0].ID)
	})

	t.Run("touching endpoints are not an overlap", func(t *testing.T) {
		got := idx.Overlapping(t0(14), t0(18))
		assert.Empty(t, got, "half-open intervals touching exactly at endpoints must not be reported as overlapping")
	})

	t.Run("disjoint window reports nothing", func(t *testing.T) {
		got := idx.Overlapping(t0(20), t0(22))
		assert.Empty(t, got)
	})
}

func TestIndexRemoveAndUpdate(t *testing.T) {
	idx := New()
	idx.Insert(Interval{ID: 1, Eta: t0(10), Etd: t0(14)})
	idx.Insert(Interval{ID: 2, Eta: t0(15), Etd: t0(18)})

	t.Run("remove drops only the matching id", func(t *testing.T) {
		idx.Remove(1)
		all := idx.All()
		require.Len(t, all, 1)
		assert.Equal(t, int64(2), all[0].ID)
	})

	t.Run("update re-sorts after an eta shift", func(t *testing.T) {
		idx.Insert(Interval{ID: 1, Eta: t0(20), Etd: t0(22)})
		idx.Update(Interval{ID: 1, Eta: t0(5), Etd: t0(7)})
		all := idx.All()
		require.Len(t, all, 2)
		assert.Equal(t, int64(1), all[0].ID)
		assert.Equal(t, int64(2), all[1].ID)
	})
}

func TestIndexAfter(t *testing.T) {
	idx := New()
	idx.Insert(Interval{ID: 1, Eta: t0(6), Etd: t0(10)})
	idx.Insert(Interval{ID: 2, Eta: t0(12), Etd: t0(16)})

	t.Run("returns only intervals at or after the cutoff", func(t *testing.T) {
		got := idx.After(t0(11))
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].ID)
	})
}
