package measure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetersMargin(t *testing.T) {
	t.Run("computes the physical-fit margin fraction", func(t *testing.T) {
		cap := NewMeters(350)
		dim := NewMeters(315)
		assert.InDelta(t, 0.10, cap.Margin(dim), 0.001)
	})

	t.Run("negative margin when dimension exceeds capacity", func(t *testing.T) {
		cap := NewMeters(350)
		dim := NewMeters(366)
		assert.Less(t, cap.Margin(dim), 0.0)
	})
}

func TestMetersComparisons(t *testing.T) {
	t.Run("accepts LOA exactly equal to maxLOA", func(t *testing.T) {
		assert.True(t, NewMeters(350).GTE(NewMeters(350)))
	})

	t.Run("rejects LOA past maxLOA by any margin", func(t *testing.T) {
		assert.False(t, NewMeters(350).GTE(NewMeters(350.01)))
	})
}

func TestScoreWithinTolerance(t *testing.T) {
	t.Run("scores within 0.5 are considered tied", func(t *testing.T) {
		assert.True(t, NewScore(82.0).WithinTolerance(NewScore(82.4), 0.5))
	})

	t.Run("scores beyond 0.5 are not tied", func(t *testing.T) {
		assert.False(t, NewScore(82.0).WithinTolerance(NewScore(83.0), 0.5))
	})
}

func TestClamp01To100(t *testing.T) {
	t.Run("clamps below zero", func(t *testing.T) {
		assert.Equal(t, "0.00", Clamp01To100(-5).String())
	})

	t.Run("clamps above 100", func(t *testing.T) {
		assert.Equal(t, "100.00", Clamp01To100(142).String())
	})
}
