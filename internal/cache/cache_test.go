package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	Name string `json:"name"`
}

func TestGetPopulatesLocalOnMiss(t *testing.T) {
	t.Run("a full miss calls the loader once and caches the result locally", func(t *testing.T) {
		c := New(Config{})
		calls := 0
		load := func(ctx context.Context) (interface{}, error) {
			calls++
			return fixture{Name: "berth-1"}, nil
		}

		var out fixture
		require.NoError(t, c.Get(context.Background(), "berth:1", &out, load))
		assert.Equal(t, "berth-1", out.Name)
		assert.Equal(t, 1, calls)

		var second fixture
		require.NoError(t, c.Get(context.Background(), "berth:1", &second, load))
		assert.Equal(t, "berth-1", second.Name)
		assert.Equal(t, 1, calls, "second read should be served from the local map, not the loader")
	})
}

func TestGetExpiresAfterTTL(t *testing.T) {
	t.Run("an entry past its TTL is treated as a miss", func(t *testing.T) {
		c := New(Config{TTL: time.Millisecond})
		calls := 0
		load := func(ctx context.Context) (interface{}, error) {
			calls++
			return fixture{Name: "vessel-1"}, nil
		}

		var out fixture
		require.NoError(t, c.Get(context.Background(), "vessel:1", &out, load))
		time.Sleep(5 * time.Millisecond)

		var second fixture
		require.NoError(t, c.Get(context.Background(), "vessel:1", &second, load))
		assert.Equal(t, 2, calls, "expired entry must trigger a fresh load")
	})
}

func TestInvalidateForcesReload(t *testing.T) {
	t.Run("invalidate drops the local entry so the next get reloads", func(t *testing.T) {
		c := New(Config{})
		calls := 0
		load := func(ctx context.Context) (interface{}, error) {
			calls++
			return fixture{Name: "tidal-reading"}, nil
		}

		var out fixture
		require.NoError(t, c.Get(context.Background(), "tidal:1", &out, load))
		c.Invalidate(context.Background(), "tidal:1")

		var second fixture
		require.NoError(t, c.Get(context.Background(), "tidal:1", &second, load))
		assert.Equal(t, 2, calls)
	})
}

func TestGetTidalUsesSeparateClientPath(t *testing.T) {
	t.Run("GetTidal falls back to the loader the same way Get does when no redis client is configured", func(t *testing.T) {
		c := New(Config{})
		var out fixture
		err := c.GetTidal(context.Background(), "tidal:nearest:1", &out, func(ctx context.Context) (interface{}, error) {
			return fixture{Name: "neap"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "neap", out.Name)
	})
}

func TestDefaultTTLAppliedWhenUnset(t *testing.T) {
	t.Run("a zero TTL config falls back to DefaultTTL", func(t *testing.T) {
		c := New(Config{})
		assert.Equal(t, DefaultTTL, c.ttl)
	})
}
