package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live etcd cluster and are skipped in short mode, the
// same convention tests/integration and tests/chaos use for every backend
// that can't be faked in-process.

func TestAcquireAndUnlockRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping lock test in short mode")
	}
	t.Run("acquiring then unlocking the same key succeeds twice in a row", func(t *testing.T) {
		m, err := New(Config{Endpoints: []string{"127.0.0.1:2379"}})
		require.NoError(t, err)
		defer m.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		l, err := m.Acquire(ctx, "test-lock")
		require.NoError(t, err)
		require.NoError(t, l.Unlock(ctx))

		l2, err := m.Acquire(ctx, "test-lock")
		require.NoError(t, err)
		require.NoError(t, l2.Unlock(ctx))
	})
}

func TestAcquireBlocksConcurrentHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping lock test in short mode")
	}
	t.Run("a second acquire for the same key waits until the first releases", func(t *testing.T) {
		m, err := New(Config{Endpoints: []string{"127.0.0.1:2379"}})
		require.NoError(t, err)
		defer m.Close()

		ctx := context.Background()
		l, err := m.Acquire(ctx, "contended-lock")
		require.NoError(t, err)

		released := make(chan struct{})
		go func() {
			time.Sleep(200 * time.Millisecond)
			l.Unlock(ctx)
			close(released)
		}()

		start := time.Now()
		l2, err := m.Acquire(ctx, "contended-lock")
		require.NoError(t, err)
		defer l2.Unlock(ctx)

		<-released
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestWithLockRunsAndReleases(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping lock test in short mode")
	}
	t.Run("WithLock invokes fn while held and releases afterward", func(t *testing.T) {
		m, err := New(Config{Endpoints: []string{"127.0.0.1:2379"}})
		require.NoError(t, err)
		defer m.Close()

		ctx := context.Background()
		ran := false
		err = m.WithLock(ctx, "withlock-key", func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		l, err := m.Acquire(ctx, "withlock-key")
		require.NoError(t, err)
		require.NoError(t, l.Unlock(ctx))
	})
}
