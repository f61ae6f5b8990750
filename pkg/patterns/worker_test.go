package patterns

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_PollsUntilStopped(t *testing.T) {
	var polls atomic.Int64
	w := newWorker("test-worker", time.Millisecond, 0, func(ctx context.Context) error {
		polls.Add(1)
		return nil
	})

	w.Start(context.Background())
	require.Eventually(t, func() bool { return polls.Load() >= 5 }, 2*time.Second, time.Millisecond)

	w.Stop()
	after := polls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, polls.Load(), "no polls after Stop returns")
	assert.Equal(t, WorkerStatusStopped, w.Health().Status)
}

func TestWorker_KeepsRunningOnPollErrors(t *testing.T) {
	var polls atomic.Int64
	w := newWorker("flaky-worker", time.Millisecond, 0, func(ctx context.Context) error {
		polls.Add(1)
		return errors.New("store hiccup")
	})

	w.Start(context.Background())
	// Backoff doubles between failures but the loop must survive them all.
	require.Eventually(t, func() bool { return polls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	w.Stop()
}

func TestWorker_StopInterruptsSleep(t *testing.T) {
	w := newWorker("sleepy-worker", time.Hour, 0, func(ctx context.Context) error {
		return nil
	})
	w.Start(context.Background())

	// Let the first poll finish and the long sleep begin.
	require.Eventually(t, func() bool {
		return w.Health().Status == WorkerStatusIdle
	}, 2*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}
}

func TestWorker_ContextCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var polls atomic.Int64
	w := newWorker("ctx-worker", time.Millisecond, 0, func(ctx context.Context) error {
		polls.Add(1)
		return nil
	})
	w.Start(ctx)

	require.Eventually(t, func() bool { return polls.Load() >= 1 }, 2*time.Second, time.Millisecond)
	cancel()

	require.Eventually(t, func() bool {
		return w.Health().Status == WorkerStatusStopped
	}, 2*time.Second, time.Millisecond)
}

func TestWorker_StopTwiceIsSafe(t *testing.T) {
	w := newWorker("idempotent-worker", time.Millisecond, 0, func(ctx context.Context) error { return nil })
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestWorker_PollIntervalJitterBounds(t *testing.T) {
	w := newWorker("jittery-worker", 100*time.Millisecond, 25*time.Millisecond, nil)
	for i := 0; i < 200; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}

	fixed := newWorker("fixed-worker", 100*time.Millisecond, 0, nil)
	assert.Equal(t, 100*time.Millisecond, fixed.pollInterval())
}

func TestWorker_HealthSnapshot(t *testing.T) {
	w := newWorker("health-worker", time.Millisecond, 0, func(ctx context.Context) error { return nil })

	h := w.Health()
	assert.Equal(t, "health-worker", h.ID)
	assert.Equal(t, WorkerStatusIdle, h.Status)
	assert.True(t, h.LastActivity.IsZero())

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return !w.Health().LastActivity.IsZero()
	}, 2*time.Second, time.Millisecond)
	w.Stop()
}
