package patterns

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
)

func monitorTestConfig() *config.MonitorConfig {
	return &config.MonitorConfig{
		Group:        "stream-monitor",
		Consumer:     "monitor-1",
		PollInterval: 25 * time.Millisecond,
		Batch:        10,
	}
}

func TestMonitor_StreamsReturnsCopy(t *testing.T) {
	monitor := NewMonitor(nil, events.NewBus(4), monitorTestConfig(), []string{"a", "b"})

	streams := monitor.Streams()
	streams[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, monitor.Streams())
	assert.Nil(t, monitor.Health(), "no worker before start")
}

func TestMonitor_EmitsProducedEvents(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	stream := uniqueName(t, "watched")
	monitor := NewMonitor(deps.store, deps.bus, monitorTestConfig(), []string{stream})

	sink, err := deps.bus.Subscribe(events.SubscribeOptions{BufferSize: 64})
	require.NoError(t, err)
	defer deps.bus.Unsubscribe(sink)

	require.NoError(t, monitor.Start(ctx))
	defer monitor.Stop()

	// The watch group starts at the live end of the log, so only entries
	// appended after the first sweep are visible. Keep producing until
	// one comes back.
	var observed events.Event
	seq := 0
	require.Eventually(t, func() bool {
		seq++
		_, err := deps.store.Append(ctx, stream, map[string]string{"seq": strconv.Itoa(seq)})
		if err != nil {
			return false
		}
		for {
			select {
			case evt := <-sink.Events():
				if evt.EventType == events.TypeMessageProduced && evt.StreamName == stream {
					observed = evt
					return true
				}
			default:
				return false
			}
		}
	}, 15*time.Second, 50*time.Millisecond, "monitor should report new entries")

	assert.NotEmpty(t, observed.MessageID)
	assert.Contains(t, observed.Payload, "seq")

	// Observer-only: everything it reads is acked straight away.
	require.Eventually(t, func() bool {
		pending, err := deps.store.Pending(ctx, stream, monitorTestConfig().Group, 0, 10)
		return err == nil && len(pending) == 0
	}, 10*time.Second, 50*time.Millisecond)
}
