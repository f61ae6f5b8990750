package patterns

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/store"
)

var nameCounter atomic.Int64

type testDeps struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
}

// newTestDeps wires a real store with loaded scripts and a fresh event
// bus. In CI (when CI_REDIS_ADDR is set) it connects to an external Redis
// service container; locally it spins up a testcontainer with Redis 7.
func newTestDeps(t *testing.T) *testDeps {
	if testing.Short() {
		t.Skip("integration test: needs a container runtime or CI_REDIS_ADDR")
	}
	ctx := context.Background()

	addr := os.Getenv("CI_REDIS_ADDR")
	if addr == "" {
		t.Log("Using testcontainers for Redis")
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		uri, err := container.ConnectionString(ctx)
		require.NoError(t, err)
		opts, err := goredis.ParseURL(uri)
		require.NoError(t, err)
		addr = opts.Addr
	} else {
		t.Log("Using external Redis from CI_REDIS_ADDR")
	}

	client, err := store.NewClient(ctx, store.Config{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 1,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	scripts := store.NewScripts(client)
	require.NoError(t, scripts.Load(ctx))

	return &testDeps{
		store:   client,
		scripts: scripts,
		bus:     events.NewBus(events.DefaultSinkBuffer),
	}
}

// uniqueName returns a key name unique to this test run.
func uniqueName(t *testing.T, label string) string {
	return fmt.Sprintf("test.%s.%d", label, nameCounter.Add(1))
}
