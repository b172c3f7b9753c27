package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolregistry/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireStandalone(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Registry)
	assert.NotNil(t, deps.Pools)
	assert.NotNil(t, deps.Metrics)
	assert.Nil(t, deps.AuditStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled())

	_, err = deps.Pools.CreatePool(context.Background(), "p1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, deps.Registry.Len())
}

func TestWireFailsOnUnreachableRedis(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = 0

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := Wire(ctx, &cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: redis")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Port = 0

	a := New(&cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
