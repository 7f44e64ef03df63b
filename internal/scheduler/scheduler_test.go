package scheduler

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/saferemediate/internal/audit"
	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/healthcheck"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
	"github.com/ILLUVRSE/saferemediate/internal/orchestrator"
	"github.com/ILLUVRSE/saferemediate/internal/store"
)

func newOrchestrator(t *testing.T, cfg orchestrator.Config) *orchestrator.Orchestrator {
	t.Helper()
	orch, err := orchestrator.New(cfg,
		store.NewMemoryStore(),
		executor.NewStaticExecutor(),
		healthcheck.NewStaticChecker(),
		audit.NewMemoryRecorder(),
		history.NewMemoryTracker(),
	)
	require.NoError(t, err)
	return orch
}

func TestTickAdvancesSoakedCanary(t *testing.T) {
	orch := newOrchestrator(t, orchestrator.Config{MonitorInterval: time.Millisecond})
	ctx := context.Background()

	w, err := orch.Create(ctx, orchestrator.CreateRequest{
		FindingID:    "finding-001",
		ResourceType: "IAMRole",
		ResourceID:   "role/payments-api",
		Decision:     models.Decision{Action: models.ActionCanary, Safety: 0.8},
	})
	require.NoError(t, err)
	_, err = orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	logger := log.New(io.Discard, "", 0)

	// Three healthy ticks drive the canary to full promotion.
	for i := 0; i < 3; i++ {
		require.NoError(t, Tick(ctx, orch, logger))
		time.Sleep(5 * time.Millisecond)
	}

	got, err := orch.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Canary.CurrentPercentage)
}

func TestTickLeavesFreshCanaryAlone(t *testing.T) {
	orch := newOrchestrator(t, orchestrator.Config{MonitorInterval: time.Hour})
	ctx := context.Background()

	w, err := orch.Create(ctx, orchestrator.CreateRequest{
		FindingID:    "finding-001",
		ResourceType: "IAMRole",
		ResourceID:   "role/payments-api",
		Decision:     models.Decision{Action: models.ActionCanary, Safety: 0.8},
	})
	require.NoError(t, err)
	_, err = orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)

	require.NoError(t, Tick(ctx, orch, log.New(io.Discard, "", 0)))

	got, err := orch.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanaryMonitoring, got.Status)
	assert.Zero(t, got.Canary.CurrentPercentage)
}

func TestRunStopsOnCancel(t *testing.T) {
	orch := newOrchestrator(t, orchestrator.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, orch, Config{PollInterval: time.Millisecond, Logger: log.New(io.Discard, "", 0)})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
