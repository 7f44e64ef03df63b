package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/saferemediate/internal/audit"
	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/healthcheck"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
	"github.com/ILLUVRSE/saferemediate/internal/store"
)

type testRig struct {
	orch    *Orchestrator
	exec    *executor.StaticExecutor
	checker *healthcheck.StaticChecker
	auditor *audit.MemoryRecorder
	tracker *history.MemoryTracker
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	rig := &testRig{
		exec:    executor.NewStaticExecutor(),
		checker: healthcheck.NewStaticChecker(),
		auditor: audit.NewMemoryRecorder(),
		tracker: history.NewMemoryTracker(),
	}
	orch, err := New(cfg, store.NewMemoryStore(), rig.exec, rig.checker, rig.auditor, rig.tracker)
	require.NoError(t, err)
	rig.orch = orch
	return rig
}

func decisionWith(action models.Action) models.Decision {
	return models.Decision{
		Confidence: 0.82,
		Safety:     0.78,
		Action:     action,
		Breakdown:  map[string]float64{"simulation": 0.9},
		Reasons:    []string{"simulation passed"},
		Warnings:   []string{},
	}
}

func createRequest(action models.Action) CreateRequest {
	return CreateRequest{
		FindingID:    "finding-001",
		ResourceType: "IAMRole",
		ResourceID:   "arn:aws:iam::123456789012:role/payments-api",
		Decision:     decisionWith(action),
		RequestedBy:  "scanner",
	}
}

func TestApprovalWorkflowLifecycle(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionRequireApproval))
	require.NoError(t, err)

	assert.Equal(t, models.StatusAwaitingApproval, w.Status)
	require.NotNil(t, w.Approval)
	assert.Equal(t, models.ApprovalPending, w.Approval.Status)
	assert.Equal(t, w.Approval.RequestedAt.Add(24*time.Hour), w.Approval.ExpiresAt)

	rejected, err := rig.orch.Reject(ctx, w.ID, "alice@example.com", "too risky")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, models.ApprovalRejected, rejected.Approval.Status)
	assert.Equal(t, "alice@example.com", rejected.Approval.ReviewedBy)

	_, err = rig.orch.Approve(ctx, w.ID, "bob@example.com", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApproveRunsExecutionSubFlow(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionRequireApproval))
	require.NoError(t, err)

	approved, err := rig.orch.Approve(ctx, w.ID, "alice@example.com", "looks safe")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, approved.Status)
	assert.Equal(t, models.ApprovalApproved, approved.Approval.Status)
	require.NotNil(t, approved.ExecutionResult)
	assert.NotEmpty(t, approved.ExecutionResult.SnapshotID)
	require.NotNil(t, approved.HealthReport)
	require.Len(t, rig.exec.Executions(), 1)

	metrics, err := rig.tracker.Metrics(ctx, "IAMRole", 90)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.Successes)

	types := map[string]bool{}
	for _, ev := range rig.auditor.Events() {
		types[ev.EventType] = true
	}
	assert.True(t, types["workflow.created"])
	assert.True(t, types["workflow.approved"])
	assert.True(t, types["workflow.completed"])
}

func TestBlockDecisionRequiresApproval(t *testing.T) {
	rig := newTestRig(t, Config{})

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionBlock))
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRequireApproval, w.WorkflowType)
	assert.Equal(t, models.StatusAwaitingApproval, w.Status)
	assert.Empty(t, rig.exec.Executions())
}

func TestCanaryFullRun(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionCanary))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanaryDeploying, w.Status)
	require.NotNil(t, w.Canary)
	require.Len(t, w.Canary.Stages, 4)

	w, err = rig.orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanaryMonitoring, w.Status)
	assert.Equal(t, models.StageInProgress, w.Canary.Stages[0].Status)

	require.Len(t, rig.exec.Executions(), 1)
	assert.Equal(t, 10, rig.exec.Executions()[0].CanaryPercentage)

	for i := 0; i < 3; i++ {
		w, err = rig.orch.AdvanceCanary(ctx, w.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, models.StatusCompleted, w.Status)
	assert.Equal(t, 100, w.Canary.CurrentPercentage)
	assert.Equal(t, models.CanaryCompleted, w.Canary.Status)
	require.NotNil(t, w.Canary.PromotedAt)
	assert.Equal(t, 3, w.Canary.HealthChecksPassed)
}

func TestCanaryRollbackAfterRepeatedFailures(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionCanary))
	require.NoError(t, err)
	_, err = rig.orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)

	rig.checker.Push(healthcheck.FailingReport("error spike"))
	rig.checker.Push(healthcheck.FailingReport("error spike"))

	w, err = rig.orch.AdvanceCanary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanaryMonitoring, w.Status)
	assert.Equal(t, 1, w.Canary.HealthChecksFailed)
	assert.Zero(t, w.Canary.CurrentPercentage)

	w, err = rig.orch.AdvanceCanary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRolledBack, w.Status)
	assert.Equal(t, models.CanaryRolledBack, w.Canary.Status)
	require.Len(t, rig.exec.Rollbacks(), 1)

	metrics, err := rig.tracker.Metrics(ctx, "IAMRole", 90)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.Rollbacks)
}

func TestAdvanceCompletedCanaryIsNoOp(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionCanary))
	require.NoError(t, err)
	_, err = rig.orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		w, err = rig.orch.AdvanceCanary(ctx, w.ID)
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusCompleted, w.Status)

	again, err := rig.orch.AdvanceCanary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, 100, again.Canary.CurrentPercentage)
}

func TestCanaryUnknownHealthDoesNotAdvance(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionCanary))
	require.NoError(t, err)
	_, err = rig.orch.StartCanary(ctx, w.ID)
	require.NoError(t, err)

	rig.checker.Push(healthcheck.UnknownReport())

	w, err = rig.orch.AdvanceCanary(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanaryMonitoring, w.Status)
	assert.Zero(t, w.Canary.HealthChecksPassed)
	assert.Zero(t, w.Canary.HealthChecksFailed)
	assert.Equal(t, models.StageInProgress, w.Canary.Stages[0].Status)
}

func TestManualRollbackIsIdempotent(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionAutoRemediate))
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, w.Status)

	first, err := rig.orch.Rollback(ctx, w.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRolledBack, first.Status)
	assert.Equal(t, "operator request", first.Error)

	second, err := rig.orch.Rollback(ctx, w.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRolledBack, second.Status)
	require.Len(t, rig.exec.Rollbacks(), 1)
}

func TestRollbackRejectedWorkflowConflicts(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionRequireApproval))
	require.NoError(t, err)
	_, err = rig.orch.Reject(ctx, w.ID, "alice@example.com", "")
	require.NoError(t, err)

	_, err = rig.orch.Rollback(ctx, w.ID, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAutoRemediateExecutesImmediately(t *testing.T) {
	rig := newTestRig(t, Config{})

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionAutoRemediate))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, w.Status)
	require.Len(t, rig.exec.Executions(), 1)
	assert.Equal(t, 100, rig.exec.Executions()[0].CanaryPercentage)
}

func TestExecutorFailureMarksWorkflowFailed(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.exec.ExecuteErr = errors.New("iam throttled")

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionAutoRemediate))
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, w.Status)
	assert.Contains(t, w.Error, "iam throttled")

	metrics, err := rig.tracker.Metrics(context.Background(), "IAMRole", 90)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.Total)
	assert.Zero(t, metrics.Successes)
}

func TestUnknownHealthCompletesWithoutRollback(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.checker.Push(healthcheck.UnknownReport())

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionAutoRemediate))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, w.Status)
	require.NotNil(t, w.HealthReport)
	assert.Equal(t, models.HealthUnknown, w.HealthReport.OverallStatus)
	assert.Empty(t, rig.exec.Rollbacks())
}

func TestUnhealthyReportTriggersRollback(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.checker.Push(healthcheck.FailingReport("policy drift"))

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionAutoRemediate))
	require.NoError(t, err)

	assert.Equal(t, models.StatusRolledBack, w.Status)
	assert.Contains(t, w.Error, "health checks failed")
	require.Len(t, rig.exec.Rollbacks(), 1)
	assert.Equal(t, w.ExecutionResult.SnapshotID, rig.exec.Rollbacks()[0].SnapshotID)
}

func TestScheduledOutsideWindowStaysPending(t *testing.T) {
	rig := newTestRig(t, Config{})
	base := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC) // 03:00, window opens 06:00
	rig.orch.now = func() time.Time { return base }

	scheduled := base.Add(30 * time.Minute)
	req := createRequest(models.ActionAutoRemediate)
	req.ScheduledFor = &scheduled

	w, err := rig.orch.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, w.Status)
	assert.Empty(t, rig.exec.Executions())

	// Window still closed: nothing resumes.
	n, err := rig.orch.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rig.orch.now = func() time.Time { return base.Add(7 * time.Hour) } // 10:00
	n, err = rig.orch.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resumed, err := rig.orch.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, resumed.Status)
}

func TestExpireApprovalsSweep(t *testing.T) {
	rig := newTestRig(t, Config{})
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rig.orch.now = func() time.Time { return base }

	w, err := rig.orch.Create(context.Background(), createRequest(models.ActionRequireApproval))
	require.NoError(t, err)

	// Not yet expired.
	n, err := rig.orch.ExpireApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rig.orch.now = func() time.Time { return base.Add(25 * time.Hour) }
	n, err = rig.orch.ExpireApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := rig.orch.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
	assert.Equal(t, models.ApprovalExpired, expired.Approval.Status)

	_, err = rig.orch.Approve(context.Background(), w.ID, "alice@example.com", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConcurrentWorkflowsAreIndependent(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	const n = 8
	ids := make([]models.Workflow, 0, n)
	for i := 0; i < n; i++ {
		w, err := rig.orch.Create(ctx, createRequest(models.ActionRequireApproval))
		require.NoError(t, err)
		ids = append(ids, w)
	}

	var wg sync.WaitGroup
	for _, w := range ids {
		wg.Add(1)
		go func(id models.Workflow) {
			defer wg.Done()
			_, err := rig.orch.Approve(ctx, id.ID, "alice@example.com", "")
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	active, err := rig.orch.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Len(t, rig.exec.Executions(), n)
}

func TestListPendingApprovals(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	w, err := rig.orch.Create(ctx, createRequest(models.ActionRequireApproval))
	require.NoError(t, err)
	_, err = rig.orch.Create(ctx, createRequest(models.ActionCanary))
	require.NoError(t, err)

	pending, err := rig.orch.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, w.Approval.ID, pending[0].ID)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{CanaryStages: []int{10, 10, 100}}, store.NewMemoryStore(), executor.NewStaticExecutor(), healthcheck.NewStaticChecker(), nil, nil)
	assert.Error(t, err)

	_, err = New(Config{CanaryStages: []int{10, 50}}, store.NewMemoryStore(), executor.NewStaticExecutor(), healthcheck.NewStaticChecker(), nil, nil)
	assert.Error(t, err)
}
