package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/healthcheck"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// executeLocked runs the shared execution sub-flow: EXECUTING → execute
// collaborator → HEALTH_CHECK → COMPLETED or ROLLED_BACK. Collaborator
// failures terminate the workflow as FAILED and are never propagated to the
// caller; the per-workflow lock must already be held.
func (o *Orchestrator) executeLocked(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	w.Status = models.StatusExecuting
	w, err := o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.executing", &w)

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	result, err := o.exec.Execute(execCtx, executor.ExecuteRequest{
		FindingID:        w.FindingID,
		ResourceType:     w.ResourceType,
		ResourceID:       w.ResourceID,
		CanaryPercentage: 100,
	})
	cancel()
	if err != nil {
		return o.failLocked(ctx, w, fmt.Sprintf("execute failed: %v", err))
	}
	w.ExecutionResult = &result

	w.Status = models.StatusHealthCheck
	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}

	report, err := o.runHealthCheck(ctx, &w)
	if err != nil {
		return o.failLocked(ctx, w, fmt.Sprintf("health check failed: %v", err))
	}
	w.HealthReport = &report

	if report.ShouldRollback {
		reason := report.RollbackReason
		if reason == "" {
			reason = "health check failed"
		}
		return o.rollbackLocked(ctx, w, reason)
	}

	w.Status = models.StatusCompleted
	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.completed", &w)
	o.recordOutcome(ctx, &w, history.OutcomeSuccess)
	log.Printf("[orchestrator] remediation completed id=%s", w.ID)
	return w, nil
}

// runHealthCheck calls the health-check collaborator under the configured
// timeout. A timeout is not a failure: it yields an UNKNOWN report, distinct
// from an explicit rollback request.
func (o *Orchestrator) runHealthCheck(ctx context.Context, w *models.Workflow) (models.HealthReport, error) {
	checkCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	defer cancel()

	report, err := o.checker.Check(checkCtx, healthcheck.Request{
		ResourceType: w.ResourceType,
		ResourceID:   w.ResourceID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.HealthReport{
				OverallStatus: models.HealthUnknown,
				CheckedAt:     o.now(),
			}, nil
		}
		return models.HealthReport{}, err
	}
	return report, nil
}

// failLocked terminates the workflow as FAILED with the error recorded.
func (o *Orchestrator) failLocked(ctx context.Context, w models.Workflow, msg string) (models.Workflow, error) {
	w.Status = models.StatusFailed
	w.Error = msg
	w, err := o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.failed", &w)
	o.recordOutcome(ctx, &w, history.OutcomeFailure)
	log.Printf("[orchestrator] remediation failed id=%s: %s", w.ID, msg)
	return w, nil
}

// rollbackLocked reverts the change best-effort and terminates the workflow
// as ROLLED_BACK. A rollback collaborator failure is recorded but does not
// change the terminal state; the operator verifies out-of-band.
func (o *Orchestrator) rollbackLocked(ctx context.Context, w models.Workflow, reason string) (models.Workflow, error) {
	log.Printf("[orchestrator] rolling back id=%s reason=%q", w.ID, reason)

	req := executor.RollbackRequest{
		FindingID:  w.FindingID,
		ResourceID: w.ResourceID,
	}
	if w.ExecutionResult != nil {
		req.SnapshotID = w.ExecutionResult.SnapshotID
	}

	rbCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	err := o.exec.Rollback(rbCtx, req)
	cancel()

	w.Error = reason
	if err != nil {
		w.Error = fmt.Sprintf("%s (rollback failed: %v)", reason, err)
	}
	if w.Canary != nil {
		w.Canary.Status = models.CanaryRolledBack
	}
	w.Status = models.StatusRolledBack

	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.rolled_back", &w)
	o.recordOutcome(ctx, &w, history.OutcomeRolledBack)
	return w, nil
}

// Rollback is the manual override: it preempts a workflow regardless of its
// automatic progress. Calling it on an already rolled-back workflow is a
// no-op; rejected and expired workflows never executed, so there is nothing
// to revert.
func (o *Orchestrator) Rollback(ctx context.Context, id uuid.UUID, reason string) (models.Workflow, error) {
	if reason == "" {
		reason = "manual rollback"
	}
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	switch w.Status {
	case models.StatusRolledBack:
		return w, nil
	case models.StatusRejected, models.StatusExpired:
		return models.Workflow{}, fmt.Errorf("%w: cannot roll back workflow in state %s", ErrConflict, w.Status)
	}
	return o.rollbackLocked(ctx, w, reason)
}

// ResumePending re-attempts scheduled AUTO_REMEDIATE workflows whose time
// has come and the change window is open. Returns how many were resumed.
func (o *Orchestrator) ResumePending(ctx context.Context) (int, error) {
	now := o.now()
	if !o.inChangeWindow(now) {
		return 0, nil
	}
	pending, err := o.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, w := range pending {
		if w.WorkflowType != models.WorkflowAutoRemediate {
			continue
		}
		if w.ScheduledFor != nil && w.ScheduledFor.After(now) {
			continue
		}
		lock := o.lockFor(w.ID)
		lock.Lock()
		current, err := o.store.Get(ctx, w.ID)
		if err == nil && current.Status == models.StatusPending {
			if _, err := o.executeLocked(ctx, current); err == nil {
				resumed++
			}
		}
		lock.Unlock()
	}
	return resumed, nil
}

// StaleMonitoringSince reports whether the canary has been soaking at its
// current stage for at least the monitoring interval. The scheduler uses it
// to decide when to advance.
func (o *Orchestrator) StaleMonitoringSince(w models.Workflow, now time.Time) bool {
	if w.Canary == nil || w.Status != models.StatusCanaryMonitoring {
		return false
	}
	last := w.Canary.StartedAt
	if w.Canary.LastStageAt != nil {
		last = *w.Canary.LastStageAt
	}
	return now.Sub(last) >= o.cfg.MonitorInterval
}
