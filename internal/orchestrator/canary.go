package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
)

func (o *Orchestrator) newCanary(w *models.Workflow) *models.CanaryDeployment {
	stages := make([]models.CanaryStage, 0, len(o.cfg.CanaryStages))
	for _, p := range o.cfg.CanaryStages {
		stages = append(stages, models.CanaryStage{Percentage: p, Status: models.StagePending})
	}
	return &models.CanaryDeployment{
		ID:               models.NewUUID(),
		WorkflowID:       w.ID,
		TotalInstances:   1,
		CanaryPercentage: o.cfg.CanaryStages[0],
		Stages:           stages,
		StartedAt:        o.now(),
		Status:           models.CanaryDeploying,
	}
}

// StartCanary applies the remediation at the first stage percentage and
// begins monitoring.
func (o *Orchestrator) StartCanary(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	if w.Canary == nil {
		return models.Workflow{}, fmt.Errorf("%w: workflow %s has no canary deployment", ErrConflict, id)
	}
	if w.Status != models.StatusCanaryDeploying {
		return models.Workflow{}, fmt.Errorf("%w: cannot start canary in state %s", ErrConflict, w.Status)
	}

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
	result, err := o.exec.Execute(execCtx, executor.ExecuteRequest{
		FindingID:        w.FindingID,
		ResourceType:     w.ResourceType,
		ResourceID:       w.ResourceID,
		CanaryPercentage: w.Canary.CanaryPercentage,
	})
	cancel()
	if err != nil {
		return o.failLocked(ctx, w, fmt.Sprintf("canary execute failed: %v", err))
	}

	w.ExecutionResult = &result
	w.Canary.Stages[0].Status = models.StageInProgress
	w.Status = models.StatusCanaryMonitoring

	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "canary.started", &w)
	log.Printf("[orchestrator] canary started id=%s at=%d%%", w.ID, w.Canary.CanaryPercentage)
	return w, nil
}

// AdvanceCanary runs a health check and, if it passes, completes the current
// stage and arms the next one. It never blocks waiting for a monitoring
// interval; the scheduler calls it again later. Two failed health checks
// (by default) roll the workflow back. Called on a COMPLETED workflow it is
// a no-op.
func (o *Orchestrator) AdvanceCanary(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	if w.Canary == nil {
		return models.Workflow{}, fmt.Errorf("%w: workflow %s has no canary deployment", ErrConflict, id)
	}
	if w.Status == models.StatusCompleted {
		return w, nil
	}
	if w.Status.Terminal() {
		return models.Workflow{}, fmt.Errorf("%w: cannot advance canary in state %s", ErrConflict, w.Status)
	}

	canary := w.Canary
	currentIdx := -1
	for i, stage := range canary.Stages {
		if stage.Status != models.StageCompleted {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		// Every stage already completed; close the books.
		return o.completeCanaryLocked(ctx, w)
	}

	report, err := o.runHealthCheck(ctx, &w)
	if err != nil {
		return o.failLocked(ctx, w, fmt.Sprintf("canary health check failed: %v", err))
	}
	w.HealthReport = &report

	if report.OverallStatus == models.HealthUnknown {
		// Inconclusive: neither pass nor failure. The stage soaks until the
		// next scheduler tick.
		return o.save(ctx, w)
	}
	if report.ShouldRollback {
		canary.HealthChecksFailed++
		if canary.HealthChecksFailed >= o.cfg.CanaryFailureThreshold {
			return o.rollbackLocked(ctx, w, "canary health check failed")
		}
		log.Printf("[orchestrator] canary health check failed id=%s failures=%d", w.ID, canary.HealthChecksFailed)
		return o.save(ctx, w)
	}
	canary.HealthChecksPassed++

	now := o.now()
	canary.Stages[currentIdx].Status = models.StageCompleted
	canary.CurrentPercentage = canary.Stages[currentIdx].Percentage
	canary.LastStageAt = &now

	if canary.CurrentPercentage >= 100 {
		return o.completeCanaryLocked(ctx, w)
	}

	next := currentIdx + 1
	if canary.Stages[next].Percentage >= 100 {
		// The final stage is full promotion; once the last partial stage is
		// healthy there is nothing left to monitor as a canary.
		canary.Stages[next].Status = models.StageCompleted
		canary.CurrentPercentage = 100
		canary.CanaryPercentage = 100
		return o.completeCanaryLocked(ctx, w)
	}
	canary.Stages[next].Status = models.StageInProgress
	canary.CanaryPercentage = canary.Stages[next].Percentage
	w.Status = models.StatusCanaryMonitoring

	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "canary.advanced", &w)
	log.Printf("[orchestrator] canary advanced id=%s to=%d%%", w.ID, canary.CanaryPercentage)
	return w, nil
}

func (o *Orchestrator) completeCanaryLocked(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	now := o.now()
	w.Canary.Status = models.CanaryCompleted
	w.Canary.PromotedAt = &now
	w.Status = models.StatusCompleted

	w, err := o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.completed", &w)
	o.recordOutcome(ctx, &w, history.OutcomeSuccess)
	log.Printf("[orchestrator] canary promoted to 100%% id=%s", w.ID)
	return w, nil
}
