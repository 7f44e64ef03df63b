package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

func (o *Orchestrator) newApproval(w *models.Workflow, requestedBy string) *models.ApprovalRequest {
	now := o.now()
	return &models.ApprovalRequest{
		ID:              models.NewUUID(),
		WorkflowID:      w.ID,
		RequestedAction: w.Decision.Action,
		Confidence:      w.Decision.Confidence,
		Safety:          w.Decision.Safety,
		Reasons:         w.Decision.Reasons,
		Warnings:        w.Decision.Warnings,
		RequestedBy:     requestedBy,
		RequestedAt:     now,
		ExpiresAt:       now.Add(o.cfg.ApprovalTimeout),
		Status:          models.ApprovalPending,
	}
}

// Approve marks the approval reviewed and synchronously runs the execution
// sub-flow. Fails with ErrConflict unless the workflow is awaiting approval.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID, approvedBy, comment string) (models.Workflow, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	if w.Status != models.StatusAwaitingApproval {
		return models.Workflow{}, fmt.Errorf("%w: cannot approve workflow in state %s", ErrConflict, w.Status)
	}

	now := o.now()
	w.Approval.Status = models.ApprovalApproved
	w.Approval.ReviewedBy = approvedBy
	w.Approval.ReviewedAt = &now
	w.Approval.ReviewComment = comment
	w.Status = models.StatusApproved

	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.approved", &w)
	log.Printf("[orchestrator] workflow approved id=%s by=%s", w.ID, approvedBy)

	return o.executeLocked(ctx, w)
}

// Reject closes the workflow without execution side effects.
func (o *Orchestrator) Reject(ctx context.Context, id uuid.UUID, rejectedBy, reason string) (models.Workflow, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Workflow{}, err
	}
	if w.Status != models.StatusAwaitingApproval {
		return models.Workflow{}, fmt.Errorf("%w: cannot reject workflow in state %s", ErrConflict, w.Status)
	}

	now := o.now()
	w.Approval.Status = models.ApprovalRejected
	w.Approval.ReviewedBy = rejectedBy
	w.Approval.ReviewedAt = &now
	w.Approval.ReviewComment = reason
	w.Status = models.StatusRejected

	w, err = o.save(ctx, w)
	if err != nil {
		return models.Workflow{}, err
	}
	o.recordEvent(ctx, "workflow.rejected", &w)
	log.Printf("[orchestrator] workflow rejected id=%s by=%s", w.ID, rejectedBy)
	return w, nil
}

// ExpireApprovals transitions approvals past their deadline to EXPIRED and
// terminates their workflows. Returns how many were expired. Driven by the
// scheduler; there is no internal timer.
func (o *Orchestrator) ExpireApprovals(ctx context.Context) (int, error) {
	waiting, err := o.store.ListByStatus(ctx, models.StatusAwaitingApproval)
	if err != nil {
		return 0, err
	}

	now := o.now()
	expired := 0
	for _, w := range waiting {
		if w.Approval == nil || !now.After(w.Approval.ExpiresAt) {
			continue
		}
		lock := o.lockFor(w.ID)
		lock.Lock()
		current, err := o.store.Get(ctx, w.ID)
		if err != nil {
			lock.Unlock()
			continue
		}
		// Re-check under the lock; an approve/reject may have won the race.
		if current.Status != models.StatusAwaitingApproval || current.Approval == nil || !now.After(current.Approval.ExpiresAt) {
			lock.Unlock()
			continue
		}
		current.Approval.Status = models.ApprovalExpired
		current.Status = models.StatusExpired
		if current, err = o.save(ctx, current); err == nil {
			o.recordEvent(ctx, "workflow.expired", &current)
			expired++
		}
		lock.Unlock()
	}
	if expired > 0 {
		log.Printf("[orchestrator] expired %d approval(s)", expired)
	}
	return expired, nil
}
