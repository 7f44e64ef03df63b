// Package executor applies least-privilege remediations to AWS resources and
// restores them from pre-change snapshots on rollback.
package executor

import (
	"context"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// ExecuteRequest describes one remediation to apply. CanaryPercentage is the
// share of the fleet the change targets; 100 means the full rollout.
type ExecuteRequest struct {
	FindingID           string
	ResourceType        string
	ResourceID          string
	CanaryPercentage    int
	PermissionsToRemove []string
}

// RollbackRequest reverses a previously applied remediation.
type RollbackRequest struct {
	FindingID  string
	ResourceID string
	SnapshotID string
}

// Executor is the execution collaborator of the workflow orchestrator.
// Execute snapshots the resource before changing it; the returned result
// carries the snapshot id needed for Rollback.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (models.ExecutionResult, error)
	Rollback(ctx context.Context, req RollbackRequest) error
}
