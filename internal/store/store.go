// Package store persists remediation workflows. MemoryStore is the default
// backend; PGStore provides the same contract on Postgres so a durable
// backend can be swapped in without touching the state machine.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// ErrNotFound is returned when a workflow id is unknown.
var ErrNotFound = errors.New("not found")

// Store is the workflow registry contract used by the orchestrator.
type Store interface {
	Create(ctx context.Context, w models.Workflow) (models.Workflow, error)
	Update(ctx context.Context, w models.Workflow) (models.Workflow, error)
	Get(ctx context.Context, id uuid.UUID) (models.Workflow, error)
	ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]models.Workflow, error)
	ListActive(ctx context.Context) ([]models.Workflow, error)
	ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error)
	Ping(ctx context.Context) error
}
