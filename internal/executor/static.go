package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// StaticExecutor records calls and succeeds without touching AWS. Used in
// dev mode and tests. Set ExecuteErr or RollbackErr to script a failure.
type StaticExecutor struct {
	mu          sync.Mutex
	ExecuteErr  error
	RollbackErr error
	executions  []ExecuteRequest
	rollbacks   []RollbackRequest
}

func NewStaticExecutor() *StaticExecutor {
	return &StaticExecutor{}
}

func (s *StaticExecutor) Execute(ctx context.Context, req ExecuteRequest) (models.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExecuteErr != nil {
		return models.ExecutionResult{}, s.ExecuteErr
	}
	s.executions = append(s.executions, req)
	return models.ExecutionResult{
		RemediationID:    newExecutionID(),
		Status:           "REMEDIATED",
		SnapshotID:       newSnapshotID(),
		CanaryPercentage: req.CanaryPercentage,
		Changes: []models.ChangeDetail{{
			Kind:   "detach_policy",
			Target: req.ResourceID,
		}},
		AppliedAt: time.Now().UTC(),
	}, nil
}

func (s *StaticExecutor) Rollback(ctx context.Context, req RollbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RollbackErr != nil {
		return s.RollbackErr
	}
	s.rollbacks = append(s.rollbacks, req)
	return nil
}

// Executions returns a copy of the recorded execute calls.
func (s *StaticExecutor) Executions() []ExecuteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecuteRequest(nil), s.executions...)
}

// Rollbacks returns a copy of the recorded rollback calls.
func (s *StaticExecutor) Rollbacks() []RollbackRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RollbackRequest(nil), s.rollbacks...)
}
