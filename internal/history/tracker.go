// Package history records remediation outcomes and aggregates them into the
// historical signal consumed by the decision engine.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// Outcome of a finished remediation attempt.
type Outcome string

const (
	OutcomeSuccess    Outcome = "SUCCESS"
	OutcomeFailure    Outcome = "FAILED"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
)

// Record is one finished remediation attempt.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	FindingID    string         `json:"findingId"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Action       models.Action  `json:"action"`
	Outcome      Outcome        `json:"outcome"`
	Confidence   float64        `json:"confidence"`
	Safety       float64        `json:"safety"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  time.Time      `json:"completedAt"`
	Error        string         `json:"error,omitempty"`
}

// Tracker stores outcomes and answers the historicalStats collaborator
// contract: Metrics feeds the engine's historical signal.
type Tracker interface {
	Record(ctx context.Context, rec Record) (Record, error)
	Metrics(ctx context.Context, resourceType string, lookbackDays int) (models.HistoricalContext, error)
}
