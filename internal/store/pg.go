package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// PGStore persists workflows in Postgres. Sub-entities (decision, approval,
// canary, health report, execution result) are stored as JSONB documents:
// the state machine treats them as opaque payloads and never queries inside
// them except for the pending-approval listing.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Schema is the reference DDL for the workflows table. Migrations are owned
// by deployment tooling; this is kept here so tests and local setups agree
// on column order.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id               UUID PRIMARY KEY,
    finding_id       TEXT NOT NULL,
    resource_type    TEXT NOT NULL,
    resource_id      TEXT NOT NULL,
    workflow_type    TEXT NOT NULL,
    status           TEXT NOT NULL,
    decision         JSONB NOT NULL,
    scheduled_for    TIMESTAMPTZ,
    approval         JSONB,
    canary           JSONB,
    health_report    JSONB,
    execution_result JSONB,
    error            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflows_status_idx ON workflows (status);
`

const workflowColumns = `id, finding_id, resource_type, resource_id, workflow_type, status,
decision, scheduled_for, approval, canary, health_report, execution_result, error, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}

	cols, err := encodeWorkflow(w)
	if err != nil {
		return models.Workflow{}, err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflows (`+workflowColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		w.ID, w.FindingID, w.ResourceType, w.ResourceID, w.WorkflowType, w.Status,
		cols.decision, cols.scheduledFor, cols.approval, cols.canary,
		cols.healthReport, cols.executionResult, w.Error, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return w, nil
}

func (s *PGStore) Update(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	w.UpdatedAt = time.Now().UTC()

	cols, err := encodeWorkflow(w)
	if err != nil {
		return models.Workflow{}, err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE workflows SET
    status = $2, decision = $3, scheduled_for = $4, approval = $5, canary = $6,
    health_report = $7, execution_result = $8, error = $9, updated_at = $10
WHERE id = $1`,
		w.ID, w.Status, cols.decision, cols.scheduledFor, cols.approval, cols.canary,
		cols.healthReport, cols.executionResult, w.Error, w.UpdatedAt)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("update workflow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Workflow{}, ErrNotFound
	}
	return w, nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return models.Workflow{}, ErrNotFound
	}
	return w, err
}

func (s *PGStore) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list workflows by status: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (s *PGStore) ListActive(ctx context.Context) ([]models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+workflowColumns+` FROM workflows
WHERE status NOT IN ('COMPLETED', 'FAILED', 'ROLLED_BACK', 'REJECTED', 'EXPIRED')
ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (s *PGStore) ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT approval FROM workflows
WHERE approval IS NOT NULL AND approval->>'status' = 'PENDING'
ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	out := make([]models.ApprovalRequest, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.ApprovalRequest
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type encodedWorkflow struct {
	decision        []byte
	scheduledFor    sql.NullTime
	approval        []byte
	canary          []byte
	healthReport    []byte
	executionResult []byte
}

func encodeWorkflow(w models.Workflow) (encodedWorkflow, error) {
	var out encodedWorkflow
	var err error

	if out.decision, err = json.Marshal(w.Decision); err != nil {
		return out, fmt.Errorf("encode decision: %w", err)
	}
	if w.ScheduledFor != nil {
		out.scheduledFor = sql.NullTime{Time: *w.ScheduledFor, Valid: true}
	}
	if w.Approval != nil {
		if out.approval, err = json.Marshal(w.Approval); err != nil {
			return out, fmt.Errorf("encode approval: %w", err)
		}
	}
	if w.Canary != nil {
		if out.canary, err = json.Marshal(w.Canary); err != nil {
			return out, fmt.Errorf("encode canary: %w", err)
		}
	}
	if w.HealthReport != nil {
		if out.healthReport, err = json.Marshal(w.HealthReport); err != nil {
			return out, fmt.Errorf("encode health report: %w", err)
		}
	}
	if w.ExecutionResult != nil {
		if out.executionResult, err = json.Marshal(w.ExecutionResult); err != nil {
			return out, fmt.Errorf("encode execution result: %w", err)
		}
	}
	return out, nil
}

func scanWorkflow(row rowScanner) (models.Workflow, error) {
	var (
		w            models.Workflow
		decision     []byte
		scheduledFor sql.NullTime
		approval     []byte
		canary       []byte
		health       []byte
		execution    []byte
	)
	if err := row.Scan(
		&w.ID,
		&w.FindingID,
		&w.ResourceType,
		&w.ResourceID,
		&w.WorkflowType,
		&w.Status,
		&decision,
		&scheduledFor,
		&approval,
		&canary,
		&health,
		&execution,
		&w.Error,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return models.Workflow{}, err
	}

	if err := json.Unmarshal(decision, &w.Decision); err != nil {
		return models.Workflow{}, fmt.Errorf("decode decision: %w", err)
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		w.ScheduledFor = &t
	}
	if len(approval) > 0 {
		w.Approval = &models.ApprovalRequest{}
		if err := json.Unmarshal(approval, w.Approval); err != nil {
			return models.Workflow{}, fmt.Errorf("decode approval: %w", err)
		}
	}
	if len(canary) > 0 {
		w.Canary = &models.CanaryDeployment{}
		if err := json.Unmarshal(canary, w.Canary); err != nil {
			return models.Workflow{}, fmt.Errorf("decode canary: %w", err)
		}
	}
	if len(health) > 0 {
		w.HealthReport = &models.HealthReport{}
		if err := json.Unmarshal(health, w.HealthReport); err != nil {
			return models.Workflow{}, fmt.Errorf("decode health report: %w", err)
		}
	}
	if len(execution) > 0 {
		w.ExecutionResult = &models.ExecutionResult{}
		if err := json.Unmarshal(execution, w.ExecutionResult); err != nil {
			return models.Workflow{}, fmt.Errorf("decode execution result: %w", err)
		}
	}
	return w, nil
}

func collectWorkflows(rows *sql.Rows) ([]models.Workflow, error) {
	out := make([]models.Workflow, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
