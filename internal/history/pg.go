package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// PGTracker persists remediation outcomes in Postgres.
type PGTracker struct {
	db *sql.DB
}

func NewPGTracker(db *sql.DB) *PGTracker {
	return &PGTracker{db: db}
}

// Schema is the reference DDL for the outcome table.
const Schema = `
CREATE TABLE IF NOT EXISTS remediation_history (
    id            UUID PRIMARY KEY,
    finding_id    TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id   TEXT NOT NULL,
    action        TEXT NOT NULL,
    outcome       TEXT NOT NULL,
    confidence    DOUBLE PRECISION NOT NULL,
    safety        DOUBLE PRECISION NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ NOT NULL,
    error         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS remediation_history_type_idx ON remediation_history (resource_type, started_at);
`

func (t *PGTracker) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CompletedAt
	}

	_, err := t.db.ExecContext(ctx, `
INSERT INTO remediation_history
    (id, finding_id, resource_type, resource_id, action, outcome, confidence, safety, started_at, completed_at, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.FindingID, rec.ResourceType, rec.ResourceID, rec.Action,
		rec.Outcome, rec.Confidence, rec.Safety, rec.StartedAt, rec.CompletedAt, rec.Error)
	if err != nil {
		return Record{}, fmt.Errorf("insert history record: %w", err)
	}
	return rec, nil
}

func (t *PGTracker) Metrics(ctx context.Context, resourceType string, lookbackDays int) (models.HistoricalContext, error) {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	query := `SELECT outcome, COUNT(*) FROM remediation_history WHERE started_at > $1`
	args := []interface{}{cutoff}
	if resourceType != "" {
		query += ` AND resource_type = $2`
		args = append(args, resourceType)
	}
	query += ` GROUP BY outcome`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.HistoricalContext{}, fmt.Errorf("query history metrics: %w", err)
	}
	defer rows.Close()

	var total, successes, failures, rollbacks int
	for rows.Next() {
		var outcome Outcome
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return models.HistoricalContext{}, err
		}
		total += count
		switch outcome {
		case OutcomeSuccess:
			successes = count
		case OutcomeFailure:
			failures = count
		case OutcomeRolledBack:
			rollbacks = count
		}
	}
	if err := rows.Err(); err != nil {
		return models.HistoricalContext{}, err
	}

	out := models.HistoricalContext{
		Total:     total,
		Successes: successes,
		Rollbacks: rollbacks,
	}
	if total > 0 {
		out.SimilarResourceTypeSuccessRate = float64(successes) / float64(total)
	}

	if failures > 0 {
		var lastFailure time.Time
		err := t.db.QueryRowContext(ctx, `
SELECT started_at FROM remediation_history WHERE outcome = $1 ORDER BY started_at DESC LIMIT 1`,
			OutcomeFailure).Scan(&lastFailure)
		if err != nil && err != sql.ErrNoRows {
			return models.HistoricalContext{}, err
		}
		if err == nil {
			days := int(time.Now().UTC().Sub(lastFailure).Hours() / 24)
			out.LastFailureDaysAgo = &days
		}
	}
	return out, nil
}
