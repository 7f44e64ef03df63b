package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// MemoryTracker keeps outcome records in process memory.
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: map[uuid.UUID]Record{}}
}

func (m *MemoryTracker) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CompletedAt
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *MemoryTracker) Metrics(ctx context.Context, resourceType string, lookbackDays int) (models.HistoricalContext, error) {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var total, successes, failures, rollbacks int
	var lastFailure time.Time
	for _, rec := range m.records {
		if rec.Outcome == OutcomeFailure && rec.StartedAt.After(lastFailure) {
			lastFailure = rec.StartedAt
		}
		if resourceType != "" && rec.ResourceType != resourceType {
			continue
		}
		if !rec.StartedAt.After(cutoff) {
			continue
		}
		total++
		switch rec.Outcome {
		case OutcomeSuccess:
			successes++
		case OutcomeFailure:
			failures++
		case OutcomeRolledBack:
			rollbacks++
		}
	}

	out := models.HistoricalContext{
		Total:     total,
		Successes: successes,
		Rollbacks: rollbacks,
	}
	if total > 0 {
		out.SimilarResourceTypeSuccessRate = float64(successes) / float64(total)
	}
	if failures > 0 && !lastFailure.IsZero() {
		days := int(time.Now().UTC().Sub(lastFailure).Hours() / 24)
		out.LastFailureDaysAgo = &days
	}
	return out, nil
}
