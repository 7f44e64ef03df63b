package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// StaticChecker returns scripted reports in order, then falls back to a
// healthy default. Used in dev mode and tests, where there is no AWS
// control plane to ask.
type StaticChecker struct {
	mu    sync.Mutex
	queue []models.HealthReport
}

func NewStaticChecker() *StaticChecker {
	return &StaticChecker{}
}

// Push enqueues the next report to return.
func (s *StaticChecker) Push(report models.HealthReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, report)
}

func (s *StaticChecker) Check(ctx context.Context, req Request) (models.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		report := s.queue[0]
		s.queue = s.queue[1:]
		if report.CheckedAt.IsZero() {
			report.CheckedAt = time.Now().UTC()
		}
		return report, nil
	}
	return HealthyReport(), nil
}

// HealthyReport is a passing single-check report, convenient for tests and
// the dev-mode checker.
func HealthyReport() models.HealthReport {
	return buildReport([]models.HealthCheckResult{{
		CheckName: "static",
		Status:    models.HealthHealthy,
		Message:   "static checker default",
		Timestamp: time.Now().UTC(),
	}}, defaultFailureThreshold)
}

// FailingReport is a report with enough failed checks to recommend rollback.
func FailingReport(reason string) models.HealthReport {
	report := buildReport([]models.HealthCheckResult{
		{CheckName: "iam_policy_validation", Status: models.HealthUnhealthy, Message: reason, Timestamp: time.Now().UTC()},
		{CheckName: "cloudwatch_errors", Status: models.HealthUnhealthy, Message: reason, Timestamp: time.Now().UTC()},
	}, defaultFailureThreshold)
	return report
}

// UnknownReport models a collaborator that could not answer in time.
func UnknownReport() models.HealthReport {
	return buildReport([]models.HealthCheckResult{{
		CheckName: "static",
		Status:    models.HealthUnknown,
		Message:   "check timed out",
		Timestamp: time.Now().UTC(),
	}}, defaultFailureThreshold)
}
