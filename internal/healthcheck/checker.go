// Package healthcheck validates resources after a remediation has been
// applied and decides whether the change should be rolled back.
package healthcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// Request identifies the resource to validate and the expected post-change
// state supplied by the executor.
type Request struct {
	ResourceType    string
	ResourceID      string
	RemediationType string
	// Policies the remediation claims to have removed; their continued
	// presence fails the policy-validation check.
	RemovedPolicies []string
	// Actions the workload still needs after the change.
	RequiredActions []string
}

// Checker runs post-remediation health checks. Implementations never return
// an error for an unhealthy resource; the verdict lives in the report. A
// check that cannot complete yields an UNKNOWN result, not a failure.
type Checker interface {
	Check(ctx context.Context, req Request) (models.HealthReport, error)
}

// buildReport aggregates individual check results. failureThreshold is the
// number of UNHEALTHY checks that triggers a rollback recommendation.
func buildReport(checks []models.HealthCheckResult, failureThreshold int) models.HealthReport {
	var passed, failed, degraded, unknown int
	for _, c := range checks {
		switch c.Status {
		case models.HealthHealthy:
			passed++
		case models.HealthUnhealthy:
			failed++
		case models.HealthDegraded:
			degraded++
		case models.HealthUnknown:
			unknown++
		}
	}

	overall := models.HealthHealthy
	switch {
	case failed > 0:
		overall = models.HealthUnhealthy
	case degraded > 0:
		overall = models.HealthDegraded
	case len(checks) == 0 || unknown == len(checks):
		overall = models.HealthUnknown
	}

	report := models.HealthReport{
		OverallStatus: overall,
		Checks:        checks,
		Passed:        passed,
		Failed:        failed,
		Degraded:      degraded,
		CheckedAt:     time.Now().UTC(),
	}
	if failureThreshold > 0 && failed >= failureThreshold {
		var names []string
		for _, c := range checks {
			if c.Status == models.HealthUnhealthy {
				names = append(names, c.CheckName)
			}
		}
		report.ShouldRollback = true
		report.RollbackReason = fmt.Sprintf("health checks failed: %s", strings.Join(names, ", "))
	}
	return report
}
