// Package models contains the canonical entities shared by the decision
// engine, the workflow orchestrator, and the API surface.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Action is the remediation action recommended by the decision engine.
type Action string

const (
	ActionAutoRemediate   Action = "AUTO_REMEDIATE"
	ActionCanary          Action = "CANARY"
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
	ActionBlock           Action = "BLOCK"
)

// SimulationStatus is the verdict of the pre-flight simulation collaborator.
type SimulationStatus string

const (
	SimulationSafe    SimulationStatus = "SAFE"
	SimulationCaution SimulationStatus = "CAUTION"
	SimulationRisky   SimulationStatus = "RISKY"
)

// UsagePattern buckets observed usage of the permission under review.
type UsagePattern string

const (
	UsageNone   UsagePattern = "NONE"
	UsageLow    UsagePattern = "LOW"
	UsageMedium UsagePattern = "MEDIUM"
	UsageHigh   UsagePattern = "HIGH"
)

// Environment tiers, ordered by criticality. Production is tier 0.
const (
	TierProduction  = 0
	TierStaging     = 1
	TierDevelopment = 2
	TierSandbox     = 3
)

// SimulationContext is produced by the simulation collaborator.
type SimulationContext struct {
	Status                SimulationStatus `json:"status"`
	ReachabilityPreserved float64          `json:"reachabilityPreserved"`
	CriticalPathAffected  bool             `json:"criticalPathAffected"`
	WorstPathSeverity     float64          `json:"worstPathSeverity"`
	PermissionsTested     int              `json:"permissionsTested"`
	PermissionsSafe       int              `json:"permissionsSafe"`
	Warnings              []string         `json:"warnings,omitempty"`
}

// UsageContext is produced by the telemetry collaborator.
type UsageContext struct {
	DaysSinceLastUse int          `json:"daysSinceLastUse"`
	UsageCount90d    int          `json:"usageCount90d"`
	ObservationDays  int          `json:"observationDays"`
	SourcesAvailable int          `json:"sourcesAvailable"`
	UsagePattern     UsagePattern `json:"usagePattern"`
}

// ImpactedService is a downstream service that may be affected by a change.
type ImpactedService struct {
	Name        string  `json:"name"`
	Criticality float64 `json:"criticality"` // 0..10
}

// DependencyContext is produced by the resource-graph collaborator.
type DependencyContext struct {
	TotalResources          int               `json:"totalResources"`
	ResourcesWithTelemetry  int               `json:"resourcesWithTelemetry"`
	EdgesObserved           int               `json:"edgesObserved"`
	EdgesEstimated          int               `json:"edgesEstimated"`
	ImpactedServices        []ImpactedService `json:"impactedServices,omitempty"`
	CrossAccountDependencies int              `json:"crossAccountDependencies"`
	CircularDependencies    bool              `json:"circularDependencies"`
}

// HistoricalContext summarizes prior remediation outcomes for similar resources.
type HistoricalContext struct {
	Total                          int     `json:"total"`
	Successes                      int     `json:"successes"`
	Rollbacks                      int     `json:"rollbacks"`
	SimilarResourceTypeSuccessRate float64 `json:"similarResourceTypeSuccessRate"`
	LastFailureDaysAgo             *int    `json:"lastFailureDaysAgo,omitempty"`
}

// EnvironmentContext describes where the target resource lives.
type EnvironmentContext struct {
	Tier                 int      `json:"tier"`
	Region               string   `json:"region"`
	AccountID            string   `json:"accountId"`
	IsMultiRegion        bool     `json:"isMultiRegion"`
	ComplianceFrameworks []string `json:"complianceFrameworks,omitempty"`
}

// PolicyContext carries the organizational policy knobs that gate automation.
type PolicyContext struct {
	SharedResource   bool `json:"sharedResource"`
	RevenueGenerating bool `json:"revenueGenerating"`
	HasRollback      bool `json:"hasRollback"`
	ChangeWindowOpen bool `json:"changeWindowOpen"`
	Tier             int  `json:"tier"`
}

// Decision is the immutable output of the decision engine.
type Decision struct {
	Confidence  float64            `json:"confidence"`
	Safety      float64            `json:"safety"`
	Action      Action             `json:"action"`
	AutoAllowed bool               `json:"autoAllowed"`
	Breakdown   map[string]float64 `json:"breakdown"`
	Reasons     []string           `json:"reasons"`
	Warnings    []string           `json:"warnings"`
}

// WorkflowStatus is the state of a remediation workflow.
type WorkflowStatus string

const (
	StatusPending          WorkflowStatus = "PENDING"
	StatusAwaitingApproval WorkflowStatus = "AWAITING_APPROVAL"
	StatusApproved         WorkflowStatus = "APPROVED"
	StatusRejected         WorkflowStatus = "REJECTED"
	StatusCanaryDeploying  WorkflowStatus = "CANARY_DEPLOYING"
	StatusCanaryMonitoring WorkflowStatus = "CANARY_MONITORING"
	StatusExecuting        WorkflowStatus = "EXECUTING"
	StatusHealthCheck      WorkflowStatus = "HEALTH_CHECK"
	StatusCompleted        WorkflowStatus = "COMPLETED"
	StatusFailed           WorkflowStatus = "FAILED"
	StatusRolledBack       WorkflowStatus = "ROLLED_BACK"
	StatusExpired          WorkflowStatus = "EXPIRED"
)

// Terminal reports whether no further transition is permitted from s.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// WorkflowType selects the execution path for a workflow.
type WorkflowType string

const (
	WorkflowAutoRemediate   WorkflowType = "AUTO_REMEDIATE"
	WorkflowCanary          WorkflowType = "CANARY"
	WorkflowRequireApproval WorkflowType = "REQUIRE_APPROVAL"
)

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// ApprovalRequest is a human review gate owned by exactly one workflow.
type ApprovalRequest struct {
	ID              uuid.UUID      `json:"id"`
	WorkflowID      uuid.UUID      `json:"workflowId"`
	RequestedAction Action         `json:"requestedAction"`
	Confidence      float64        `json:"confidence"`
	Safety          float64        `json:"safety"`
	Reasons         []string       `json:"reasons,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	RequestedBy     string         `json:"requestedBy"`
	RequestedAt     time.Time      `json:"requestedAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	Status          ApprovalStatus `json:"status"`
	ReviewedBy      string         `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewedAt,omitempty"`
	ReviewComment   string         `json:"reviewComment,omitempty"`
}

// CanaryStageStatus is the state of one rollout stage.
type CanaryStageStatus string

const (
	StagePending    CanaryStageStatus = "PENDING"
	StageInProgress CanaryStageStatus = "IN_PROGRESS"
	StageCompleted  CanaryStageStatus = "COMPLETED"
)

// CanaryStage is one step of a staged rollout.
type CanaryStage struct {
	Percentage int               `json:"percentage"`
	Status     CanaryStageStatus `json:"status"`
}

// CanaryStatus is the overall state of a canary deployment.
type CanaryStatus string

const (
	CanaryDeploying  CanaryStatus = "DEPLOYING"
	CanaryCompleted  CanaryStatus = "COMPLETED"
	CanaryRolledBack CanaryStatus = "ROLLED_BACK"
)

// CanaryDeployment is a staged rollout owned by exactly one workflow.
// Stage percentages are strictly increasing and the final stage is 100.
type CanaryDeployment struct {
	ID                 uuid.UUID     `json:"id"`
	WorkflowID         uuid.UUID     `json:"workflowId"`
	TotalInstances     int           `json:"totalInstances"`
	CanaryPercentage   int           `json:"canaryPercentage"`  // target of the current/next stage
	CurrentPercentage  int           `json:"currentPercentage"` // last completed stage
	Stages             []CanaryStage `json:"stages"`
	HealthChecksPassed int           `json:"healthChecksPassed"`
	HealthChecksFailed int           `json:"healthChecksFailed"`
	StartedAt          time.Time     `json:"startedAt"`
	LastStageAt        *time.Time    `json:"lastStageAt,omitempty"`
	PromotedAt         *time.Time    `json:"promotedAt,omitempty"`
	Status             CanaryStatus  `json:"status"`
}

// HealthStatus classifies a health signal. A collaborator timeout yields
// HealthUnknown, which is distinct from an explicit rollback request.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// HealthCheckResult is the outcome of a single post-remediation check.
type HealthCheckResult struct {
	CheckName  string       `json:"checkName"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	DurationMS int64        `json:"durationMs"`
	Timestamp  time.Time    `json:"timestamp"`
}

// HealthReport aggregates post-remediation health checks.
type HealthReport struct {
	OverallStatus  HealthStatus        `json:"overallStatus"`
	Checks         []HealthCheckResult `json:"checks,omitempty"`
	Passed         int                 `json:"passed"`
	Failed         int                 `json:"failed"`
	Degraded       int                 `json:"degraded"`
	ShouldRollback bool                `json:"shouldRollback"`
	RollbackReason string              `json:"rollbackReason,omitempty"`
	CheckedAt      time.Time           `json:"checkedAt"`
}

// ChangeDetail describes one concrete modification applied by the executor.
type ChangeDetail struct {
	Kind     string `json:"kind"` // e.g. "detach_policy", "trim_statement"
	Target   string `json:"target"`
	Detail   string `json:"detail,omitempty"`
	Reverted bool   `json:"reverted,omitempty"`
}

// ExecutionResult is returned by the execution collaborator.
type ExecutionResult struct {
	RemediationID    string         `json:"remediationId"`
	Status           string         `json:"status"`
	SnapshotID       string         `json:"snapshotId,omitempty"`
	CanaryPercentage int            `json:"canaryPercentage,omitempty"`
	Changes          []ChangeDetail `json:"changes,omitempty"`
	AppliedAt        time.Time      `json:"appliedAt"`
}

// Workflow is a remediation attempt driven by the orchestrator. It owns at
// most one of Approval or Canary, never both; NewWorkflow enforces this.
type Workflow struct {
	ID              uuid.UUID         `json:"id"`
	FindingID       string            `json:"findingId"`
	ResourceType    string            `json:"resourceType"`
	ResourceID      string            `json:"resourceId"`
	WorkflowType    WorkflowType      `json:"workflowType"`
	Status          WorkflowStatus    `json:"status"`
	Decision        Decision          `json:"decision"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	ScheduledFor    *time.Time        `json:"scheduledFor,omitempty"`
	Approval        *ApprovalRequest  `json:"approval,omitempty"`
	Canary          *CanaryDeployment `json:"canary,omitempty"`
	HealthReport    *HealthReport     `json:"healthReport,omitempty"`
	ExecutionResult *ExecutionResult  `json:"executionResult,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Clone returns a deep copy so callers can hand workflows across goroutines
// without sharing mutable payloads.
func (w Workflow) Clone() Workflow {
	out := w
	if w.ScheduledFor != nil {
		t := *w.ScheduledFor
		out.ScheduledFor = &t
	}
	if w.Approval != nil {
		a := *w.Approval
		a.Reasons = append([]string(nil), w.Approval.Reasons...)
		a.Warnings = append([]string(nil), w.Approval.Warnings...)
		if w.Approval.ReviewedAt != nil {
			rt := *w.Approval.ReviewedAt
			a.ReviewedAt = &rt
		}
		out.Approval = &a
	}
	if w.Canary != nil {
		c := *w.Canary
		c.Stages = append([]CanaryStage(nil), w.Canary.Stages...)
		if w.Canary.LastStageAt != nil {
			t := *w.Canary.LastStageAt
			c.LastStageAt = &t
		}
		if w.Canary.PromotedAt != nil {
			t := *w.Canary.PromotedAt
			c.PromotedAt = &t
		}
		out.Canary = &c
	}
	if w.HealthReport != nil {
		h := *w.HealthReport
		h.Checks = append([]HealthCheckResult(nil), w.HealthReport.Checks...)
		out.HealthReport = &h
	}
	if w.ExecutionResult != nil {
		e := *w.ExecutionResult
		e.Changes = append([]ChangeDetail(nil), w.ExecutionResult.Changes...)
		out.ExecutionResult = &e
	}
	out.Decision.Breakdown = copyScores(w.Decision.Breakdown)
	out.Decision.Reasons = append([]string(nil), w.Decision.Reasons...)
	out.Decision.Warnings = append([]string(nil), w.Decision.Warnings...)
	return out
}

func copyScores(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NewUUID returns a freshly-generated UUID.
func NewUUID() uuid.UUID {
	return uuid.New()
}
