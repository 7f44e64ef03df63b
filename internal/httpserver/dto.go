package httpserver

import (
	"time"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// Request DTOs use pointer fields so that omitted values can fall back to
// the collaborator defaults instead of Go zero values. A caller who sends
// nothing at all still gets a sensible mid-risk evaluation.

type evaluateRequest struct {
	ResourceType string          `json:"resourceType"`
	Simulation   *simulationDTO  `json:"simulation"`
	Usage        *usageDTO       `json:"usage"`
	Dependencies *dependencyDTO  `json:"dependencies"`
	Historical   *historicalDTO  `json:"historical"`
	Environment  *environmentDTO `json:"environment"`
	Policy       *policyDTO      `json:"policy"`
}

type createWorkflowRequest struct {
	evaluateRequest

	FindingID    string           `json:"findingId"`
	ResourceID   string           `json:"resourceId"`
	RequestedBy  string           `json:"requestedBy"`
	ScheduledFor *time.Time       `json:"scheduledFor"`
	Decision     *models.Decision `json:"decision"`
}

type reviewRequest struct {
	ReviewedBy string `json:"reviewedBy"`
	Comment    string `json:"comment"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type simulationDTO struct {
	Status                *models.SimulationStatus `json:"status"`
	ReachabilityPreserved *float64                 `json:"reachabilityPreserved"`
	CriticalPathAffected  *bool                    `json:"criticalPathAffected"`
	WorstPathSeverity     *float64                 `json:"worstPathSeverity"`
	PermissionsTested     *int                     `json:"permissionsTested"`
	PermissionsSafe       *int                     `json:"permissionsSafe"`
	Warnings              []string                 `json:"warnings"`
}

func (d *simulationDTO) toModel() models.SimulationContext {
	out := models.SimulationContext{
		Status:                models.SimulationCaution,
		ReachabilityPreserved: 0.8,
	}
	if d == nil {
		return out
	}
	if d.Status != nil {
		out.Status = *d.Status
	}
	if d.ReachabilityPreserved != nil {
		out.ReachabilityPreserved = *d.ReachabilityPreserved
	}
	if d.CriticalPathAffected != nil {
		out.CriticalPathAffected = *d.CriticalPathAffected
	}
	if d.WorstPathSeverity != nil {
		out.WorstPathSeverity = *d.WorstPathSeverity
	}
	if d.PermissionsTested != nil {
		out.PermissionsTested = *d.PermissionsTested
	}
	if d.PermissionsSafe != nil {
		out.PermissionsSafe = *d.PermissionsSafe
	}
	out.Warnings = d.Warnings
	return out
}

type usageDTO struct {
	DaysSinceLastUse *int                 `json:"daysSinceLastUse"`
	UsageCount90d    *int                 `json:"usageCount90d"`
	ObservationDays  *int                 `json:"observationDays"`
	SourcesAvailable *int                 `json:"sourcesAvailable"`
	UsagePattern     *models.UsagePattern `json:"usagePattern"`
}

func (d *usageDTO) toModel() models.UsageContext {
	out := models.UsageContext{
		ObservationDays:  90,
		SourcesAvailable: 1,
		UsagePattern:     models.UsageMedium,
	}
	if d == nil {
		return out
	}
	if d.DaysSinceLastUse != nil {
		out.DaysSinceLastUse = *d.DaysSinceLastUse
	}
	if d.UsageCount90d != nil {
		out.UsageCount90d = *d.UsageCount90d
	}
	if d.ObservationDays != nil {
		out.ObservationDays = *d.ObservationDays
	}
	if d.SourcesAvailable != nil {
		out.SourcesAvailable = *d.SourcesAvailable
	}
	if d.UsagePattern != nil {
		out.UsagePattern = *d.UsagePattern
	}
	return out
}

type dependencyDTO struct {
	TotalResources           *int                     `json:"totalResources"`
	ResourcesWithTelemetry   *int                     `json:"resourcesWithTelemetry"`
	EdgesObserved            *int                     `json:"edgesObserved"`
	EdgesEstimated           *int                     `json:"edgesEstimated"`
	ImpactedServices         []models.ImpactedService `json:"impactedServices"`
	CrossAccountDependencies *int                     `json:"crossAccountDependencies"`
	CircularDependencies     *bool                    `json:"circularDependencies"`
}

func (d *dependencyDTO) toModel() models.DependencyContext {
	out := models.DependencyContext{
		TotalResources:         1,
		ResourcesWithTelemetry: 1,
		EdgesEstimated:         1,
	}
	if d == nil {
		return out
	}
	if d.TotalResources != nil {
		out.TotalResources = *d.TotalResources
	}
	if d.ResourcesWithTelemetry != nil {
		out.ResourcesWithTelemetry = *d.ResourcesWithTelemetry
	}
	if d.EdgesObserved != nil {
		out.EdgesObserved = *d.EdgesObserved
	}
	if d.EdgesEstimated != nil {
		out.EdgesEstimated = *d.EdgesEstimated
	}
	out.ImpactedServices = d.ImpactedServices
	if d.CrossAccountDependencies != nil {
		out.CrossAccountDependencies = *d.CrossAccountDependencies
	}
	if d.CircularDependencies != nil {
		out.CircularDependencies = *d.CircularDependencies
	}
	return out
}

type historicalDTO struct {
	Total                          *int     `json:"total"`
	Successes                      *int     `json:"successes"`
	Rollbacks                      *int     `json:"rollbacks"`
	SimilarResourceTypeSuccessRate *float64 `json:"similarResourceTypeSuccessRate"`
	LastFailureDaysAgo             *int     `json:"lastFailureDaysAgo"`
}

func (d *historicalDTO) toModel() models.HistoricalContext {
	out := models.HistoricalContext{}
	if d == nil {
		return out
	}
	if d.Total != nil {
		out.Total = *d.Total
	}
	if d.Successes != nil {
		out.Successes = *d.Successes
	}
	if d.Rollbacks != nil {
		out.Rollbacks = *d.Rollbacks
	}
	if d.SimilarResourceTypeSuccessRate != nil {
		out.SimilarResourceTypeSuccessRate = *d.SimilarResourceTypeSuccessRate
	}
	out.LastFailureDaysAgo = d.LastFailureDaysAgo
	return out
}

type environmentDTO struct {
	Tier                 *int     `json:"tier"`
	Region               *string  `json:"region"`
	AccountID            *string  `json:"accountId"`
	IsMultiRegion        *bool    `json:"isMultiRegion"`
	ComplianceFrameworks []string `json:"complianceFrameworks"`
}

func (d *environmentDTO) toModel() models.EnvironmentContext {
	out := models.EnvironmentContext{
		Tier:   models.TierProduction,
		Region: "us-east-1",
	}
	if d == nil {
		return out
	}
	if d.Tier != nil {
		out.Tier = *d.Tier
	}
	if d.Region != nil {
		out.Region = *d.Region
	}
	if d.AccountID != nil {
		out.AccountID = *d.AccountID
	}
	if d.IsMultiRegion != nil {
		out.IsMultiRegion = *d.IsMultiRegion
	}
	out.ComplianceFrameworks = d.ComplianceFrameworks
	return out
}

type policyDTO struct {
	SharedResource    *bool `json:"sharedResource"`
	RevenueGenerating *bool `json:"revenueGenerating"`
	HasRollback       *bool `json:"hasRollback"`
	ChangeWindowOpen  *bool `json:"changeWindowOpen"`
	Tier              *int  `json:"tier"`
}

func (d *policyDTO) toModel() models.PolicyContext {
	out := models.PolicyContext{
		HasRollback:      true,
		ChangeWindowOpen: true,
		Tier:             models.TierDevelopment,
	}
	if d == nil {
		return out
	}
	if d.SharedResource != nil {
		out.SharedResource = *d.SharedResource
	}
	if d.RevenueGenerating != nil {
		out.RevenueGenerating = *d.RevenueGenerating
	}
	if d.HasRollback != nil {
		out.HasRollback = *d.HasRollback
	}
	if d.ChangeWindowOpen != nil {
		out.ChangeWindowOpen = *d.ChangeWindowOpen
	}
	if d.Tier != nil {
		out.Tier = *d.Tier
	}
	return out
}
