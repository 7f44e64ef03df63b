// Package decision implements the confidence-safety decision engine.
//
// The engine is a pure function over the six signal contexts: it never does
// I/O, holds no state, and encodes every outcome (including BLOCK) in the
// returned Decision rather than an error.
package decision

import (
	"math"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// Signal weights for the geometric mean. They sum to exactly 1.0.
const (
	weightSimulation = 0.30
	weightUsage      = 0.25
	weightData       = 0.20
	weightDependency = 0.15
	weightHistorical = 0.10
)

// Action thresholds on the adjusted safety score.
const (
	thresholdAuto     = 0.90
	thresholdCanary   = 0.75
	thresholdApproval = 0.60
)

// Inputs bundles the six signal contexts for one evaluation.
type Inputs struct {
	Simulation  models.SimulationContext
	Usage       models.UsageContext
	Dependency  models.DependencyContext
	Historical  models.HistoricalContext
	Environment models.EnvironmentContext
	Policy      models.PolicyContext
}

// Engine evaluates signal contexts into a Decision. The zero value is ready
// to use; any number of evaluations may run in parallel.
type Engine struct{}

// New returns a decision engine.
func New() *Engine {
	return &Engine{}
}

// Evaluate combines the signal contexts into a single risk judgment.
func (e *Engine) Evaluate(in Inputs) models.Decision {
	// Hard blocks short-circuit before any scoring.
	if in.Simulation.CriticalPathAffected {
		return block("Critical path affected - manual review required")
	}
	if in.Dependency.CircularDependencies {
		return block("Circular dependencies detected - cannot safely remediate")
	}

	scores := map[string]float64{
		"simulation": simulationScore(in.Simulation),
		"usage":      usageScore(in.Usage),
		"data":       dataScore(in.Usage, in.Dependency),
		"dependency": dependencyScore(in.Dependency),
		"historical": historicalScore(in.Historical),
	}

	// Weighted geometric mean: a zero in any factor collapses confidence to
	// zero, so one catastrophic signal vetoes the rest.
	confidence := clamp01(
		math.Pow(scores["simulation"], weightSimulation) *
			math.Pow(scores["usage"], weightUsage) *
			math.Pow(scores["data"], weightData) *
			math.Pow(scores["dependency"], weightDependency) *
			math.Pow(scores["historical"], weightHistorical))

	safety := applySafetyRules(confidence, in.Simulation, in.Environment, in.Policy)
	autoAllowed := autoAllowed(in.Policy)
	action := decideAction(safety, autoAllowed)

	return models.Decision{
		Confidence:  confidence,
		Safety:      safety,
		Action:      action,
		AutoAllowed: autoAllowed,
		Breakdown:   scores,
		Reasons:     explain(scores, in, safety, action),
		Warnings:    warnings(in),
	}
}

func block(reason string) models.Decision {
	return models.Decision{
		Confidence:  0,
		Safety:      0,
		Action:      models.ActionBlock,
		AutoAllowed: false,
		Breakdown:   map[string]float64{},
		Reasons:     []string{reason},
		Warnings:    []string{reason},
	}
}

// simulationScore scales the verdict base (SAFE 0.95, CAUTION 0.75, RISKY
// 0.40, otherwise 0.50) by reachability and permission test coverage.
func simulationScore(sim models.SimulationContext) float64 {
	var base float64
	switch sim.Status {
	case models.SimulationSafe:
		base = 0.95
	case models.SimulationCaution:
		base = 0.75
	case models.SimulationRisky:
		base = 0.40
	default:
		base = 0.50
	}

	reach := clamp01(sim.ReachabilityPreserved)
	coverage := safeDiv(float64(sim.PermissionsSafe), float64(sim.PermissionsTested), 1.0)

	return clamp01(base * (0.5 + 0.3*reach + 0.2*coverage))
}

// usageScore rewards permissions that look unused: removing something nobody
// touches is safe, removing something active is not.
func usageScore(u models.UsageContext) float64 {
	switch u.UsagePattern {
	case models.UsageNone:
		return 0.95
	case models.UsageLow:
		return 0.85
	}

	// Recency risk decays with a 30-day half-life; frequency risk grows on a
	// log scale with the 90-day call count.
	recencyRisk := math.Exp(-float64(u.DaysSinceLastUse) / 30.0)
	freqRisk := math.Min(1.0, math.Log10(float64(u.UsageCount90d)+1)/2.5)

	return clamp01(1.0 - math.Max(recencyRisk, freqRisk))
}

// dataScore measures how much observation data backs the other signals.
func dataScore(u models.UsageContext, dep models.DependencyContext) float64 {
	timeCoverage := 1.0 - math.Exp(-float64(u.ObservationDays)/40.0)
	sourceCoverage := math.Min(1.0, float64(u.SourcesAvailable)/4.0)
	telemetryCoverage := safeDiv(float64(dep.ResourcesWithTelemetry), float64(dep.TotalResources), 0.5)

	return clamp01(0.4*timeCoverage + 0.3*sourceCoverage + 0.3*telemetryCoverage)
}

// dependencyScore discounts confidence for poorly observed graphs, critical
// downstream services, and cross-account blast radius.
func dependencyScore(dep models.DependencyContext) float64 {
	graphCov := safeDiv(float64(dep.ResourcesWithTelemetry), float64(dep.TotalResources), 0.5)
	edgeCov := safeDiv(float64(dep.EdgesObserved), float64(dep.EdgesEstimated), 0.5)

	var impact float64
	for _, svc := range dep.ImpactedServices {
		impact += math.Min(1.0, svc.Criticality/10.0)
	}
	sizePenalty := 1.0 / (1.0 + impact)
	crossAccountPenalty := 1.0 / (1.0 + float64(dep.CrossAccountDependencies)*0.2)

	return clamp01(graphCov * edgeCov * sizePenalty * crossAccountPenalty)
}

// historicalScore starts neutral at 0.70 and shifts with the observed
// success rate, weighted by how much history exists (cap at 10 records).
func historicalScore(h models.HistoricalContext) float64 {
	if h.Total == 0 {
		return 0.70
	}

	successRate := safeDiv(float64(h.Successes), float64(h.Total), 0.5)
	weight := math.Min(1.0, float64(h.Total)/10.0)
	score := 0.70 + (successRate-0.5)*0.4*weight

	if h.SimilarResourceTypeSuccessRate > 0.9 {
		score *= 1.05
	}
	if h.LastFailureDaysAgo != nil && *h.LastFailureDaysAgo < 7 {
		score *= 0.85
	}

	return clamp01(score)
}

// applySafetyRules layers organizational policy onto raw confidence. The
// rules are sequential and order matters: caps first, then the rollback
// boost/penalty, then the multiplicative penalties.
func applySafetyRules(confidence float64, sim models.SimulationContext, env models.EnvironmentContext, pol models.PolicyContext) float64 {
	s := confidence

	if env.Tier == models.TierProduction || pol.SharedResource {
		s = math.Min(s, 0.70)
	}
	if pol.RevenueGenerating {
		s = math.Min(s, 0.75)
	}

	if pol.HasRollback {
		if s < 0.75 {
			s = math.Min(s*1.15, 0.89)
		}
	} else {
		s *= 0.85
	}

	if !pol.ChangeWindowOpen {
		s *= 0.70
	}
	if len(env.ComplianceFrameworks) >= 2 {
		s *= 0.95
	}

	s *= 1.0 - sim.WorstPathSeverity*0.3

	if env.IsMultiRegion {
		s *= 0.90
	}

	return clamp01(s)
}

func decideAction(safety float64, autoAllowed bool) models.Action {
	switch {
	case safety >= thresholdAuto && autoAllowed:
		return models.ActionAutoRemediate
	case safety >= thresholdCanary:
		return models.ActionCanary
	case safety >= thresholdApproval:
		return models.ActionRequireApproval
	default:
		return models.ActionBlock
	}
}

// autoAllowed never permits unattended changes to production, staging, or
// shared resources.
func autoAllowed(pol models.PolicyContext) bool {
	if pol.Tier <= models.TierStaging || pol.SharedResource {
		return false
	}
	return true
}

func clamp01(x float64) float64 {
	return math.Max(0.0, math.Min(1.0, x))
}

func safeDiv(a, b, def float64) float64 {
	if b == 0 {
		return def
	}
	return a / b
}
