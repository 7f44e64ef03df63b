package decision

import (
	"fmt"
	"strings"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// explain builds the ordered, human-readable reason list for a decision.
// Reasons are derived only from the inputs and scores so the explanation is
// reproducible for identical evaluations.
func explain(scores map[string]float64, in Inputs, safety float64, action models.Action) []string {
	reasons := make([]string, 0, 8)

	switch in.Simulation.Status {
	case models.SimulationSafe:
		reasons = append(reasons, fmt.Sprintf("Simulation SAFE (reachability preserved %.0f%%)", in.Simulation.ReachabilityPreserved*100))
	case models.SimulationCaution:
		reasons = append(reasons, fmt.Sprintf("Simulation requires CAUTION (%d warnings)", len(in.Simulation.Warnings)))
	default:
		reasons = append(reasons, "Simulation flagged as RISKY")
	}

	switch {
	case in.Usage.UsagePattern == models.UsageNone:
		reasons = append(reasons, fmt.Sprintf("No usage detected in %d days", in.Usage.ObservationDays))
	case in.Usage.DaysSinceLastUse > 90:
		reasons = append(reasons, fmt.Sprintf("Last used %d days ago (inactive)", in.Usage.DaysSinceLastUse))
	default:
		reasons = append(reasons, fmt.Sprintf("Usage observed: %d times in 90 days", in.Usage.UsageCount90d))
	}

	if n := len(in.Dependency.ImpactedServices); n == 0 {
		reasons = append(reasons, "No critical paths affected")
	} else {
		reasons = append(reasons, fmt.Sprintf("%d service(s) may be impacted", n))
	}

	if in.Historical.Total > 0 {
		rate := safeDiv(float64(in.Historical.Successes), float64(in.Historical.Total), 0) * 100
		reasons = append(reasons, fmt.Sprintf("Historical success rate: %.0f%% (%d similar)", rate, in.Historical.Total))
	} else {
		reasons = append(reasons, "No historical data for similar remediations")
	}

	if in.Policy.SharedResource {
		reasons = append(reasons, "Shared resource policy applied (capped at 70%)")
	}
	if !in.Policy.ChangeWindowOpen {
		reasons = append(reasons, "Outside change window (reduced confidence)")
	}
	if in.Policy.HasRollback {
		reasons = append(reasons, "Rollback available (confidence boosted)")
	}

	reasons = append(reasons, fmt.Sprintf("Final safety: %.1f%% → %s", safety*100, action))
	return reasons
}

// warnings lists data-quality gaps and risk flags the caller should see
// regardless of the chosen action.
func warnings(in Inputs) []string {
	out := make([]string, 0, 6)
	out = append(out, in.Simulation.Warnings...)

	if in.Usage.ObservationDays < 30 {
		out = append(out, fmt.Sprintf("Limited observation period (%d days)", in.Usage.ObservationDays))
	}
	if in.Usage.SourcesAvailable < 2 {
		out = append(out, "Single data source - consider enabling additional telemetry")
	}

	if in.Dependency.CrossAccountDependencies > 0 {
		out = append(out, fmt.Sprintf("Cross-account dependencies detected (%d)", in.Dependency.CrossAccountDependencies))
	}

	if in.Environment.Tier == models.TierProduction {
		out = append(out, "Production environment - extra caution advised")
	}
	if len(in.Environment.ComplianceFrameworks) > 0 {
		out = append(out, fmt.Sprintf("Compliance frameworks apply: %s", strings.Join(in.Environment.ComplianceFrameworks, ", ")))
	}

	if !in.Policy.HasRollback {
		out = append(out, "No rollback mechanism available")
	}
	if !in.Policy.ChangeWindowOpen {
		out = append(out, "Outside designated change window")
	}

	return out
}
