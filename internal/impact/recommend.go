package impact

import (
	"fmt"
	"strings"

	"github.com/rendis/flowguard/internal/diff"
)

// largeChangeSet is the diff size above which splitting the change is suggested.
const largeChangeSet = 10

// RecommendationSafe is emitted when no other recommendation applies.
const RecommendationSafe = "No significant risks detected: safe to proceed"

// Recommend builds the recommendation list. Check order is fixed: breaking,
// trigger, dependency, downstream, data flow, execution, change volume, fallback.
func Recommend(r *Report, d *diff.Diff) []string {
	var recs []string

	if n := len(r.BreakingChanges); n > 0 {
		recs = append(recs, fmt.Sprintf("Review %d breaking change(s) before applying", n))
		if r.RiskLevel == RiskCritical {
			recs = append(recs, "Schedule this change in a maintenance window")
		}
	}

	if r.Trigger.HasBreakingChanges {
		recs = append(recs, "Verify that external callers, webhooks and schedules still start the workflow")
	}

	if i, ok := r.Dependency.Find(ImpactNewCredentials); ok {
		recs = append(recs, fmt.Sprintf("Configure %d new credential(s): %s", len(i.Items), strings.Join(i.Items, ", ")))
	}
	if i, ok := r.Dependency.Find(ImpactNewServices); ok {
		recs = append(recs, "Confirm access and rate limits for new service(s): "+strings.Join(i.Items, ", "))
	}

	if i, ok := r.Downstream.Find(ImpactDownstream); ok {
		recs = append(recs, fmt.Sprintf("Test %d calling workflow(s) after applying", len(i.Items)))
	}

	if r.DataFlow.HasBreakingChanges {
		recs = append(recs, "Run an end-to-end test to confirm data still reaches every destination")
	}
	if r.DataFlow.Has(ImpactTransformationChanged) {
		recs = append(recs, "Compare transformation output against a sample execution")
	}

	if r.Execution.Has(ImpactReducedReliability) {
		recs = append(recs, "Error handling was removed: configure an error workflow or retries")
	}
	if r.Execution.Has(ImpactIncreasedExecution) {
		recs = append(recs, "Check execution timeouts against the longer path")
	}

	if total := d.Total(); total > largeChangeSet {
		recs = append(recs, fmt.Sprintf("Large change set (%d changes): consider splitting it into smaller deployments", total))
	}

	if len(recs) == 0 {
		recs = append(recs, RecommendationSafe)
	}
	return recs
}
