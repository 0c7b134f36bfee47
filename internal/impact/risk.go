package impact

import (
	"math"

	"github.com/rendis/flowguard/internal/diff"
)

// Risk weights and level cutoffs. These are policy constants; changing them
// changes every report's score.
const (
	weightBreakingChange    = 2.0
	weightDataFlow          = 1.5
	weightExecution         = 1.0
	weightDependency        = 1.5
	weightTrigger           = 2.5
	weightDownstream        = 1.5
	weightRemovedNode       = 0.5
	weightRemovedConnection = 0.3

	maxRiskScore = 10.0

	criticalThreshold = 7.0
	highThreshold     = 5.0
	mediumThreshold   = 3.0
)

// Score aggregates the report's dimensions and the diff into a score in [0, 10].
func Score(r *Report, d *diff.Diff) float64 {
	score := weightBreakingChange * float64(len(r.BreakingChanges))

	for _, w := range []struct {
		dim    Dimension
		weight float64
	}{
		{r.DataFlow, weightDataFlow},
		{r.Execution, weightExecution},
		{r.Dependency, weightDependency},
		{r.Trigger, weightTrigger},
		{r.Downstream, weightDownstream},
	} {
		if w.dim.HasBreakingChanges {
			score += w.weight
		}
	}

	score += weightRemovedNode * float64(len(d.RemovedNodes()))
	score += weightRemovedConnection * float64(len(d.RemovedConnections()))

	score = math.Round(score*100) / 100
	return math.Min(maxRiskScore, score)
}

// LevelFor maps a score to its risk level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= criticalThreshold:
		return RiskCritical
	case score >= highThreshold:
		return RiskHigh
	case score >= mediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
