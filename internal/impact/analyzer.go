package impact

import (
	"fmt"
	"strings"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/pkg/schema"
)

// addedNodesForSlowdown is the number of added nodes above which execution time is flagged.
const addedNodesForSlowdown = 2

// Analyze scores the diff across five independent dimensions and aggregates a
// risk score. all is the workflow inventory used for downstream analysis; a nil
// inventory skips it.
func Analyze(d *diff.Diff, current, next *schema.Workflow, all []*schema.Workflow) *Report {
	r := &Report{
		DataFlow:        dataFlow(d),
		Execution:       execution(d, current, next),
		Dependency:      dependency(current, next),
		Trigger:         trigger(current, next),
		Downstream:      downstream(current, all),
		BreakingChanges: Classify(current, next, d),
	}
	r.OverallRiskScore = Score(r, d)
	r.RiskLevel = LevelFor(r.OverallRiskScore)
	r.Recommendations = Recommend(r, d)
	return r
}

func dataFlow(d *diff.Diff) Dimension {
	var impacts []Impact

	if added := d.AddedConnections(); len(added) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactNewDataPath,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("%d new data path(s)", len(added)),
			Items:       connections(added),
		})
	}
	if removed := d.RemovedConnections(); len(removed) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactBrokenDataPath,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%d data path(s) broken", len(removed)),
			Items:       connections(removed),
		})
	}

	var transformers []string
	for _, e := range d.ModifiedNodes() {
		if IsTransformer(e.NodeType) {
			transformers = append(transformers, e.Name)
		}
	}
	if len(transformers) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactTransformationChanged,
			Severity:    SeverityMedium,
			Description: "Data transformation logic changed",
			Items:       transformers,
		})
	}

	return newDimension(impacts, "data flow")
}

func execution(d *diff.Diff, current, next *schema.Workflow) Dimension {
	var impacts []Impact

	added := d.AddedNodes()
	removed := d.RemovedNodes()

	if len(added) > addedNodesForSlowdown {
		impacts = append(impacts, Impact{
			Type:        ImpactIncreasedExecution,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("%d nodes added, execution time may increase", len(added)),
			Items:       nodeNames(added),
		})
	}
	if len(removed) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactExecutionPath,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%d node(s) removed from the execution path", len(removed)),
			Items:       nodeNames(removed),
		})
	}

	var gained []string
	for _, e := range added {
		if typeContains(e.NodeType, reliabilityKeywords()...) {
			gained = append(gained, e.Name)
		}
	}
	if len(gained) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactImprovedReliability,
			Severity:    SeverityPositive,
			Description: "Error handling or retry nodes added",
			Items:       gained,
		})
	}

	var lost []string
	for _, e := range removed {
		if typeContains(e.NodeType, "error") {
			lost = append(lost, e.Name)
		}
	}
	if len(lost) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactReducedReliability,
			Severity:    SeverityHigh,
			Description: "Error handling nodes removed",
			Items:       lost,
		})
	}

	return newDimension(impacts, "execution")
}

func dependency(current, next *schema.Workflow) Dimension {
	var impacts []Impact

	oldServices, newServices := Services(current), Services(next)
	oldCreds, newCreds := CredentialTypes(current), CredentialTypes(next)

	if s := difference(newServices, oldServices); len(s) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactNewServices,
			Severity:    SeverityMedium,
			Description: "New external services: " + strings.Join(s, ", "),
			Items:       s,
		})
	}
	if s := difference(oldServices, newServices); len(s) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactRemovedServices,
			Severity:    SeverityLow,
			Description: "External services no longer used: " + strings.Join(s, ", "),
			Items:       s,
		})
	}
	if c := difference(newCreds, oldCreds); len(c) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactNewCredentials,
			Severity:    SeverityHigh,
			Description: "New credentials required: " + strings.Join(c, ", "),
			Items:       c,
		})
	}
	if c := difference(oldCreds, newCreds); len(c) > 0 {
		impacts = append(impacts, Impact{
			Type:        ImpactCredentialsNotNeeded,
			Severity:    SeverityLow,
			Description: "Credentials no longer needed: " + strings.Join(c, ", "),
			Items:       c,
		})
	}

	return newDimension(impacts, "dependency")
}

// trigger evaluates four exclusive cases in order; only the first match fires.
func trigger(current, next *schema.Workflow) Dimension {
	oldT, newT := FindTrigger(current), FindTrigger(next)

	var imp *Impact
	switch {
	case oldT != nil && newT == nil:
		imp = &Impact{
			Type:        ImpactTriggerRemoved,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Trigger '%s' removed, the workflow can no longer start on its own", oldT.Name),
			Items:       []string{oldT.Name},
		}
	case oldT == nil && newT != nil:
		imp = &Impact{
			Type:        ImpactTriggerAdded,
			Severity:    SeverityPositive,
			Description: fmt.Sprintf("Trigger '%s' added", newT.Name),
			Items:       []string{newT.Name},
		}
	case oldT != nil && oldT.Type != newT.Type:
		imp = &Impact{
			Type:        ImpactTriggerTypeChanged,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Trigger type changed: %s → %s", oldT.Type, newT.Type),
			Items:       []string{newT.Name},
		}
	case oldT != nil && !diff.MapsEqual(oldT.Parameters, newT.Parameters):
		imp = &Impact{
			Type:        ImpactTriggerParametersChanged,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Trigger '%s' parameters changed", newT.Name),
			Items:       []string{newT.Name},
		}
	}

	var impacts []Impact
	if imp != nil {
		impacts = append(impacts, *imp)
	}
	return newDimension(impacts, "trigger")
}

func downstream(current *schema.Workflow, all []*schema.Workflow) Dimension {
	if all == nil {
		return Dimension{Impacts: []Impact{}, Summary: "Downstream analysis skipped (no workflow inventory)"}
	}

	callers := FindCallers(current, all)
	var impacts []Impact
	if len(callers) > 0 {
		items := make([]string, 0, len(callers))
		for _, c := range callers {
			items = append(items, c.String())
		}
		impacts = append(impacts, Impact{
			Type:        ImpactDownstream,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Affects %d downstream workflow caller(s)", len(callers)),
			Items:       items,
		})
	}
	return newDimension(impacts, "downstream")
}

func newDimension(impacts []Impact, label string) Dimension {
	if impacts == nil {
		impacts = []Impact{}
	}
	dim := Dimension{Impacts: impacts}
	for _, i := range impacts {
		if i.Severity.breaking() {
			dim.HasBreakingChanges = true
			break
		}
	}
	switch {
	case len(impacts) == 0:
		dim.Summary = "No " + label + " impact"
	case dim.HasBreakingChanges:
		dim.Summary = fmt.Sprintf("%d %s impact(s), including breaking changes", len(impacts), label)
	default:
		dim.Summary = fmt.Sprintf("%d %s impact(s)", len(impacts), label)
	}
	return dim
}

func connections(entries []diff.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Connection)
	}
	return out
}

func nodeNames(entries []diff.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
