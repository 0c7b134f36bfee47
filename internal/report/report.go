// Package report renders a workflow diff and its impact analysis as a
// Terraform-style change plan.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

const (
	rule = "=================================================="

	// maxChangesShown caps the field changes listed under one modified node.
	maxChangesShown = 3
	// maxImpactsShown caps the impacts listed per assessed dimension.
	maxImpactsShown = 2
)

// assessed lists the dimensions shown in the impact assessment, in order.
var assessed = []struct {
	label string
	get   func(*impact.Report) impact.Dimension
}{
	{"Data flow", func(r *impact.Report) impact.Dimension { return r.DataFlow }},
	{"Trigger", func(r *impact.Report) impact.Dimension { return r.Trigger }},
	{"Dependencies", func(r *impact.Report) impact.Dimension { return r.Dependency }},
}

// FormatPlan renders the plan. Section order is fixed: header, summary, breaking
// changes, node changes, data flow changes, impact assessment, recommendations,
// and a warning footer when breaking changes exist.
func FormatPlan(d *diff.Diff, r *impact.Report) string {
	var b strings.Builder

	writeHeader(&b, d)
	writeSummary(&b, d, r)
	writeBreaking(&b, r.BreakingChanges)
	writeNodeChanges(&b, d)
	writeConnectionChanges(&b, d)
	writeAssessment(&b, r)
	writeRecommendations(&b, r.Recommendations)

	if n := len(r.BreakingChanges); n > 0 {
		b.WriteString(fmt.Sprintf("\nWARNING: this plan contains %d breaking change(s). Review carefully before applying.\n", n))
	}

	return b.String()
}

func writeHeader(b *strings.Builder, d *diff.Diff) {
	title := d.WorkflowName
	if title == "" {
		title = "(unnamed)"
	}
	if d.WorkflowID != "" {
		title += " [" + d.WorkflowID + "]"
	}
	b.WriteString("Workflow change plan: " + title + "\n")
	b.WriteString(rule + "\n")
}

func writeSummary(b *strings.Builder, d *diff.Diff, r *impact.Report) {
	b.WriteString(fmt.Sprintf("\nPlan: %d to add, %d to remove, %d to modify.\n",
		len(d.Additions), len(d.Deletions), len(d.Modifications)))
	b.WriteString(fmt.Sprintf("Risk: %s (%g/10)\n", strings.ToUpper(string(r.RiskLevel)), r.OverallRiskScore))
}

func writeBreaking(b *strings.Builder, changes []impact.BreakingChange) {
	if len(changes) == 0 {
		return
	}
	b.WriteString("\nBreaking changes:\n")
	for _, bc := range changes {
		b.WriteString(fmt.Sprintf("  ! [%s] %s\n", strings.ToUpper(string(bc.Severity)), bc.Description))
		b.WriteString(fmt.Sprintf("      impact: %s\n", bc.Impact))
	}
}

func writeNodeChanges(b *strings.Builder, d *diff.Diff) {
	added, removed, modified := d.AddedNodes(), d.RemovedNodes(), d.ModifiedNodes()
	settings := d.SettingsChanges()
	if len(added)+len(removed)+len(modified)+len(settings) == 0 {
		return
	}

	b.WriteString("\nNode changes:\n")
	for _, e := range added {
		b.WriteString(fmt.Sprintf("  + %s (%s)\n", e.Name, e.NodeType))
	}
	for _, e := range removed {
		b.WriteString(fmt.Sprintf("  - %s (%s)\n", e.Name, e.NodeType))
	}
	for _, e := range modified {
		b.WriteString(fmt.Sprintf("  ~ %s\n", e.Name))
		writeChanges(b, e.Changes)
	}
	if len(settings) > 0 {
		b.WriteString("  ~ settings\n")
		writeChanges(b, settings)
	}
}

// writeChanges lists at most maxChangesShown changes. The hidden count includes
// the parameter changes the diff already folded into its own overflow entry.
func writeChanges(b *strings.Builder, changes []string) {
	changes, hidden := diff.SplitOverflow(changes)
	shown, _ := diff.TakeWithOverflowNote(changes, maxChangesShown)
	hidden += len(changes) - len(shown)
	for _, c := range shown {
		b.WriteString("      " + c + "\n")
	}
	if hidden > 0 {
		b.WriteString(fmt.Sprintf("      (+%d more)\n", hidden))
	}
}

func writeConnectionChanges(b *strings.Builder, d *diff.Diff) {
	added, removed := d.AddedConnections(), d.RemovedConnections()
	if len(added)+len(removed) == 0 {
		return
	}
	b.WriteString("\nData flow changes:\n")
	for _, e := range added {
		b.WriteString("  + " + e.Connection + "\n")
	}
	for _, e := range removed {
		b.WriteString("  - " + e.Connection + "\n")
	}
}

func writeAssessment(b *strings.Builder, r *impact.Report) {
	b.WriteString("\nImpact assessment:\n")
	for _, a := range assessed {
		dim := a.get(r)
		b.WriteString(fmt.Sprintf("  %s: %s\n", a.label, dim.Summary))
		shown, note := diff.TakeWithOverflowNote(dim.Impacts, maxImpactsShown)
		for _, i := range shown {
			b.WriteString(fmt.Sprintf("    - [%s] %s\n", i.Severity, i.Description))
		}
		if note != "" {
			b.WriteString("    (" + note + ")\n")
		}
	}
}

func writeRecommendations(b *strings.Builder, recs []string) {
	b.WriteString("\nRecommendations:\n")
	for i, rec := range recs {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, rec))
	}
}

// Plan is the structured form of a change plan.
type Plan struct {
	Diff   *diff.Diff     `json:"diff"`
	Impact *impact.Report `json:"impact"`
}

// FormatJSON renders the plan as indented JSON.
func FormatJSON(d *diff.Diff, r *impact.Report) (string, error) {
	data, err := json.MarshalIndent(Plan{Diff: d, Impact: r}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(data), nil
}

// FormatComparison renders a compact side-by-side summary of two workflows,
// independent of impact scoring.
func FormatComparison(old, next *schema.Workflow, d *diff.Diff) string {
	var b strings.Builder

	b.WriteString("Workflow comparison\n")
	b.WriteString(rule + "\n")
	b.WriteString(fmt.Sprintf("%-14s %-24s %s\n", "", "old", "new"))
	b.WriteString(fmt.Sprintf("%-14s %-24s %s\n", "name", old.Name, next.Name))
	b.WriteString(fmt.Sprintf("%-14s %-24d %d\n", "nodes", len(old.Nodes), len(next.Nodes)))
	b.WriteString(fmt.Sprintf("%-14s %-24d %d\n", "connections", len(old.Edges()), len(next.Edges())))
	b.WriteString(fmt.Sprintf("%-14s %-24t %t\n", "active", old.Active, next.Active))

	b.WriteString("\nChanges:\n")
	b.WriteString(fmt.Sprintf("  nodes:       +%d -%d ~%d\n",
		len(d.AddedNodes()), len(d.RemovedNodes()), len(d.ModifiedNodes())))
	b.WriteString(fmt.Sprintf("  connections: +%d -%d\n",
		len(d.AddedConnections()), len(d.RemovedConnections())))
	settings := "unchanged"
	if s := d.SettingsChanges(); len(s) > 0 {
		settings = fmt.Sprintf("%d change(s)", len(s))
	}
	b.WriteString("  settings:    " + settings + "\n")

	if d.IsEmpty() {
		b.WriteString("\nThe workflows are structurally identical.\n")
	}
	return b.String()
}
