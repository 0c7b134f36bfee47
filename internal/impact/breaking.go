package impact

import (
	"fmt"
	"strings"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/pkg/schema"
)

// rule is one independent breaking-change check.
type rule func(current, next *schema.Workflow, d *diff.Diff) []BreakingChange

var rules = []rule{
	deletedConnectedNodes,
	nodeTypeChanges,
	deletedConnections,
	deactivation,
}

// Classify flags the diff entries that alter externally observable behavior.
// All rules run and their results are concatenated.
func Classify(current, next *schema.Workflow, d *diff.Diff) []BreakingChange {
	out := []BreakingChange{}
	for _, r := range rules {
		out = append(out, r(current, next, d)...)
	}
	return out
}

// deletedConnectedNodes flags deleted nodes that were a connection source in current.
// Nodes that were only targets are not flagged.
func deletedConnectedNodes(current, _ *schema.Workflow, d *diff.Diff) []BreakingChange {
	var out []BreakingChange
	for _, e := range d.RemovedNodes() {
		if _, isSource := current.Connections[e.Name]; !isSource {
			continue
		}
		out = append(out, BreakingChange{
			Severity:    SeverityHigh,
			Type:        BreakingDeletedConnectedNode,
			Description: fmt.Sprintf("Node '%s' was deleted while it still had outgoing connections", e.Name),
			Impact:      fmt.Sprintf("Nodes downstream of '%s' will no longer receive data", e.Name),
			Node:        e.Name,
		})
	}
	return out
}

func nodeTypeChanges(_, _ *schema.Workflow, d *diff.Diff) []BreakingChange {
	var out []BreakingChange
	for _, e := range d.ModifiedNodes() {
		for _, c := range e.Changes {
			if !strings.HasPrefix(c, diff.ChangeTypeChanged) {
				continue
			}
			out = append(out, BreakingChange{
				Severity:    SeverityHigh,
				Type:        BreakingNodeTypeChange,
				Description: fmt.Sprintf("Node '%s' %s", e.Name, c),
				Impact:      "Node behavior and output shape may differ",
				Node:        e.Name,
			})
			break
		}
	}
	return out
}

func deletedConnections(_, _ *schema.Workflow, d *diff.Diff) []BreakingChange {
	var out []BreakingChange
	for _, e := range d.RemovedConnections() {
		bc := BreakingChange{
			Severity:    SeverityMedium,
			Type:        BreakingDeletedConnection,
			Description: "Connection removed: " + e.Connection,
			Impact:      "Data will no longer flow along this path",
		}
		if e.Edge != nil {
			bc.Impact = fmt.Sprintf("Data will no longer flow from '%s' to '%s'", e.Edge.Source, e.Edge.Target)
			bc.Node = e.Edge.Source
		}
		out = append(out, bc)
	}
	return out
}

// deactivation flags active -> inactive only; reactivation is never breaking.
func deactivation(current, next *schema.Workflow, _ *diff.Diff) []BreakingChange {
	if current.Active == next.Active || next.Active {
		return nil
	}
	return []BreakingChange{{
		Severity:    SeverityMedium,
		Type:        BreakingWorkflowDeactivation,
		Description: "Workflow will be deactivated",
		Impact:      "Triggers stop firing and no new executions will start",
	}}
}
