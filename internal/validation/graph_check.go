package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/flowguard/internal/graph"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

// validateGraph analyzes the main connection graph: cycles and nodes that no
// trigger can reach. Both are warnings since n8n allows loops (e.g. Split In
// Batches) and manual executions start anywhere.
func validateGraph(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	g := graph.Build(wf, schema.DefaultConnectionType)

	if _, cyclic := g.Levels(); len(cyclic) > 0 {
		result.AddWarning("connections", schema.ErrCodeCycleDetected,
			fmt.Sprintf("main connections contain a cycle through %s", strings.Join(cyclic, ", ")))
	}

	var triggers []string
	for _, n := range wf.Nodes {
		if impact.IsTrigger(n.Type) {
			triggers = append(triggers, n.Name)
		}
	}
	if len(triggers) == 0 {
		return result
	}

	reached := g.Reachable(triggers)
	markSubNodes(wf, reached)

	for _, n := range wf.Nodes {
		if reached[n.Name] || impact.IsStickyNote(n.Type) {
			continue
		}
		result.AddNodeWarning(n.Name, schema.ErrCodeValidation,
			fmt.Sprintf("node %q is not reachable from any trigger", n.Name))
	}

	return result
}

// markSubNodes marks nodes attached through non-main connections (AI models,
// tools, memory) as reachable when the node they feed is reachable.
func markSubNodes(wf *schema.Workflow, reached map[string]bool) {
	edges := wf.Edges()
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			if e.OutputType != schema.DefaultConnectionType && reached[e.Target] && !reached[e.Source] {
				reached[e.Source] = true
				changed = true
			}
		}
	}
}
