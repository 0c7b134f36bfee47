package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

// validateSemantic checks what JSON Schema cannot express: unique node names,
// connections that reference existing nodes, and sub-workflow calls with a target.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if names[n.Name] {
			result.AddError(schema.NodeIndexPath(i, schema.PathName), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node name %q", n.Name))
		}
		names[n.Name] = true

		// Sources other than "database" embed the sub-workflow and carry no id.
		src, _ := n.Parameters["source"].(string)
		if impact.IsExecuteWorkflow(n.Type) && !impact.IsTrigger(n.Type) && (src == "" || src == "database") {
			if _, _, ok := impact.SubWorkflowRef(&wf.Nodes[i]); !ok {
				result.AddNodeError(n.Name, schema.ErrCodeValidation,
					"execute workflow node has no target workflow", "parameters", "workflowId")
			}
		}
	}

	sources := make([]string, 0, len(wf.Connections))
	for src := range wf.Connections {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		if !names[src] {
			result.AddError(schema.ConnectionPath(src), schema.ErrCodeValidation,
				fmt.Sprintf("connection source %q is not a node", src))
		}
	}

	for _, e := range wf.Edges() {
		if names[e.Source] && !names[e.Target] {
			result.AddError(schema.ConnectionPath(e.Source), schema.ErrCodeValidation,
				fmt.Sprintf("connection %s references unknown node %q", e, e.Target))
		}
	}
	schema.SortIssues(result.Errors)

	return result
}
