package impact

import (
	"sort"
	"strings"

	"github.com/rendis/flowguard/pkg/schema"
)

// Keyword tables, matched case-insensitively as substrings of a node type.
// Each call returns a fresh slice so the tables cannot be altered.
func serviceKeywords() []string {
	return []string{"slack", "github", "stripe", "telegram", "email", "http"}
}

func transformerKeywords() []string {
	return []string{"function", "code", "set", "filter", "merge"}
}

func reliabilityKeywords() []string { return []string{"error", "retry"} }

const (
	executeWorkflowKeyword = "executeworkflow"
	triggerKeyword         = "trigger"
	// webhookTypeSuffix matches the Webhook trigger node only; respondToWebhook
	// and other nodes that merely mention webhooks do not start executions.
	webhookTypeSuffix = ".webhook"
)

func typeContains(nodeType string, keywords ...string) bool {
	t := strings.ToLower(nodeType)
	for _, k := range keywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// IsTrigger reports whether a node type starts executions.
func IsTrigger(nodeType string) bool {
	t := strings.ToLower(nodeType)
	return strings.Contains(t, triggerKeyword) || strings.HasSuffix(t, webhookTypeSuffix)
}

// IsTransformer reports whether a node type reshapes data.
func IsTransformer(nodeType string) bool { return typeContains(nodeType, transformerKeywords()...) }

// IsExecuteWorkflow reports whether a node type calls a sub-workflow.
func IsExecuteWorkflow(nodeType string) bool { return typeContains(nodeType, executeWorkflowKeyword) }

// IsStickyNote reports whether a node is a canvas annotation that never runs.
func IsStickyNote(nodeType string) bool { return typeContains(nodeType, "stickynote") }

// FindTrigger returns the first trigger node of the workflow, or nil.
func FindTrigger(wf *schema.Workflow) *schema.Node {
	for i := range wf.Nodes {
		if IsTrigger(wf.Nodes[i].Type) {
			return &wf.Nodes[i]
		}
	}
	return nil
}

// NodeServices returns the external service keywords matched by a node type.
func NodeServices(nodeType string) []string {
	t := strings.ToLower(nodeType)
	var out []string
	for _, k := range serviceKeywords() {
		if strings.Contains(t, k) {
			out = append(out, k)
		}
	}
	return out
}

// Services returns the sorted set of external service keywords found in node types.
func Services(wf *schema.Workflow) []string {
	set := map[string]struct{}{}
	for _, n := range wf.Nodes {
		for _, k := range NodeServices(n.Type) {
			set[k] = struct{}{}
		}
	}
	return sortedSet(set)
}

// CredentialTypes returns the sorted set of credential types referenced by any node.
func CredentialTypes(wf *schema.Workflow) []string {
	set := map[string]struct{}{}
	for _, n := range wf.Nodes {
		for k := range n.Credentials {
			set[k] = struct{}{}
		}
	}
	return sortedSet(set)
}

// Caller is an execute-workflow node in another workflow that targets a workflow.
type Caller struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	NodeName     string `json:"node_name"`
}

func (c Caller) String() string {
	return c.WorkflowName + " (node: " + c.NodeName + ")"
}

// SubWorkflowRef extracts the target of an execute-workflow node. workflowId may
// be a plain string or an n8n resource locator ({"__rl": true, "value": ...}).
func SubWorkflowRef(n *schema.Node) (id, name string, ok bool) {
	if !IsExecuteWorkflow(n.Type) {
		return "", "", false
	}
	switch v := n.Parameters["workflowId"].(type) {
	case string:
		id = v
	case map[string]any:
		if s, isStr := v["value"].(string); isStr {
			id = s
		}
	}
	if s, isStr := n.Parameters["workflowName"].(string); isStr {
		name = s
	}
	return id, name, id != "" || name != ""
}

// FindCallers scans every other workflow for execute-workflow nodes pointing at target
// by id or name. Results follow the order of all, then node order.
func FindCallers(target *schema.Workflow, all []*schema.Workflow) []Caller {
	var callers []Caller
	for _, wf := range all {
		if wf == nil || wf == target || (target.ID != "" && wf.ID == target.ID) {
			continue
		}
		for i := range wf.Nodes {
			id, name, ok := SubWorkflowRef(&wf.Nodes[i])
			if !ok {
				continue
			}
			if (id != "" && id == target.ID) || (name != "" && name == target.Name) {
				callers = append(callers, Caller{
					WorkflowID:   wf.ID,
					WorkflowName: wf.Name,
					NodeName:     wf.Nodes[i].Name,
				})
			}
		}
	}
	return callers
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// difference returns the items of a that are not in b, preserving a's order.
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := in[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
