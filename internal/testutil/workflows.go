// Package testutil provides n8n workflow builders for tests.
package testutil

import "github.com/rendis/flowguard/pkg/schema"

// Common n8n node types used across tests.
const (
	TypeWebhook         = "n8n-nodes-base.webhook"
	TypeScheduleTrigger = "n8n-nodes-base.scheduleTrigger"
	TypeManualTrigger   = "n8n-nodes-base.manualTrigger"
	TypeHTTPRequest     = "n8n-nodes-base.httpRequest"
	TypeSlack           = "n8n-nodes-base.slack"
	TypeSet             = "n8n-nodes-base.set"
	TypeCode            = "n8n-nodes-base.code"
	TypeFunction        = "n8n-nodes-base.function"
	TypeExecuteWorkflow = "n8n-nodes-base.executeWorkflow"
	TypeErrorTrigger    = "n8n-nodes-base.errorTrigger"
	TypeStopAndError    = "n8n-nodes-base.stopAndError"
)

// NewWorkflow creates a workflow with the given nodes and no connections.
func NewWorkflow(id, name string, nodes ...schema.Node) *schema.Workflow {
	if nodes == nil {
		nodes = []schema.Node{}
	}
	return &schema.Workflow{
		ID:          id,
		Name:        name,
		Active:      true,
		Nodes:       nodes,
		Connections: schema.Connections{},
		Settings:    map[string]any{},
	}
}

// Node creates a node with default values that can be overridden.
func Node(name, typ string, overrides ...func(*schema.Node)) schema.Node {
	n := schema.Node{
		ID:          name,
		Name:        name,
		Type:        typ,
		TypeVersion: 1,
		Position:    []float64{0, 0},
		Parameters:  map[string]any{},
	}
	for _, o := range overrides {
		o(&n)
	}
	return n
}

// WithParams sets the node parameters.
func WithParams(params map[string]any) func(*schema.Node) {
	return func(n *schema.Node) {
		n.Parameters = params
	}
}

// WithCredentials sets the node credentials.
func WithCredentials(creds map[string]any) func(*schema.Node) {
	return func(n *schema.Node) {
		n.Credentials = creds
	}
}

// WithVersion sets the node typeVersion.
func WithVersion(v float64) func(*schema.Node) {
	return func(n *schema.Node) {
		n.TypeVersion = v
	}
}

// Disabled marks the node as disabled.
func Disabled() func(*schema.Node) {
	return func(n *schema.Node) {
		n.Disabled = true
	}
}

// Connect adds a main-output edge from slot 0 of from to input 0 of to.
func Connect(wf *schema.Workflow, from, to string) *schema.Workflow {
	return ConnectSlot(wf, from, 0, to)
}

// ConnectSlot adds a main-output edge from the given output slot of from to input 0 of to.
func ConnectSlot(wf *schema.Workflow, from string, slot int, to string) *schema.Workflow {
	if wf.Connections == nil {
		wf.Connections = schema.Connections{}
	}
	byType, ok := wf.Connections[from]
	if !ok {
		byType = map[string][][]schema.ConnectionTarget{}
		wf.Connections[from] = byType
	}
	slots := byType[schema.DefaultConnectionType]
	for len(slots) <= slot {
		slots = append(slots, []schema.ConnectionTarget{})
	}
	slots[slot] = append(slots[slot], schema.ConnectionTarget{Node: to, Type: schema.DefaultConnectionType, Index: 0})
	byType[schema.DefaultConnectionType] = slots
	return wf
}

// Clone deep-copies a workflow and panics on failure (test inputs are always valid).
func Clone(wf *schema.Workflow) *schema.Workflow {
	cp, err := wf.Clone()
	if err != nil {
		panic(err)
	}
	return cp
}
