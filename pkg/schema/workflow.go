package schema

import (
	"encoding/json"
	"fmt"
)

// Workflow is the n8n workflow export format.
// Field names follow the n8n REST API and UI export verbatim.
type Workflow struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Settings    map[string]any `json:"settings,omitempty"`
	VersionID   string         `json:"versionId,omitempty"`
	UpdatedAt   string         `json:"updatedAt,omitempty"`
}

// Node is a single typed unit of work in a workflow. Name is unique within a workflow.
type Node struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Position    []float64      `json:"position,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty"`
}

// Connections groups edges by source node name, then by output type ("main", "ai_tool", ...).
// Each output type holds one target list per output slot.
type Connections map[string]map[string][][]ConnectionTarget

// ConnectionTarget is one end of an edge inside a Connections slot.
type ConnectionTarget struct {
	Node  string `json:"node"`
	Type  string `json:"type,omitempty"`
	Index int    `json:"index"`
}

// DefaultConnectionType is the slot type n8n assumes when none is given.
const DefaultConnectionType = "main"

// Connection is a flattened directed edge between two node slots.
type Connection struct {
	Source      string `json:"source"`
	OutputType  string `json:"output_type"`
	OutputIndex int    `json:"output_index"`
	Target      string `json:"target"`
	InputType   string `json:"input_type"`
	InputIndex  int    `json:"input_index"`
}

// String returns the canonical form "{source}[{outputType}:{outputIndex}] → {target}[{inputType}:{inputIndex}]".
func (c Connection) String() string {
	return fmt.Sprintf("%s[%s:%d] → %s[%s:%d]",
		c.Source, c.OutputType, c.OutputIndex, c.Target, c.InputType, c.InputIndex)
}

// Edges flattens the grouped connection structure. The output index is the slot
// position; missing types default to "main".
func (w *Workflow) Edges() []Connection {
	var edges []Connection
	for source, byType := range w.Connections {
		for outType, slots := range byType {
			if outType == "" {
				outType = DefaultConnectionType
			}
			for outIdx, targets := range slots {
				for _, t := range targets {
					inType := t.Type
					if inType == "" {
						inType = DefaultConnectionType
					}
					edges = append(edges, Connection{
						Source:      source,
						OutputType:  outType,
						OutputIndex: outIdx,
						Target:      t.Node,
						InputType:   inType,
						InputIndex:  t.Index,
					})
				}
			}
		}
	}
	return edges
}

// NodeByName returns the node with the given name, or nil.
func (w *Workflow) NodeByName(name string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("clone workflow: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes an n8n workflow JSON document.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid workflow JSON").WithCause(err)
	}
	return &wf, nil
}

// WorkflowFromMap converts a decoded JSON object (e.g. an MCP tool argument) into a Workflow.
func WorkflowFromMap(m map[string]any) (*Workflow, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, NewError(ErrCodeValidation, "invalid workflow object").WithCause(err)
	}
	return ParseWorkflow(data)
}

// ToMap returns the workflow as a generic JSON object, the form expression engines consume.
func (w *Workflow) ToMap() (map[string]any, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
