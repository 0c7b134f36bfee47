package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/graph"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

// Build constructs a DiagramModel from a workflow. When d is non-nil the model
// carries the diff overlay: nodes and connections are marked added or modified,
// and nodes and connections removed by d are drawn as removed. Sticky notes are skipped.
func Build(wf *schema.Workflow, d *diff.Diff) *DiagramModel {
	m := &DiagramModel{Title: titleFor(wf)}

	added := map[string]bool{}
	modified := map[string][]string{}
	addedEdges := map[string]bool{}
	if d != nil {
		for _, e := range d.AddedNodes() {
			added[e.Name] = true
		}
		for _, e := range d.ModifiedNodes() {
			modified[e.Name] = e.Changes
		}
		for _, e := range d.AddedConnections() {
			addedEdges[e.Connection] = true
		}
	}

	for _, n := range wf.Nodes {
		if impact.IsStickyNote(n.Type) || m.node(n.Name) != nil {
			continue
		}
		node := &Node{
			Name:     n.Name,
			Type:     n.Type,
			Kind:     kindOf(n.Type),
			Disabled: n.Disabled,
			Change:   ChangeUnchanged,
		}
		switch {
		case added[n.Name]:
			node.Change = ChangeAdded
		case modified[n.Name] != nil:
			node.Change = ChangeModified
			node.Details = modified[n.Name]
		}
		m.Nodes = append(m.Nodes, node)
	}

	edges := wf.Edges()
	sort.Slice(edges, func(i, j int) bool { return edges[i].String() < edges[j].String() })
	for _, e := range edges {
		change := ChangeUnchanged
		if addedEdges[e.String()] {
			change = ChangeAdded
		}
		m.addEdge(e, change)
	}

	if d != nil {
		for _, e := range d.RemovedNodes() {
			if impact.IsStickyNote(e.NodeType) || m.node(e.Name) != nil {
				continue
			}
			m.Nodes = append(m.Nodes, &Node{
				Name:   e.Name,
				Type:   e.NodeType,
				Kind:   kindOf(e.NodeType),
				Change: ChangeRemoved,
			})
		}
		for _, e := range d.RemovedConnections() {
			if e.Edge != nil {
				m.addEdge(*e.Edge, ChangeRemoved)
			}
		}
	}

	for i, n := range m.Nodes {
		n.ID = fmt.Sprintf("n%d", i)
	}
	m.Levels = layout(m)
	return m
}

// addEdge appends e when both ends are drawn.
func (m *DiagramModel) addEdge(e schema.Connection, change ChangeStatus) {
	from := m.node(e.Source)
	if from == nil || m.node(e.Target) == nil {
		return
	}
	m.Edges = append(m.Edges, Edge{
		From:   e.Source,
		To:     e.Target,
		Label:  edgeLabel(from, e),
		Change: change,
	})
}

// edgeLabel names non-default outputs: IF branches, extra output slots and AI sub-node links.
func edgeLabel(from *Node, e schema.Connection) string {
	if e.OutputType != schema.DefaultConnectionType {
		return e.OutputType
	}
	if from.Kind == NodeKindCondition && strings.HasSuffix(strings.ToLower(from.Type), ".if") {
		if e.OutputIndex == 0 {
			return "true"
		}
		return "false"
	}
	if e.OutputIndex > 0 {
		return fmt.Sprintf("output %d", e.OutputIndex)
	}
	return ""
}

// layout layers the drawn nodes with the graph package. Cycle members, which
// cannot be layered, are appended as a final layer.
func layout(m *DiagramModel) [][]string {
	wf := &schema.Workflow{Connections: schema.Connections{}}
	for _, n := range m.Nodes {
		wf.Nodes = append(wf.Nodes, schema.Node{Name: n.Name, Type: n.Type})
	}
	for _, e := range m.Edges {
		byType, ok := wf.Connections[e.From]
		if !ok {
			byType = map[string][][]schema.ConnectionTarget{schema.DefaultConnectionType: {{}}}
			wf.Connections[e.From] = byType
		}
		byType[schema.DefaultConnectionType][0] = append(byType[schema.DefaultConnectionType][0],
			schema.ConnectionTarget{Node: e.To, Type: schema.DefaultConnectionType})
	}

	levels, cyclic := graph.Build(wf).Levels()
	if len(cyclic) > 0 {
		levels = append(levels, cyclic)
	}
	return levels
}

// kindOf maps an n8n node type to a NodeKind.
func kindOf(nodeType string) NodeKind {
	t := strings.ToLower(nodeType)
	switch {
	case impact.IsTrigger(nodeType):
		return NodeKindTrigger
	case impact.IsExecuteWorkflow(nodeType):
		return NodeKindSubWorkflow
	case strings.HasSuffix(t, ".if") || strings.HasSuffix(t, ".switch"):
		return NodeKindCondition
	case impact.IsTransformer(nodeType):
		return NodeKindTransform
	default:
		return NodeKindAction
	}
}

// shortType strips the package prefix: "n8n-nodes-base.httpRequest" -> "httpRequest".
func shortType(nodeType string) string {
	if i := strings.LastIndex(nodeType, "."); i >= 0 {
		return nodeType[i+1:]
	}
	return nodeType
}

func titleFor(wf *schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return "Workflow"
}
