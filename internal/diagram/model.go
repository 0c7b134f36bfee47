package diagram

// NodeKind classifies a diagram node by what the n8n node does.
type NodeKind string

const (
	NodeKindTrigger     NodeKind = "trigger"
	NodeKindCondition   NodeKind = "condition"
	NodeKindTransform   NodeKind = "transform"
	NodeKindSubWorkflow NodeKind = "subworkflow"
	NodeKindAction      NodeKind = "action"
)

// ChangeStatus is the diff overlay of a node or edge.
type ChangeStatus string

const (
	ChangeUnchanged ChangeStatus = "unchanged"
	ChangeAdded     ChangeStatus = "added"
	ChangeRemoved   ChangeStatus = "removed"
	ChangeModified  ChangeStatus = "modified"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string // node names per layer; nodes on cycles form the last layer
}

// Node is a single workflow node. ID is a renderer-safe identifier; Name is the n8n node name.
type Node struct {
	ID       string
	Name     string
	Type     string
	Kind     NodeKind
	Disabled bool
	Change   ChangeStatus
	Details  []string // field changes for modified nodes
}

// Edge is a connection between two nodes, by name.
type Edge struct {
	From   string
	To     string
	Label  string
	Change ChangeStatus
}

// node looks up a node by name.
func (m *DiagramModel) node(name string) *Node {
	for _, n := range m.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}
