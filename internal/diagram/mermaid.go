package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Added connections are thick, removed ones dotted.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		from, to := model.node(edge.From), model.node(edge.To)
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n", from.ID, mermaidArrow(edge.Change), label, to.ID))
	}

	var classes []string
	for _, node := range model.Nodes {
		if cls := mermaidChangeClass(node); cls != "" {
			classes = append(classes, fmt.Sprintf("    class %s %s\n", node.ID, cls))
		}
	}
	if len(classes) == 0 {
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString("    classDef added fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef removed fill:#8b1a1a,stroke:#5c0e0e,color:#fff,stroke-dasharray:5 5\n")
	b.WriteString("    classDef modified fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef disabled fill:#4a4a4a,stroke:#333,color:#aaa\n")
	for _, c := range classes {
		b.WriteString(c)
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	label := mermaidEscapeLabel(node.Name)

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s([\"%s\"])", node.ID, label)
	case NodeKindCondition:
		return fmt.Sprintf("%s{\"%s\"}", node.ID, label)
	case NodeKindSubWorkflow:
		return fmt.Sprintf("%s[[\"%s\"]]", node.ID, label)
	case NodeKindTransform:
		return fmt.Sprintf("%s[/\"%s\"/]", node.ID, label)
	default: // action
		return fmt.Sprintf("%s[\"%s\"]", node.ID, label)
	}
}

func mermaidArrow(c ChangeStatus) string {
	switch c {
	case ChangeAdded:
		return "==>"
	case ChangeRemoved:
		return "-.->"
	default:
		return "-->"
	}
}

// mermaidEscapeLabel escapes characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
}

// mermaidChangeClass maps a node's overlay to a class name. Change wins over disabled.
func mermaidChangeClass(node *Node) string {
	switch node.Change {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	}
	if node.Disabled {
		return "disabled"
	}
	return ""
}
