package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// changeTag returns a short ASCII indicator for a diff overlay.
func changeTag(c ChangeStatus) string {
	switch c {
	case ChangeAdded:
		return "[+]"
	case ChangeRemoved:
		return "[-]"
	case ChangeModified:
		return "[~]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one row of boxes per
// layer, followed by the connection list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, name := range level {
			if node := model.node(name); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nConnections:\n")
		for _, e := range model.Edges {
			marker := " "
			switch e.Change {
			case ChangeAdded:
				marker = "+"
			case ChangeRemoved:
				marker = "-"
			}
			label := ""
			if e.Label != "" {
				label = fmt.Sprintf(" (%s)", e.Label)
			}
			b.WriteString(fmt.Sprintf("  %s %s ─→ %s%s\n", marker, e.From, e.To, label))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node: name, short type, then overlay tags.
func makeBox(node *Node) asciiBox {
	contentLines := []string{node.Name, shortType(node.Type)}

	var tags []string
	if tag := changeTag(node.Change); tag != "" {
		tags = append(tags, tag)
	}
	if node.Disabled {
		tags = append(tags, "(disabled)")
	}
	if len(tags) > 0 {
		contentLines = append(contentLines, strings.Join(tags, " "))
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	lines = append(lines, top)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between layers.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
