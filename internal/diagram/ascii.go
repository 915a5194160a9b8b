package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders a DiagramModel as a text-based ASCII diagram.
// It uses a level-based layout with box-drawing characters, followed by
// the labelled transitions and the nested sub-steps.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	var labelled []Edge
	for _, e := range model.Edges {
		if e.Label != "" {
			labelled = append(labelled, e)
		}
	}
	if len(labelled) > 0 {
		b.WriteString("\n--- transitions ---\n")
		for _, e := range labelled {
			writeASCIIEdge(&b, e, "  ")
		}
	}

	for _, node := range model.Nodes {
		renderChildren(&b, node, "")
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Kind != NodeKindStart && node.Kind != NodeKindEnd {
		contentLines = append(contentLines, "<"+string(node.Kind)+">")
	}

	maxLen := 0
	for _, line := range contentLines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
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

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// renderChildren writes the sub-steps of node and, recursively, of its
// nested maps and parallels.
func renderChildren(b *strings.Builder, node *Node, indent string) {
	if len(node.Children) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s--- %s sub-steps ---\n", indent, node.ID)
	for _, sg := range node.Children {
		fmt.Fprintf(b, "%s  [%s]\n", indent, sg.Label)
		for _, sub := range sg.Nodes {
			fmt.Fprintf(b, "%s    %s <%s>\n", indent, firstLine(sub.Label), sub.Kind)
		}
		for _, e := range sg.Edges {
			writeASCIIEdge(b, e, indent+"    ")
		}
		for _, sub := range sg.Nodes {
			renderChildren(b, sub, indent+"  ")
		}
	}
}

func writeASCIIEdge(b *strings.Builder, e Edge, indent string) {
	if e.Label != "" {
		fmt.Fprintf(b, "%s%s ─→ %s (%s)\n", indent, e.From, e.To, e.Label)
		return
	}
	fmt.Fprintf(b, "%s%s ─→ %s\n", indent, e.From, e.To)
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
