package diagram

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RenderASCIIAuto renders through the mermaid-ascii binary in binDir when
// present, falling back to RenderASCII.
func RenderASCIIAuto(model *DiagramModel, binDir string) string {
	if binDir != "" {
		binPath := filepath.Join(binDir, "mermaid-ascii")
		if _, err := os.Stat(binPath); err == nil {
			if out, err := RenderASCIIViaCLI(model, binPath); err == nil {
				return out
			}
		}
	}
	return RenderASCII(model)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through mermaid-ascii.
func RenderASCIIViaCLI(model *DiagramModel, binPath string) (string, error) {
	cmd := exec.Command(binPath)
	cmd.Stdin = strings.NewReader(RenderMermaidForCLI(model))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates the edge-only Mermaid dialect mermaid-ascii
// understands: no ["label"] declarations and no subgraph blocks. Nested
// states are flattened, with an edge from the parent to each child entry
// labelled by the child's name.
func RenderMermaidForCLI(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	displayID := make(map[string]string)
	var index func(nodes []*Node)
	index = func(nodes []*Node) {
		for _, node := range nodes {
			displayID[node.ID] = cliNodeID(node)
			for _, sg := range node.Children {
				index(sg.Nodes)
			}
		}
	}
	index(model.Nodes)

	resolve := func(id string) string {
		if d, ok := displayID[id]; ok {
			return d
		}
		return mermaidSafeID(id)
	}
	writeEdge := func(from, to, label string) {
		if label != "" {
			label = fmt.Sprintf("|%s|", label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", resolve(from), label, resolve(to))
	}

	for _, edge := range model.Edges {
		writeEdge(edge.From, edge.To, edge.Label)
	}

	var flatten func(nodes []*Node)
	flatten = func(nodes []*Node) {
		for _, node := range nodes {
			for _, sg := range node.Children {
				if len(sg.Nodes) > 0 {
					writeEdge(node.ID, sg.Nodes[0].ID, sg.Label)
				}
				for _, edge := range sg.Edges {
					writeEdge(edge.From, edge.To, edge.Label)
				}
				flatten(sg.Nodes)
			}
		}
	}
	flatten(model.Nodes)

	return b.String()
}

// cliNodeID builds a mermaid-ascii node id from the first label line.
func cliNodeID(node *Node) string {
	id := firstLine(node.Label)
	if id == "" {
		id = node.ID
	}
	return strings.ReplaceAll(id, " ", "-")
}
