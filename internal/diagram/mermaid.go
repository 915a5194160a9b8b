package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ")
	}
	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, "    ")
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef fail fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef wait fill:#b7791a,stroke:#8a5c14,color:#fff\n")

	var classify func(nodes []*Node)
	classify = func(nodes []*Node) {
		for _, node := range nodes {
			if cls := mermaidKindClass(node.Kind); cls != "" {
				fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
			}
			for _, sg := range node.Children {
				classify(sg.Nodes)
			}
		}
	}
	classify(model.Nodes)

	return b.String()
}

// writeMermaidNode writes a node definition followed by one subgraph block
// per child, nesting as deep as the model does.
func writeMermaidNode(b *strings.Builder, node *Node, indent string) {
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))
	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[\"%s: %s\"]\n",
			indent, mermaidSafeID(node.ID+"_"+sg.Label), node.ID, sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, indent+"    ")
		}
		for _, edge := range sg.Edges {
			writeMermaidEdge(b, edge, indent+"    ")
		}
		fmt.Fprintf(b, "%send\n", indent)
	}
}

func writeMermaidEdge(b *strings.Builder, edge Edge, indent string) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindChoice:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindInvoke:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindPass:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindMap, NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindSucceed:
		return fmt.Sprintf("%s(%q)", id, label)
	case NodeKindFail:
		return fmt.Sprintf("%s>%q]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default: // task
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel keeps edge labels from closing the |...| delimiters.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer("|", "#124;", "\"", "#quot;").Replace(s)
}

func mermaidKindClass(kind NodeKind) string {
	switch kind {
	case NodeKindSucceed:
		return "succeed"
	case NodeKindFail:
		return "fail"
	case NodeKindWait:
		return "wait"
	default:
		return ""
	}
}
