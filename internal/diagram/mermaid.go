package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a model as a Mermaid flowchart. Parallel sub-steps
// are grouped in a subgraph and anchored under their node with dotted edges.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, node := range m.Nodes {
		b.WriteString("    " + mermaidNodeDef(node) + "\n")
		if len(node.Children) > 0 {
			writeMermaidGroup(&b, node, "    ")
		}
	}

	for _, edge := range m.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", edge.From, label, edge.To))
	}

	for _, node := range m.Nodes {
		writeMermaidAnchors(&b, node)
	}

	return b.String()
}

// writeMermaidGroup emits a subgraph block holding a parallel node's
// sub-steps, nesting further blocks for nested parallels.
func writeMermaidGroup(b *strings.Builder, node *Node, indent string) {
	b.WriteString(fmt.Sprintf("%ssubgraph %s_group[\"%s\"]\n", indent, node.ID, mermaidLabel(node.Label)))
	for _, child := range node.Children {
		b.WriteString(indent + "    " + mermaidNodeDef(child) + "\n")
		if len(child.Children) > 0 {
			writeMermaidGroup(b, child, indent+"    ")
		}
	}
	b.WriteString(indent + "end\n")
}

// writeMermaidAnchors draws dotted containment edges from a parallel node
// to each of its sub-steps.
func writeMermaidAnchors(b *strings.Builder, node *Node) {
	for _, child := range node.Children {
		b.WriteString(fmt.Sprintf("    %s -.-> %s\n", node.ID, child.ID))
		writeMermaidAnchors(b, child)
	}
}

// mermaidNodeDef returns a node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	label := mermaidLabel(node.Label)
	switch node.Kind {
	case NodeKindDecision:
		return fmt.Sprintf("%s{%q}", node.ID, label)
	case NodeKindDelay:
		return fmt.Sprintf("%s([%q])", node.ID, label)
	case NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", node.ID, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", node.ID, label)
	default:
		return fmt.Sprintf("%s[%q]", node.ID, label)
	}
}

// mermaidLabel strips characters that break quoted Mermaid labels.
func mermaidLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}
