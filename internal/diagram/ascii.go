package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders a model as a vertical flow of box-drawn steps. Step
// boxes carry their zero-based index so branch annotations can point at
// them; decision branches are listed under their box as "name → target"
// lines and parallel sub-steps as an indented tree.
func RenderASCII(m *Model) string {
	var b strings.Builder

	if m.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", m.Title))
	}

	labels := displayLabels(m)
	for i, node := range m.Nodes {
		writeBox(&b, labels[node.ID])
		if node.Kind == NodeKindDecision {
			writeBranchLines(&b, m, node.ID, labels)
		}
		if len(node.Children) > 0 {
			writeChildLines(&b, node.Children, "  ")
		}
		if i < len(m.Nodes)-1 {
			b.WriteString("    │\n    ▼\n")
		}
	}

	return b.String()
}

// displayLabels maps node IDs to their rendered labels. Step nodes get an
// index prefix; the virtual start and end nodes keep their plain labels.
func displayLabels(m *Model) map[string]string {
	labels := make(map[string]string, len(m.Nodes))
	index := 0
	for _, node := range m.Nodes {
		switch node.Kind {
		case NodeKindStart, NodeKindEnd:
			labels[node.ID] = node.Label
		default:
			labels[node.ID] = fmt.Sprintf("%d: %s", index, node.Label)
			index++
		}
	}
	return labels
}

// writeBox draws a single box-drawn label.
func writeBox(b *strings.Builder, label string) {
	width := len(label) + 2
	b.WriteString("┌" + strings.Repeat("─", width) + "┐\n")
	b.WriteString("│ " + label + " │\n")
	b.WriteString("└" + strings.Repeat("─", width) + "┘\n")
}

// writeBranchLines annotates a decision box with its outgoing branches.
func writeBranchLines(b *strings.Builder, m *Model, id string, labels map[string]string) {
	var out []Edge
	for _, e := range m.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	for i, e := range out {
		b.WriteString("  " + treeTick(i == len(out)-1))
		b.WriteString(fmt.Sprintf(" %s → %s\n", e.Label, labels[e.To]))
	}
}

// writeChildLines lists parallel sub-steps as a tree, recursing through
// nested parallels.
func writeChildLines(b *strings.Builder, children []*Node, indent string) {
	for i, child := range children {
		b.WriteString(indent + treeTick(i == len(children)-1))
		b.WriteString(" " + child.Label + "\n")
		if len(child.Children) > 0 {
			writeChildLines(b, child.Children, indent+"    ")
		}
	}
}

func treeTick(last bool) string {
	if last {
		return "└─"
	}
	return "├─"
}
