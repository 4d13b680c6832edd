// Package diagram renders workflow templates as flow diagrams.
//
// Build turns a WorkflowDefinition into a renderer-independent Model;
// RenderASCII, RenderMermaid, and RenderImage turn the model into a
// terminal diagram, a Mermaid flowchart, or a PNG.
package diagram

// NodeKind tags the visual shape of a diagram node.
type NodeKind string

const (
	NodeKindProcess  NodeKind = "process"
	NodeKindDecision NodeKind = "decision"
	NodeKindDelay    NodeKind = "delay"
	NodeKindParallel NodeKind = "parallel"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// Model is the renderer-independent form of a workflow template: one node
// per step between virtual start and end nodes, chain edges following the
// step order, and one labeled edge per decision branch pointing at the step
// the branch lands on.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single diagram element. Children holds the sub-steps of a
// parallel node; they run concurrently and carry no edges of their own.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Children []*Node
}

// Edge connects two nodes by ID. Label carries the branch name on edges
// leaving a decision node.
type Edge struct {
	From  string
	To    string
	Label string
}
