package diagram

import (
	"errors"
	"fmt"

	"github.com/forensicdev/warden/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a Model from a workflow definition. Step nodes are
// identified by zero-based position ("step0", "step1", ...) matching the
// step_index reported in workflow status. Decision branches become labeled
// edges whose target is the step the runtime advances to: one ahead for
// continue, the branch's skip count ahead for skip.
func Build(def *schema.WorkflowDefinition) (*Model, error) {
	if def == nil {
		return nil, errors.New("diagram: nil definition")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("diagram: workflow %q has no steps", def.Type)
	}

	m := &Model{Title: def.Type}
	m.Nodes = append(m.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range def.Steps {
		m.Nodes = append(m.Nodes, stepNode(stepID(i), def.Steps[i]))
	}
	m.Nodes = append(m.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	total := len(def.Steps)
	m.Edges = append(m.Edges, Edge{From: startID, To: stepID(0)})
	for i := range def.Steps {
		step := def.Steps[i]
		if step.Type == schema.StepDecision && step.Decision != nil {
			m.Edges = append(m.Edges, branchEdges(i, step.Decision, total)...)
			continue
		}
		m.Edges = append(m.Edges, Edge{From: stepID(i), To: targetID(i+1, total)})
	}
	return m, nil
}

func stepID(i int) string { return fmt.Sprintf("step%d", i) }

// targetID resolves a step index to a node ID, mapping positions past the
// end of the list to the virtual end node.
func targetID(i, total int) string {
	if i >= total {
		return endID
	}
	return stepID(i)
}

// stepNode maps one step to a diagram node. Parallel sub-steps become
// children with underscore-qualified IDs ("step1_0", "step1_0_2", ...),
// recursing through nested parallels.
func stepNode(id string, step schema.Step) *Node {
	n := &Node{ID: id, Label: string(step.Type), Kind: NodeKindProcess}

	switch step.Type {
	case schema.StepProcess:
		if step.Process != nil {
			n.Label = string(step.Process.ProcessType)
		}
	case schema.StepDecision:
		n.Kind = NodeKindDecision
		n.Label = "decision"
	case schema.StepDelay:
		n.Kind = NodeKindDelay
		if step.Delay != nil {
			n.Label = "delay " + step.Delay.Duration
		}
	case schema.StepParallel:
		n.Kind = NodeKindParallel
		if step.Parallel != nil {
			n.Label = fmt.Sprintf("parallel (%d)", len(step.Parallel.Steps))
			for j := range step.Parallel.Steps {
				child := stepNode(fmt.Sprintf("%s_%d", id, j), step.Parallel.Steps[j])
				n.Children = append(n.Children, child)
			}
		}
	}
	return n
}

// branchEdges emits one edge per reachable decision branch, mirroring the
// runtime's advance rule. An arm without a predicate always takes, so arms
// after it never evaluate; when every arm is conditional the decision falls
// through to the next step.
func branchEdges(i int, d *schema.DecisionStep, total int) []Edge {
	edges := make([]Edge, 0, len(d.Branches)+1)
	from := stepID(i)

	for bi, b := range d.Branches {
		advance := 1
		if b.Action == schema.BranchSkip && b.Skip > 0 {
			advance = b.Skip
		}
		edges = append(edges, Edge{
			From:  from,
			To:    targetID(i+advance, total),
			Label: branchLabel(bi, b),
		})
		if b.When == "" {
			return edges
		}
	}

	edges = append(edges, Edge{From: from, To: targetID(i+1, total), Label: "no match"})
	return edges
}

func branchLabel(i int, b schema.Branch) string {
	if b.Name != "" {
		return b.Name
	}
	if b.When == "" {
		return "default"
	}
	return fmt.Sprintf("branch %d", i)
}
