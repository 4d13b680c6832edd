package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a model as a PNG image using graphviz.
func RenderImage(m *Model) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if m.Title != "" {
		graph.SetLabel(m.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(m.Nodes))
	for _, node := range m.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeShape(gvNode, node.Kind)
		gvNodes[node.ID] = gvNode
	}

	// Parallel sub-steps live in dashed clusters anchored under their node.
	for _, node := range m.Nodes {
		if len(node.Children) > 0 {
			if err := addCluster(graph, gvNodes, node); err != nil {
				return nil, err
			}
		}
	}

	for _, edge := range m.Edges {
		from, to := gvNodes[edge.From], gvNodes[edge.To]
		if from == nil || to == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", from, to)
		if eErr == nil && edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// addCluster creates a dashed cluster for a parallel node's sub-steps and
// ties each one to its parent with a dashed edge.
func addCluster(graph *cgraph.Graph, gvNodes map[string]*cgraph.Node, node *Node) error {
	sub, err := graph.CreateSubGraphByName("cluster_" + node.ID)
	if err != nil {
		return fmt.Errorf("diagram: create cluster %s: %w", node.ID, err)
	}
	sub.SetLabel(node.Label)
	sub.SetStyle(cgraph.DashedGraphStyle)

	for _, child := range node.Children {
		gvChild, nErr := sub.CreateNodeByName(child.ID)
		if nErr != nil {
			continue
		}
		gvChild.SetLabel(child.Label)
		applyNodeShape(gvChild, child.Kind)
		gvNodes[child.ID] = gvChild

		if parent := gvNodes[node.ID]; parent != nil {
			if e, eErr := graph.CreateEdgeByName("", parent, gvChild); eErr == nil {
				e.SetStyle(cgraph.DashedEdgeStyle)
			}
		}

		if len(child.Children) > 0 {
			if err := addCluster(graph, gvNodes, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNodeShape sets the graphviz shape for a node kind.
func applyNodeShape(gvNode *cgraph.Node, kind NodeKind) {
	switch kind {
	case NodeKindDecision:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindDelay:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}
}
