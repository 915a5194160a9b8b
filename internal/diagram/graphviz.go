package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return renderGraphviz(ctx, model, graphviz.PNG)
}

// RenderSVG renders a DiagramModel as an SVG document using graphviz.
func RenderSVG(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return renderGraphviz(ctx, model, graphviz.SVG)
}

func renderGraphviz(ctx context.Context, model *DiagramModel, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer g.Close()

	g.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		g.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node)
	for _, node := range model.Nodes {
		if err := addGraphvizNode(g, g, node, gvNodes); err != nil {
			return nil, err
		}
	}
	addGraphvizEdges(g, model.Edges, gvNodes)

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addGraphvizNode creates node inside parent, then one dashed cluster per
// child subgraph. Edges are always created on the root graph.
func addGraphvizNode(root, parent *cgraph.Graph, node *Node, gvNodes map[string]*cgraph.Node) error {
	gvNode, err := parent.CreateNodeByName(node.ID)
	if err != nil {
		return fmt.Errorf("diagram: create node %s: %w", node.ID, err)
	}
	gvNode.SetLabel(firstLine(node.Label))
	applyNodeStyle(gvNode, node)
	gvNodes[node.ID] = gvNode

	for _, sg := range node.Children {
		sub, err := parent.CreateSubGraphByName("cluster_" + node.ID + "_" + sg.Label)
		if err != nil {
			return fmt.Errorf("diagram: create cluster for %s: %w", node.ID, err)
		}
		sub.SetLabel(sg.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)

		for _, subNode := range sg.Nodes {
			if err := addGraphvizNode(root, sub, subNode, gvNodes); err != nil {
				return err
			}
		}
		addGraphvizEdges(root, sg.Edges, gvNodes)
	}
	return nil
}

func addGraphvizEdges(g *cgraph.Graph, edges []Edge, gvNodes map[string]*cgraph.Node) {
	for _, edge := range edges {
		from, to := gvNodes[edge.From], gvNodes[edge.To]
		if from == nil || to == nil {
			continue
		}
		e, err := g.CreateEdgeByName("", from, to)
		if err == nil && edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}
}

// applyNodeStyle sets graphviz attributes based on node kind.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindTask, NodeKindMap, NodeKindParallel:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindInvoke:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindChoice:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindPass:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case NodeKindWait:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindSucceed, NodeKindFail:
		gvNode.SetShape(cgraph.DoubleCircleShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}

	switch node.Kind {
	case NodeKindSucceed:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case NodeKindFail:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case NodeKindWait:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	}
}
