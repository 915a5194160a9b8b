package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/stepflow/pkg/graph"
)

// Build constructs a DiagramModel from a rendered graph. States are laid out
// breadth-first from StartAt; map iterators and parallel branches become
// SubGraph children of their node.
func Build(def *graph.Definition, title string) (*DiagramModel, error) {
	if def == nil || def.StartAt == "" {
		return nil, fmt.Errorf("diagram: definition has no start state")
	}

	w, err := walk(def)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(w.nodes)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	nodes = append(nodes, w.nodes...)
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(w.edges)+len(w.terminals)+1)
	edges = append(edges, Edge{From: StartID, To: def.StartAt})
	edges = append(edges, w.edges...)
	for _, id := range w.terminals {
		edges = append(edges, Edge{From: id, To: EndID})
	}

	levels := make([][]string, 0, len(w.levels)+2)
	levels = append(levels, []string{StartID})
	levels = append(levels, w.levels...)
	levels = append(levels, []string{EndID})

	if title == "" {
		title = "Program"
	}
	return &DiagramModel{Title: title, Nodes: nodes, Edges: edges, Levels: levels}, nil
}

// walked is one Definition flattened into nodes and edges.
type walked struct {
	nodes     []*Node
	edges     []Edge
	levels    [][]string
	terminals []string // states that end the program
}

func walk(def *graph.Definition) (*walked, error) {
	w := &walked{}
	depth := map[string]int{def.StartAt: 0}
	queue := []string{def.StartAt}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		sd, ok := def.States[id]
		if !ok || sd == nil {
			return nil, fmt.Errorf("diagram: unknown state %q", id)
		}

		node, err := stateToNode(id, sd)
		if err != nil {
			return nil, err
		}
		w.nodes = append(w.nodes, node)

		d := depth[id]
		if d == len(w.levels) {
			w.levels = append(w.levels, nil)
		}
		w.levels[d] = append(w.levels[d], id)

		for _, e := range outgoing(id, sd) {
			w.edges = append(w.edges, e)
			if _, seen := depth[e.To]; !seen {
				depth[e.To] = d + 1
				queue = append(queue, e.To)
			}
		}
		if sd.End || sd.Type == graph.KindSucceed || sd.Type == graph.KindFail {
			w.terminals = append(w.terminals, id)
		}
	}
	return w, nil
}

// outgoing lists the edges of a state in a stable order: next, choices,
// default, catches.
func outgoing(id string, sd *graph.StateDefinition) []Edge {
	var edges []Edge
	if sd.Next != "" {
		edges = append(edges, Edge{From: id, To: sd.Next})
	}
	for _, c := range sd.Choices {
		edges = append(edges, Edge{From: id, To: c.Next, Label: c.Condition.Expression})
	}
	if sd.Default != "" {
		edges = append(edges, Edge{From: id, To: sd.Default, Label: "otherwise"})
	}
	for _, c := range sd.Catch {
		label := "catch"
		if len(c.Errors) > 0 {
			label += ": " + strings.Join(c.Errors, ",")
		}
		edges = append(edges, Edge{From: id, To: c.Next, Label: label})
	}
	return edges
}

func stateToNode(id string, sd *graph.StateDefinition) (*Node, error) {
	node := &Node{ID: id, Label: nodeLabel(id, sd), Kind: NodeKind(sd.Type)}

	switch sd.Type {
	case graph.KindMap:
		if sd.Iterator != nil {
			sg, err := subGraph("iterator", sd.Iterator)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, sg)
		}
	case graph.KindParallel:
		for i, b := range sd.Branches {
			if b == nil {
				continue
			}
			sg, err := subGraph(fmt.Sprintf("branch_%d", i), b)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, sg)
		}
	}
	return node, nil
}

func subGraph(label string, def *graph.Definition) (*SubGraph, error) {
	if def.StartAt == "" {
		return &SubGraph{Label: label}, nil
	}
	w, err := walk(def)
	if err != nil {
		return nil, err
	}
	return &SubGraph{Label: label, Nodes: w.nodes, Edges: w.edges}, nil
}

// nodeLabel names the state and, for work states, what it runs.
func nodeLabel(id string, sd *graph.StateDefinition) string {
	switch {
	case sd.Function != "":
		return fmt.Sprintf("%s\n(%s)", id, sd.Function)
	case sd.Resource != "":
		return fmt.Sprintf("%s\n(%s)", id, sd.Resource)
	default:
		return id
	}
}
