package diagram

import (
	"context"
	"fmt"
)

// NodeKind classifies a diagram node by its state type.
type NodeKind string

const (
	NodeKindTask     NodeKind = "task"
	NodeKindInvoke   NodeKind = "invoke"
	NodeKindChoice   NodeKind = "choice"
	NodeKindMap      NodeKind = "map"
	NodeKindParallel NodeKind = "parallel"
	NodeKindPass     NodeKind = "pass"
	NodeKindWait     NodeKind = "wait"
	NodeKindSucceed  NodeKind = "succeed"
	NodeKindFail     NodeKind = "fail"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// Virtual node ids added around the top-level graph.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single state in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Children []*SubGraph // map iterator, parallel branches
}

// SubGraph holds the nested states of a map or parallel node.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// Edge is a transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Format selects an output renderer.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
	FormatPNG     Format = "png"
	FormatSVG     Format = "svg"
)

// Formats lists every supported format.
var Formats = []Format{FormatMermaid, FormatASCII, FormatPNG, FormatSVG}

// ParseFormat validates a format name. The empty string selects mermaid.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatMermaid, nil
	}
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("diagram: unknown format %q (available: %v)", s, Formats)
}

// Binary reports whether the format produces non-text output.
func (f Format) Binary() bool {
	return f == FormatPNG
}

// Renderer dispatches a model to the renderer for a format.
type Renderer struct {
	// MermaidASCIIDir is searched for a mermaid-ascii binary. When empty or
	// missing, the built-in ASCII layout is used.
	MermaidASCIIDir string
}

// Render renders model in the given format.
func (r Renderer) Render(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	switch format {
	case FormatMermaid, "":
		return []byte(RenderMermaid(model)), nil
	case FormatASCII:
		return []byte(RenderASCIIAuto(model, r.MermaidASCIIDir)), nil
	case FormatPNG:
		return RenderImage(ctx, model)
	case FormatSVG:
		return RenderSVG(ctx, model)
	default:
		return nil, fmt.Errorf("diagram: unknown format %q", format)
	}
}
