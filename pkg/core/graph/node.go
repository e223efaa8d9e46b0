// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"maps"
	"strings"

	"github.com/gomlx/kernelfusion/pkg/core/shapes"
)

// Node is a vertex of the computation graph: either an operation (Attrs.Op != nil) or a
// variable (an input to the graph, Attrs.Op == nil).
//
// Nodes are shared: many nodes (and graphs) may refer to the same Node, and its identity is its
// address. So a Node that may be referenced elsewhere is never modified in place: passes that need
// to change the inputs of a node create a new one and redirect its users to it.
type Node struct {
	Attrs NodeAttrs

	// Inputs are the edges of the computation graph, in the order the operation takes them.
	Inputs []NodeEntry

	// ControlDeps are nodes that must be executed before this one, without their values being used.
	ControlDeps []*Node
}

// NodeAttrs holds the static attributes of a node.
type NodeAttrs struct {
	// Op is the operator, nil for variables.
	Op *Op

	// Name of the node. It doesn't need to be unique.
	Name string

	// Dict holds operator specific configuration as strings, e.g.: {"scalar": "2.0"}.
	Dict map[string]string

	// Parsed holds the parsed form of Dict, operator specific. For variables, it holds its shapes.Shape.
	Parsed any
}

// Clone returns a copy of the attributes. Dict is copied, Parsed is shared.
func (attrs NodeAttrs) Clone() NodeAttrs {
	attrs.Dict = maps.Clone(attrs.Dict)
	return attrs
}

// NodeEntry is a reference to one output of a node: it is what nodes take as inputs.
type NodeEntry struct {
	Node *Node

	// Index of the output of Node.
	Index uint32

	// Version is bumped every time an edge is redirected by a pass, it is only a change marker.
	Version uint32
}

// String implements fmt.Stringer.
func (e NodeEntry) String() string {
	if e.Node == nil {
		return "<nil>"
	}
	if e.Index == 0 {
		return e.Node.Attrs.Name
	}
	return fmt.Sprintf("%s:%d", e.Node.Attrs.Name, e.Index)
}

// NewNode creates an operation node that takes as input the first output of each of the given nodes.
func NewNode(op *Op, name string, inputs ...*Node) *Node {
	n := &Node{Attrs: NodeAttrs{Op: op, Name: name}}
	n.Inputs = make([]NodeEntry, 0, len(inputs))
	for _, input := range inputs {
		n.Inputs = append(n.Inputs, input.Entry(0))
	}
	return n
}

// NewVariable creates a variable node with the given shape stored in its parsed attributes.
// The shape may be shapes.Unknown().
func NewVariable(name string, shape shapes.Shape) *Node {
	return &Node{Attrs: NodeAttrs{Name: name, Parsed: shape}}
}

// WithAttrs creates a node with a copy of the given attributes and no inputs.
func WithAttrs(attrs NodeAttrs) *Node {
	return &Node{Attrs: attrs.Clone()}
}

// Entry returns a NodeEntry pointing to the output #index of n.
func (n *Node) Entry(index uint32) NodeEntry {
	return NodeEntry{Node: n, Index: index}
}

// Op returns the operator of the node, or nil if it is a variable.
func (n *Node) Op() *Op { return n.Attrs.Op }

// Name returns the node name.
func (n *Node) Name() string { return n.Attrs.Name }

// IsVariable returns whether the node is a variable, that is, it has no operator.
func (n *Node) IsVariable() bool { return n.Attrs.Op == nil }

// NumOutputs returns the number of outputs of the node. Variables have one.
func (n *Node) NumOutputs() int {
	if n.IsVariable() {
		return 1
	}
	return n.Attrs.Op.NumOutputs()
}

// VariableShape returns the shape stored in a variable node, or shapes.Unknown() if it has none.
func (n *Node) VariableShape() shapes.Shape {
	if s, ok := n.Attrs.Parsed.(shapes.Shape); ok {
		return s
	}
	return shapes.Unknown()
}

// String implements fmt.Stringer, with a one line description of the node.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	if n.IsVariable() {
		_, _ = fmt.Fprintf(&sb, "Variable(%q, %s)", n.Attrs.Name, n.VariableShape())
		return sb.String()
	}
	_, _ = fmt.Fprintf(&sb, "%s(%q", n.Attrs.Op.Name, n.Attrs.Name)
	for _, input := range n.Inputs {
		_, _ = fmt.Fprintf(&sb, ", %s", input)
	}
	sb.WriteString(")")
	return sb.String()
}
