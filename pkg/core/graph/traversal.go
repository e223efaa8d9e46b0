// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/kernelfusion/pkg/support/sets"
)

// DFSVisit visits every node reachable from heads exactly once, in post-order: a node is
// visited after all its inputs (in order) and then its control dependencies (in order).
//
// The resulting order is a topological order of the graph.
func DFSVisit(heads []NodeEntry, visit func(n *Node)) {
	visited := sets.Make[*Node]()
	var recursion func(n *Node)
	recursion = func(n *Node) {
		if n == nil || visited.Has(n) {
			return
		}
		visited.Insert(n)
		for _, input := range n.Inputs {
			recursion(input.Node)
		}
		for _, dep := range n.ControlDeps {
			recursion(dep)
		}
		visit(n)
	}
	for _, head := range heads {
		recursion(head.Node)
	}
}

// TopologicalOrder returns the nodes reachable from heads in the order visited by DFSVisit.
func TopologicalOrder(heads []NodeEntry) []*Node {
	var order []*Node
	DFSVisit(heads, func(n *Node) { order = append(order, n) })
	return order
}
