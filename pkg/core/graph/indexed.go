// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
)

// IndexedGraph numbers the nodes of a Graph in topological (DFSVisit) order: the node id is
// the position of the node in that order.
//
// Graph attributes that hold per-node information (like "shape" or "kernel") are indexed by these ids.
type IndexedGraph struct {
	nodes      []*Node
	ids        map[*Node]uint32
	inputNodes []uint32
	outputs    []NodeEntry
}

// NewIndexedGraph indexes the nodes of g.
func NewIndexedGraph(g *Graph) *IndexedGraph {
	idx := &IndexedGraph{
		ids:     make(map[*Node]uint32),
		outputs: g.Outputs,
	}
	DFSVisit(g.Outputs, func(n *Node) {
		id := uint32(len(idx.nodes))
		idx.nodes = append(idx.nodes, n)
		idx.ids[n] = id
		if n.IsVariable() {
			idx.inputNodes = append(idx.inputNodes, id)
		}
	})
	return idx
}

// NumNodes returns the number of nodes in the graph.
func (idx *IndexedGraph) NumNodes() int { return len(idx.nodes) }

// Node returns the node with the given id.
func (idx *IndexedGraph) Node(id uint32) *Node { return idx.nodes[id] }

// Nodes returns all nodes, indexed by their ids. It shouldn't be modified.
func (idx *IndexedGraph) Nodes() []*Node { return idx.nodes }

// LookupNodeID returns the id of node n, and whether it is part of the graph.
func (idx *IndexedGraph) LookupNodeID(n *Node) (id uint32, found bool) {
	id, found = idx.ids[n]
	return
}

// NodeID returns the id of node n. It panics if n is not part of the graph.
func (idx *IndexedGraph) NodeID(n *Node) uint32 {
	id, found := idx.ids[n]
	if !found {
		exceptions.Panicf("node %s is not part of the indexed graph", n)
	}
	return id
}

// InputNodes returns the ids of the variable nodes, in topological order.
func (idx *IndexedGraph) InputNodes() []uint32 { return idx.inputNodes }

// Outputs returns the output entries of the graph.
func (idx *IndexedGraph) Outputs() []NodeEntry { return idx.outputs }
