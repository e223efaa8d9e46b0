// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference implements the "InferShape" pass: it infers the shape of every node of a graph
// using the graph.FInferShape attribute of their operators, starting from the shapes of the variables.
//
// The result is stored in the graph attribute "shape" (graph.GraphAttrShape), a `[]shapes.Shape` indexed
// by the node ids of graph.IndexedGraph, with the shape of the first output of each node.
package shapeinference

import (
	"maps"

	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"k8s.io/klog/v2"
)

// GraphAttrNumUnknownNodes is set by InferShape with the number of nodes whose shape couldn't be inferred.
const GraphAttrNumUnknownNodes = "shape_num_unknown_nodes"

var inferShapes = graph.GetOpAttr[graph.FInferShape](graph.AttrFInferShape)

func init() {
	graph.RegisterPass("InferShape").
		Describe("infer the shapes of all nodes from the shapes of the variables").
		SetBody(InferShape).
		ProvideGraphAttr(graph.GraphAttrShape, GraphAttrNumUnknownNodes)
}

// entryKey identifies one output of a node of the indexed graph.
type entryKey struct {
	id, index uint32
}

// InferShape returns a copy of g with the graph attributes "shape" and "shape_num_unknown_nodes" set.
//
// Shapes are seeded from the variables (their parsed attributes hold their shapes.Shape) and from the "shape"
// attribute of g, if it is already set. Then the FInferShape of every node not resolved yet is called, in
// topological order, until a round makes no progress. Operators without FInferShape are skipped.
//
// FInferShape functions panic on inconsistent shapes, and the panic is propagated.
func InferShape(g *graph.Graph) *graph.Graph {
	idx := g.Indexed()
	nodes := idx.Nodes()
	known := make(map[entryKey]shapes.Shape, len(nodes))
	if prev, found := graph.LookupAttr[[]shapes.Shape](g, graph.GraphAttrShape); found && len(prev) == len(nodes) {
		for id, s := range prev {
			if s.Known() {
				known[entryKey{id: uint32(id)}] = s.Clone()
			}
		}
	}
	for _, id := range idx.InputNodes() {
		key := entryKey{id: id}
		if _, found := known[key]; found {
			continue
		}
		if s := idx.Node(id).VariableShape(); s.Known() {
			known[key] = s.Clone()
		}
	}

	resolved := make([]bool, len(nodes))
	numRounds := 0
	for {
		numRounds++
		progress := false
		for id, node := range nodes {
			if resolved[id] || node.IsVariable() {
				continue
			}
			fn, found := inferShapes.Lookup(node.Op())
			if !found {
				continue
			}
			inKeys := make([]entryKey, len(node.Inputs))
			inShapes := make([]shapes.Shape, len(node.Inputs))
			for i, e := range node.Inputs {
				inKeys[i] = entryKey{id: idx.NodeID(e.Node), index: e.Index}
				inShapes[i] = known[inKeys[i]]
			}
			outShapes := make([]shapes.Shape, node.NumOutputs())
			for i := range outShapes {
				outShapes[i] = known[entryKey{id: uint32(id), index: uint32(i)}]
			}
			done := fn(&node.Attrs, inShapes, outShapes)
			for i, s := range inShapes {
				progress = setShape(known, inKeys[i], s) || progress
			}
			for i, s := range outShapes {
				progress = setShape(known, entryKey{id: uint32(id), index: uint32(i)}, s) || progress
			}
			if done {
				resolved[id] = true
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	nodeShapes := make([]shapes.Shape, len(nodes))
	numUnknown := 0
	for id := range nodes {
		nodeShapes[id] = known[entryKey{id: uint32(id)}]
		if !nodeShapes[id].Known() {
			numUnknown++
		}
	}
	klog.V(1).Infof("InferShape: %d nodes, %d unknown shapes after %d rounds", len(nodes), numUnknown, numRounds)

	ret := &graph.Graph{Outputs: g.Outputs, Attrs: maps.Clone(g.Attrs)}
	ret.SetAttr(graph.GraphAttrShape, nodeShapes)
	ret.SetAttr(GraphAttrNumUnknownNodes, numUnknown)
	return ret
}

// setShape records s for key if it is known and key wasn't known yet, and returns whether it did.
func setShape(known map[entryKey]shapes.Shape, key entryKey, s shapes.Shape) bool {
	if !s.Known() {
		return false
	}
	if _, found := known[key]; found {
		return false
	}
	known[key] = s.Clone()
	return true
}
