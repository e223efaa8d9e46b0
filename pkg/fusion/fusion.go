// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// fuser holds the state of one invocation of Fusion.
type fuser struct {
	src    *graph.Graph
	idx    *graph.IndexedGraph
	shapes []shapes.Shape
	times  TimesMap

	// internal maps outer nodes to their counterpart in an internal graph.
	internal map[*graph.Node]*graph.Node

	// mirror maps outer nodes to the node replacing them in the returned graph: the fused node
	// for the nodes that were fused, or a copy with redirected inputs for their users.
	mirror map[*graph.Node]*graph.Node

	internalGraphs InternalGraphMap

	// numFusionNodes is used to name the fused nodes, starting at firstFusionID.
	numFusionNodes int
	firstFusionID  int
}

// Fusion merges chains of elementwise operators of src into fused nodes, and returns the new graph.
//
// A producer is merged into its consumer if both are elementwise and have an FCodeGen, and the
// producer has one output used only once (see IsFusible). Merging is greedy: nodes are visited
// from the outputs to the inputs, so a whole chain ends up in one fused node.
//
// src must have the graph attribute "shape" set. Fusion sets the attribute "times" on src,
// and the returned graph has the attribute "internal_graph" (an InternalGraphMap). The "kernel_dtype"
// attribute is carried over, the "shape" one is not: node ids change.
//
// If src already has fused nodes (with their "internal_graph" attribute), their internal graphs are
// kept in the returned graph, and the new fused nodes are numbered after them.
//
// Nodes of src are not modified: nodes whose inputs must change are copied.
func Fusion(src *graph.Graph) *graph.Graph {
	f := &fuser{
		src:            src,
		idx:            src.Indexed(),
		shapes:         graph.GetAttr[[]shapes.Shape](src, graph.GraphAttrShape),
		internal:       make(map[*graph.Node]*graph.Node),
		mirror:         make(map[*graph.Node]*graph.Node),
		internalGraphs: make(InternalGraphMap),
	}
	if len(f.shapes) != f.idx.NumNodes() {
		exceptions.Panicf("Fusion: graph attribute %q has %d shapes, but the graph has %d nodes",
			graph.GraphAttrShape, len(f.shapes), f.idx.NumNodes())
	}

	previous := f.previousFusions()

	topoOrder := f.countTimes()
	src.SetAttr(GraphAttrTimes, f.times)

	// Consumers are visited before their producers.
	numMerged := 0
	for _, node := range slices.Backward(topoOrder) {
		toBeMerged := sets.Make[*graph.Node]()
		if !f.setupFusion(node, toBeMerged) {
			continue
		}
		fnode := f.fusionNode(node)
		mergeIntoInputs(fnode, toBeMerged)
		f.mirror[node] = fnode
		for merged := range toBeMerged {
			if !merged.IsVariable() {
				f.mirror[merged] = fnode
			}
		}
		numMerged += toBeMerged.Len()
	}

	f.remap()
	f.update()
	for fnode, internalGraph := range previous {
		if target, found := f.mirror[fnode]; found {
			fnode = target
		}
		f.internalGraphs[fnode] = internalGraph
	}

	ret := graph.New()
	for _, e := range src.Outputs {
		if target, found := f.mirror[e.Node]; found {
			ret.Outputs = append(ret.Outputs, graph.NodeEntry{Node: target, Index: e.Index, Version: e.Version + 1})
		} else {
			ret.Outputs = append(ret.Outputs, e)
		}
	}
	ret.SetAttr(GraphAttrInternalGraph, f.internalGraphs)
	ret.CopyAttrs(src, GraphAttrKernelDType)
	klog.V(1).Infof("Fusion: %d fused nodes created, %d nodes merged", f.numFusionNodes, numMerged)
	if klog.V(2).Enabled() {
		for fnode, internalGraph := range f.internalGraphs {
			klog.Infof("Fusion: internal graph of %q:\n%s", fnode.Name(), graph.TreeString(internalGraph.Outputs[0].Node))
		}
	}
	return ret
}

// previousFusions returns the internal graphs of the fused nodes of src created by a previous Fusion,
// and sets firstFusionID after their numbers.
func (f *fuser) previousFusions() InternalGraphMap {
	previous, found := graph.LookupAttr[InternalGraphMap](f.src, GraphAttrInternalGraph)
	if !found {
		return nil
	}
	kept := make(InternalGraphMap)
	for _, n := range f.idx.Nodes() {
		internalGraph, found := previous[n]
		if !found {
			continue
		}
		kept[n] = internalGraph
		var id int
		if _, err := fmt.Sscanf(n.Name(), "fusion%d", &id); err == nil && id >= f.firstFusionID {
			f.firstFusionID = id + 1
		}
	}
	return kept
}

// countTimes returns the nodes in topological order, and counts the uses of each node.
// The count is computed once: fusing nodes doesn't update it.
func (f *fuser) countTimes() []*graph.Node {
	f.times = make(TimesMap)
	var topoOrder []*graph.Node
	graph.DFSVisit(f.src.Outputs, func(n *graph.Node) {
		topoOrder = append(topoOrder, n)
		for _, input := range n.Inputs {
			f.times[input.Node]++
		}
	})
	for _, e := range f.src.Outputs {
		f.times[e.Node]++
	}
	return topoOrder
}

// IsFusible returns whether producer can be merged into the fused group of consumer in graph g:
// both must be elementwise operators with an FCodeGen and a single output, and producer's output
// must be used only once, according to the "times" attribute of g.
//
// The fused operator has one output, so consumers with more outputs are never fused.
//
// Shapes are not checked: the fused operator reconciles them, see FusionShape.
func IsFusible(g *graph.Graph, consumer, producer *graph.Node) bool {
	if consumer.Op() == nil || producer.Op() == nil {
		return false
	}
	if !isElementWise.Has(consumer.Op()) || !isElementWise.Has(producer.Op()) {
		return false
	}
	if !codeGens.Has(consumer.Op()) || !codeGens.Has(producer.Op()) {
		return false
	}
	if consumer.NumOutputs() != 1 || producer.NumOutputs() != 1 {
		return false
	}
	times := graph.GetAttr[TimesMap](g, GraphAttrTimes)
	return times[producer] == 1
}

// newInternalNode creates the internal counterpart of n: same attributes, and a fresh variable
// for each of its inputs.
func (f *fuser) newInternalNode(n *graph.Node) *graph.Node {
	internal := graph.WithAttrs(n.Attrs)
	internal.Inputs = make([]graph.NodeEntry, 0, len(n.Inputs))
	for _, input := range n.Inputs {
		internal.Inputs = append(internal.Inputs, graph.NodeEntry{Node: f.newVariableNode(input.Node)})
	}
	return internal
}

// newVariableNode creates a variable to stand for n in an internal graph, with the shape of n.
func (f *fuser) newVariableNode(n *graph.Node) *graph.Node {
	return graph.NewVariable("var", f.shapes[f.idx.NodeID(n)].Clone())
}

// internalNode returns the internal counterpart of n, creating it if needed.
func (f *fuser) internalNode(n *graph.Node) *graph.Node {
	internal, found := f.internal[n]
	if !found {
		internal = f.newInternalNode(n)
		f.internal[n] = internal
	}
	return internal
}

// setupFusion inserts into toBeMerged the inputs of node that can be fused into it, and splices
// their internal counterparts into the internal counterpart of node.
//
// It returns whether any input is to be merged.
func (f *fuser) setupFusion(node *graph.Node, toBeMerged sets.Set[*graph.Node]) bool {
	internal := f.internalNode(node)
	needFusion := false
	for i, input := range node.Inputs {
		if !IsFusible(f.src, node, input.Node) {
			continue
		}
		klog.V(2).Infof("Fusion: merging %q into %q", input.Node.Name(), node.Name())
		needFusion = true
		toBeMerged.Insert(input.Node)
		internal.Inputs[i] = graph.NodeEntry{
			Node:    f.internalNode(input.Node),
			Index:   0,
			Version: input.Version + 1,
		}
	}
	return needFusion
}

// fusionNode returns the fused node for node: the one it was already merged into, or a new one.
func (f *fuser) fusionNode(node *graph.Node) *graph.Node {
	if fnode, found := f.mirror[node]; found {
		klog.V(1).Infof("Fusion: %q reuses fused node %q", node.Name(), fnode.Name())
		return fnode
	}
	fnode := &graph.Node{
		Attrs: graph.NodeAttrs{
			Op:   graph.GetOp(OpName),
			Name: fmt.Sprintf("fusion%d", f.firstFusionID+f.numFusionNodes),
		},
		Inputs:      slices.Clone(node.Inputs),
		ControlDeps: slices.Clone(node.ControlDeps),
	}
	f.numFusionNodes++
	f.internalGraphs[fnode] = graph.New(graph.NodeEntry{Node: f.internal[node]})
	klog.V(1).Infof("Fusion: created fused node %q for %q", fnode.Name(), node.Name())
	return fnode
}

// mergeIntoInputs replaces each input of fnode that is to be merged by the inputs of that node, in place,
// and adds the control dependencies of the merged nodes to fnode.
func mergeIntoInputs(fnode *graph.Node, toBeMerged sets.Set[*graph.Node]) {
	inputs := make([]graph.NodeEntry, 0, len(fnode.Inputs))
	deps := sets.MakeWith(fnode.ControlDeps...)
	for _, input := range fnode.Inputs {
		if !toBeMerged.Has(input.Node) {
			inputs = append(inputs, input)
			continue
		}
		inputs = append(inputs, input.Node.Inputs...)
		for _, dep := range input.Node.ControlDeps {
			if deps.InsertNew(dep) {
				fnode.ControlDeps = append(fnode.ControlDeps, dep)
			}
		}
	}
	fnode.Inputs = inputs
}

// remap creates a copy, with inputs and control dependencies redirected, of every node that is not
// mapped but uses a mapped node, and maps it to its copy.
//
// Nodes are visited in topological order, so inputs are mapped before their users.
func (f *fuser) remap() {
	graph.DFSVisit(f.src.Outputs, func(n *graph.Node) {
		if _, found := f.mirror[n]; found {
			return
		}
		needMap := false
		newNode := graph.WithAttrs(n.Attrs)
		newNode.Inputs = make([]graph.NodeEntry, 0, len(n.Inputs))
		for _, e := range n.Inputs {
			if target, found := f.mirror[e.Node]; found {
				needMap = true
				newNode.Inputs = append(newNode.Inputs, graph.NodeEntry{Node: target, Index: e.Index, Version: e.Version + 1})
			} else {
				newNode.Inputs = append(newNode.Inputs, e)
			}
		}
		for _, dep := range n.ControlDeps {
			if target, found := f.mirror[dep]; found {
				needMap = true
				newNode.ControlDeps = append(newNode.ControlDeps, target)
			} else {
				newNode.ControlDeps = append(newNode.ControlDeps, dep)
			}
		}
		if needMap {
			f.mirror[n] = newNode
		}
	})
}

// update redirects the inputs and control dependencies of the mapped nodes (fused nodes and copies)
// that still refer to mapped nodes: fused nodes take as inputs the original inputs of the nodes they merged.
//
// A fused node never depends on itself: control dependencies on nodes it merged are dropped.
func (f *fuser) update() {
	done := sets.Make[*graph.Node]()
	for _, target := range f.mirror {
		if !done.InsertNew(target) {
			continue
		}
		for i, e := range target.Inputs {
			if m, found := f.mirror[e.Node]; found {
				target.Inputs[i] = graph.NodeEntry{Node: m, Index: e.Index, Version: e.Version + 1}
			}
		}
		if len(target.ControlDeps) == 0 {
			continue
		}
		deps := make([]*graph.Node, 0, len(target.ControlDeps))
		seen := sets.Make[*graph.Node]()
		for _, dep := range target.ControlDeps {
			if m, found := f.mirror[dep]; found {
				dep = m
			}
			if dep == target || !seen.InsertNew(dep) {
				continue
			}
			deps = append(deps, dep)
		}
		target.ControlDeps = deps
	}
}
