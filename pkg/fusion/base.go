// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion implements the fusion of chains of elementwise operators into single "fused" nodes,
// and the generation of the per-element kernel source of each fused node.
//
// Two passes are registered (see graph.ApplyPasses):
//
//   - "Fusion": merges every elementwise producer used only once into its elementwise consumer,
//     replacing each chain by a node of the "fusion_op" operator. The chain itself is kept in the
//     graph attribute "internal_graph", one InternalGraph per fused node.
//   - "CodeGen": generates the source of one kernel per fused node, stored in the graph attribute "kernel".
//
// Operators take part in the fusion if they are elementwise (graph.AttrIsElementWise) and
// have an FCodeGen attribute, see SetCodeGen.
package fusion

import (
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/fusion/ast"
)

const (
	// OpName is the name of the operator of the fused nodes.
	OpName = "fusion_op"

	// AttrFCodeGen is the operator attribute holding its FCodeGen.
	AttrFCodeGen = "FCodeGen"

	// GraphAttrTimes is set by Fusion on its input graph: a TimesMap with the number of uses of each node.
	GraphAttrTimes = "times"

	// GraphAttrInternalGraph is set by Fusion: an InternalGraphMap from each fused node to its InternalGraph.
	GraphAttrInternalGraph = "internal_graph"

	// GraphAttrKernel is set by CodeGen: a KernelMap from the node id of each fused node to its Kernel.
	GraphAttrKernel = "kernel"

	// GraphAttrKernelDType optionally sets the dtypes.DType of the generated kernels. Default is Float32.
	GraphAttrKernelDType = "kernel_dtype"
)

// FCodeGen generates the expression that computes one element of the output of node, given the
// expressions of the corresponding elements of its inputs.
//
// It returns one expression per output of the node, and there must be at least one: only the first
// is used.
type FCodeGen func(node *graph.Node, inputs []ast.Expr) []ast.Expr

// InternalGraph is the body of one fused node. It has exactly one output, the root of the fused expression,
// and its leaves are fresh variable nodes (with the shape of the corresponding input in their parsed
// attributes), one per input of the fused node and in the same order.
type InternalGraph = graph.Graph

// InternalGraphMap maps each fused node to its InternalGraph.
type InternalGraphMap map[*graph.Node]*InternalGraph

// TimesMap holds the number of uses of each node: once per input edge referring to it, and once per
// graph output referring to it.
type TimesMap map[*graph.Node]uint32

// Kernel is the generated source of one fused node.
type Kernel struct {
	Name   string
	Source string
}

// KernelMap maps the node id (see graph.IndexedGraph) of each fused node to its Kernel.
type KernelMap map[uint32]Kernel

var (
	isElementWise = graph.GetOpAttr[bool](graph.AttrIsElementWise)
	codeGens      = graph.GetOpAttr[FCodeGen](AttrFCodeGen)
)

// SetCodeGen sets the FCodeGen attribute of op.
func SetCodeGen(op *graph.Op, gen FCodeGen) *graph.Op {
	return op.SetAttr(AttrFCodeGen, gen)
}

// HasCodeGen returns whether op has an FCodeGen set.
func HasCodeGen(op *graph.Op) bool {
	return codeGens.Has(op)
}
