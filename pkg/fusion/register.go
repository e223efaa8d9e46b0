// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/kernelfusion/pkg/core/graph"
)

func init() {
	// The fused operator is elementwise, so its shape can be inferred with FusionShape, but it has no FCodeGen:
	// a fused node is never merged into another one.
	graph.RegisterOp(OpName).
		Describe("fused chain of elementwise operators, see the graph attribute \"internal_graph\"").
		SetElementWise().
		SetInferShape(FusionShape)

	graph.RegisterPass("Fusion").
		Describe("merge chains of elementwise operators into fused nodes").
		SetBody(Fusion).
		SetChangeGraph(true).
		DependGraphAttr(graph.GraphAttrShape).
		ProvideGraphAttr(GraphAttrInternalGraph)

	graph.RegisterPass("CodeGen").
		Describe("generate the kernel source of each fused node").
		SetBody(CodeGen).
		DependGraphAttr(GraphAttrInternalGraph).
		ProvideGraphAttr(GraphAttrKernel)
}
