// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/fusion/ast"
	"k8s.io/klog/v2"
)

// CodeGen generates one Kernel for each fused node of g, and returns a graph with the attribute "kernel"
// (a KernelMap, indexed by the node ids of g.Indexed()).
//
// g must have the attribute "internal_graph", see Fusion. The kernels' scalar type is taken from the
// optional attribute "kernel_dtype", see ScalarType.
func CodeGen(g *graph.Graph) *graph.Graph {
	internalGraphs := graph.GetAttr[InternalGraphMap](g, GraphAttrInternalGraph)
	dtype, found := graph.LookupAttr[dtypes.DType](g, GraphAttrKernelDType)
	if !found {
		dtype = dtypes.Float32
	}
	scalarType := ScalarType(dtype)

	kernels := make(KernelMap)
	idx := g.Indexed()
	for nid, node := range idx.Nodes() {
		if node.Op() == nil {
			continue
		}
		internalGraph, found := internalGraphs[node]
		if !found {
			continue
		}
		kernels[uint32(nid)] = KernelCodeGen(node.Name(), internalGraph, scalarType)
		klog.V(1).Infof("CodeGen: generated kernel %q for node #%d", node.Name(), nid)
	}

	ret := &graph.Graph{Outputs: g.Outputs, Attrs: maps.Clone(g.Attrs)}
	ret.SetAttr(GraphAttrKernel, kernels)
	return ret
}

// ScalarType returns the C type used in the kernels for dtype: "float", "double" or "__half".
// It panics for other dtypes.
func ScalarType(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Float32:
		return "float"
	case dtypes.Float64:
		return "double"
	case dtypes.Float16:
		return "__half"
	}
	exceptions.Panicf("CodeGen: kernels of dtype %s are not supported", dtype)
	return ""
}

// KernelCodeGen generates the kernel named kernelName computing internalGraph for each element.
//
// The kernel takes one pointer per variable of the internal graph (x0, x1, ...) in their topological order,
// the output pointer y, and the number of elements. Inputs with the unit broadcast shape `[1]` are read
// at index 0, all others at the index of the element.
func KernelCodeGen(kernelName string, internalGraph *InternalGraph, scalarType string) Kernel {
	if len(internalGraph.Outputs) != 1 {
		exceptions.Panicf("CodeGen: internal graph must have exactly one output, got %d for %q",
			len(internalGraph.Outputs), kernelName)
	}
	root := internalGraph.Outputs[0].Node
	idx := internalGraph.Indexed()
	variableNodes := idx.InputNodes()

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "extern \"C\" __global__ void %s(", kernelName)
	for i := range variableNodes {
		_, _ = fmt.Fprintf(&sb, "%s *x%d, ", scalarType, i)
	}
	_, _ = fmt.Fprintf(&sb, "%s *y, const unsigned int num_elements) {\n", scalarType)
	sb.WriteString("  unsigned int global_idx = blockIdx.x * blockDim.x + threadIdx.x;\n")

	globalIdx := ast.NewVar("global_idx")
	inputs := make([]ast.Expr, 0, len(variableNodes))
	for i, nid := range variableNodes {
		x := ast.NewVar(fmt.Sprintf("x%d", i))
		var index ast.Expr = globalIdx
		if needBroadcast(idx.Node(nid)) {
			index = ast.NewInt(0)
		}
		elemVar := ast.NewVar(fmt.Sprintf("x%de", i))
		_, _ = fmt.Fprintf(&sb, "  %s\n", ast.CodeGen(ast.NewDecl(scalarType, elemVar)))
		_, _ = fmt.Fprintf(&sb, "  %s\n", ast.CodeGen(ast.NewAssign(elemVar, ast.NewSubscript(x, index))))
		inputs = append(inputs, elemVar)
	}

	expr := GenerateExpr(root, inputs)
	sb.WriteString("  if (global_idx < num_elements) {\n")
	_, _ = fmt.Fprintf(&sb, "    y[global_idx] = %s;\n", ast.CodeGen(expr))
	sb.WriteString("  }\n}")
	return Kernel{Name: kernelName, Source: sb.String()}
}

// needBroadcast returns whether the variable of an internal graph has the unit broadcast shape.
func needBroadcast(variable *graph.Node) bool {
	return variable.VariableShape().IsUnitBroadcast()
}

// GenerateExpr returns the expression of the internal node, given the expressions of the variables
// under it, in depth-first left-to-right order.
//
// Each input of node that is a variable takes the next expression of inputs, and each input that is an
// operation takes as many as the variables under it.
// It panics if inputs is too short.
func GenerateExpr(node *graph.Node, inputs []ast.Expr) ast.Expr {
	gen := codeGens.Get(node.Op())
	nodeInputs := make([]ast.Expr, 0, len(node.Inputs))
	pos := 0
	for _, e := range node.Inputs {
		if e.Node.IsVariable() {
			if pos >= len(inputs) {
				exceptions.Panicf("CodeGen: codegen inputs short for node %q: %d inputs given", node.Name(), len(inputs))
			}
			nodeInputs = append(nodeInputs, inputs[pos])
			pos++
			continue
		}
		num := countVariables(e.Node)
		if pos+num > len(inputs) {
			exceptions.Panicf("CodeGen: codegen inputs short for node %q: %d inputs given, %d needed so far",
				node.Name(), len(inputs), pos+num)
		}
		nodeInputs = append(nodeInputs, GenerateExpr(e.Node, inputs[pos:pos+num]))
		pos += num
	}
	outputs := gen(node, nodeInputs)
	if len(outputs) == 0 {
		exceptions.Panicf("CodeGen: FCodeGen of operator %s returned no expressions for node %q", node.Op(), node.Name())
	}
	return outputs[0]
}

// countVariables returns the number of variables in the tree under node.
func countVariables(node *graph.Node) int {
	num := 0
	for _, e := range node.Inputs {
		if e.Node.IsVariable() {
			num++
		} else {
			num += countVariables(e.Node)
		}
	}
	return num
}

// PrintInternal writes the tree of the internal graph, one node per line. For debugging.
func PrintInternal(w io.Writer, internalGraph *InternalGraph) {
	for _, e := range internalGraph.Outputs {
		graph.FprintTree(w, e.Node)
	}
}
