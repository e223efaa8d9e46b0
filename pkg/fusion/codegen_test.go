// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion_test

import (
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	"github.com/gomlx/kernelfusion/pkg/fusion/ast"
	"github.com/gomlx/kernelfusion/pkg/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelCodeGenAdd(t *testing.T) {
	v0, v1 := variable("var", 4), variable("var", 4)
	ig := graph.New(node(ops.Add, "add", v0, v1).Entry(0))
	kernel := fusion.KernelCodeGen("fusion0", ig, "float")
	want := `extern "C" __global__ void fusion0(float *x0, float *x1, float *y, const unsigned int num_elements) {
  unsigned int global_idx = blockIdx.x * blockDim.x + threadIdx.x;
  float x0e;
  x0e = x0[global_idx];
  float x1e;
  x1e = x1[global_idx];
  if (global_idx < num_elements) {
    y[global_idx] = (x0e + x1e);
  }
}`
	assert.Equal(t, "fusion0", kernel.Name)
	assert.Equal(t, want, kernel.Source)
}

func TestCodeGenBroadcast(t *testing.T) {
	x, b := variable("x", 4), variable("b", 1)
	add := node(ops.Add, "add", node(ops.Exp, "e", x), b)
	_, fused := fuse(t, add)
	compiled, err := graph.ApplyPass(fused, "CodeGen")
	require.NoError(t, err)

	kernels := graph.GetAttr[fusion.KernelMap](compiled, fusion.GraphAttrKernel)
	require.Len(t, kernels, 1)
	idx := compiled.Indexed()
	fnode := compiled.Outputs[0].Node
	kernel, found := kernels[idx.NodeID(fnode)]
	require.True(t, found)
	want := `extern "C" __global__ void fusion0(float *x0, float *x1, float *y, const unsigned int num_elements) {
  unsigned int global_idx = blockIdx.x * blockDim.x + threadIdx.x;
  float x0e;
  x0e = x0[global_idx];
  float x1e;
  x1e = x1[0];
  if (global_idx < num_elements) {
    y[global_idx] = (expf(x0e) + x1e);
  }
}`
	assert.Equal(t, want, kernel.Source)

	// CodeGen doesn't change its input graph.
	assert.False(t, fused.HasAttr(fusion.GraphAttrKernel))
	assert.True(t, compiled.HasAttr(fusion.GraphAttrInternalGraph))
}

func TestCodeGenDType(t *testing.T) {
	x := variable("x", 4)
	g := graph.New(node(ops.Relu, "r", node(ops.Negative, "n", x)).Entry(0))
	g.SetAttr(fusion.GraphAttrKernelDType, dtypes.Float64)
	shaped, err := graph.ApplyPasses(g, "InferShape", "Fusion", "CodeGen")
	require.NoError(t, err)
	kernels := graph.GetAttr[fusion.KernelMap](shaped, fusion.GraphAttrKernel)
	require.Len(t, kernels, 1)
	for _, kernel := range kernels {
		assert.True(t, strings.HasPrefix(kernel.Source,
			`extern "C" __global__ void fusion0(double *x0, double *y, const unsigned int num_elements) {`))
		assert.Contains(t, kernel.Source, "  double x0e;\n")
		assert.Contains(t, kernel.Source, "y[global_idx] = fmaxf((0 - x0e), float(0.000000));")
	}

	assert.Equal(t, "float", fusion.ScalarType(dtypes.Float32))
	assert.Equal(t, "double", fusion.ScalarType(dtypes.Float64))
	assert.Equal(t, "__half", fusion.ScalarType(dtypes.Float16))
	require.Panics(t, func() { fusion.ScalarType(dtypes.Int32) })

	g.SetAttr(fusion.GraphAttrKernelDType, dtypes.Int32)
	_, err = graph.ApplyPasses(g, "InferShape", "Fusion", "CodeGen")
	require.Error(t, err)
}

func TestCodeGenNoFusion(t *testing.T) {
	x := variable("x", 4)
	_, fused := fuse(t, node(ops.Sum, "s", x))
	compiled, err := graph.ApplyPass(fused, "CodeGen")
	require.NoError(t, err)
	assert.Empty(t, graph.GetAttr[fusion.KernelMap](compiled, fusion.GraphAttrKernel))
}

func TestGenerateExpr(t *testing.T) {
	v := func() *graph.Node { return graph.NewVariable("var", shapes.Unknown()) }
	// sub(mul(v, exp(v)), scale(v)), with 3 variables.
	scale := node(ops.Scale, "scale", v())
	scale.Attrs.Dict = map[string]string{ops.AttrScalar: "2"}
	root := node(ops.Sub, "sub", node(ops.Mul, "mul", v(), node(ops.Exp, "exp", v())), scale)
	inputs := []ast.Expr{ast.NewVar("a"), ast.NewVar("b"), ast.NewVar("c")}
	got := fusion.GenerateExpr(root, inputs)
	assert.Equal(t, "((a * expf(b)) - (c * float(2.000000)))", ast.CodeGen(got))

	require.Panics(t, func() { fusion.GenerateExpr(root, inputs[:2]) }, "inputs short")
	require.Panics(t, func() { fusion.GenerateExpr(root, inputs[:1]) }, "inputs short")
}

// emptyOp has a code generator that returns no expressions.
var emptyOp = fusion.SetCodeGen(
	graph.RegisterOp("fusion_test_empty").SetElementWise(),
	func(node *graph.Node, inputs []ast.Expr) []ast.Expr { return nil })

func TestGenerateExprNoOutputs(t *testing.T) {
	n := graph.NewNode(emptyOp, "empty", graph.NewVariable("var", shapes.Unknown()))
	require.Panics(t, func() { fusion.GenerateExpr(n, []ast.Expr{ast.NewVar("a")}) })
}

func TestKernelCodeGenSingleOutput(t *testing.T) {
	v := variable("var", 4)
	ig := graph.New(node(ops.Exp, "e", v).Entry(0), node(ops.Tanh, "t", v).Entry(0))
	require.Panics(t, func() { fusion.KernelCodeGen("k", ig, "float") })
	require.Panics(t, func() { fusion.KernelCodeGen("k", graph.New(), "float") })
}

func TestPrintInternal(t *testing.T) {
	x := variable("x", 4)
	_, fused := fuse(t, node(ops.Sqrt, "s", node(ops.Exp, "e", x)))
	fnode := fused.Outputs[0].Node
	var sb strings.Builder
	fusion.PrintInternal(&sb, internalGraphs(fused)[fnode])
	assert.Equal(t, "s\n  | e\n    | var\n", sb.String())
}

func TestCodeGenNestedChain(t *testing.T) {
	const depth = 5
	n := variable("x", 16)
	for range depth {
		n = node(ops.Exp, "e", n)
	}
	_, fused := fuse(t, n)
	compiled, err := graph.ApplyPass(fused, "CodeGen")
	require.NoError(t, err)
	kernels := graph.GetAttr[fusion.KernelMap](compiled, fusion.GraphAttrKernel)
	require.Len(t, kernels, 1)
	want := strings.Repeat("expf(", depth) + "x0e" + strings.Repeat(")", depth)
	for _, kernel := range kernels {
		assert.Contains(t, kernel.Source, "    y[global_idx] = "+want+";\n")
	}
}
