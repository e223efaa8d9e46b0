// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	"github.com/gomlx/kernelfusion/pkg/fusion/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// genExpr generates the expression of a node with the given operator applied to variables a, b, ...
func genExpr(t *testing.T, opName string, numInputs int, dict map[string]string) string {
	t.Helper()
	names := []string{"a", "b"}
	inputs := make([]*graph.Node, numInputs)
	for i := range inputs {
		inputs[i] = graph.NewVariable("var", shapes.Unknown())
	}
	n := graph.NewNode(graph.GetOp(opName), opName, inputs...)
	n.Attrs.Dict = dict
	exprs := make([]ast.Expr, numInputs)
	for i := range exprs {
		exprs[i] = ast.NewVar(names[i])
	}
	return ast.CodeGen(fusion.GenerateExpr(n, exprs))
}

func TestElementWiseCodeGen(t *testing.T) {
	testCases := []struct {
		op        string
		numInputs int
		want      string
	}{
		{Add, 2, "(a + b)"},
		{Sub, 2, "(a - b)"},
		{Mul, 2, "(a * b)"},
		{Div, 2, "(a / b)"},
		{Maximum, 2, "fmaxf(a, b)"},
		{Minimum, 2, "fminf(a, b)"},
		{Negative, 1, "(0 - a)"},
		{Exp, 1, "expf(a)"},
		{Log, 1, "logf(a)"},
		{Sqrt, 1, "sqrtf(a)"},
		{Tanh, 1, "tanhf(a)"},
		{Abs, 1, "fabsf(a)"},
		{Relu, 1, "fmaxf(a, float(0.000000))"},
		{Sigmoid, 1, "(float(1.000000) / (float(1.000000) + expf((0 - a))))"},
		{Identity, 1, "a"},
	}
	isElementWise := graph.GetOpAttr[bool](graph.AttrIsElementWise)
	inferShapes := graph.GetOpAttr[graph.FInferShape](graph.AttrFInferShape)
	for _, tc := range testCases {
		t.Run(tc.op, func(t *testing.T) {
			op := graph.GetOp(tc.op)
			assert.True(t, isElementWise.Has(op))
			assert.True(t, inferShapes.Has(op))
			assert.True(t, fusion.HasCodeGen(op))
			assert.Equal(t, tc.want, genExpr(t, tc.op, tc.numInputs, nil))
		})
	}
	require.Panics(t, func() { genExpr(t, Add, 1, nil) }, "wrong number of inputs")
}

func TestScale(t *testing.T) {
	assert.Equal(t, "(a * float(0.500000))", genExpr(t, Scale, 1, map[string]string{AttrScalar: "0.5"}))
	assert.Equal(t, "(a * float(-3.000000))", genExpr(t, Scale, 1, map[string]string{AttrScalar: "-3"}))
	require.Panics(t, func() { genExpr(t, Scale, 1, nil) })
	require.Panics(t, func() { genExpr(t, Scale, 1, map[string]string{AttrScalar: "two"}) })
}

func TestNonElementWise(t *testing.T) {
	for _, name := range []string{Dot, Sum} {
		op := graph.GetOp(name)
		assert.False(t, graph.GetOpAttr[bool](graph.AttrIsElementWise).Has(op))
		assert.False(t, fusion.HasCodeGen(op))
	}

	attrs := &graph.NodeAttrs{Name: "d"}
	in := []shapes.Shape{shapes.Make(dtypes.Float32, 2, 3), shapes.Unknown()}
	out := []shapes.Shape{shapes.Unknown()}
	assert.False(t, dotShape(attrs, in, out))
	in[1] = shapes.Make(dtypes.Float32, 3, 5)
	require.True(t, dotShape(attrs, in, out))
	assert.Equal(t, []int{2, 5}, out[0].Dimensions)
	in[1] = shapes.Make(dtypes.Float32, 4, 5)
	require.Panics(t, func() { dotShape(attrs, in, []shapes.Shape{shapes.Unknown()}) })

	in = []shapes.Shape{shapes.Make(dtypes.Float64, 2, 3)}
	out = []shapes.Shape{shapes.Unknown()}
	require.True(t, sumShape(attrs, in, out))
	assert.True(t, out[0].Equal(shapes.UnitBroadcast(dtypes.Float64)))
	assert.False(t, sumShape(attrs, []shapes.Shape{shapes.Unknown()}, []shapes.Shape{shapes.Unknown()}))
}
