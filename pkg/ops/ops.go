// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops registers the standard operators of the compiler: elementwise arithmetic and math functions,
// that can be fused and have their kernel generated (see package fusion), and a couple of non-elementwise
// operators (dot and sum) that only know how to infer their shapes.
//
// Import it for its side effects:
//
//	import _ "github.com/gomlx/kernelfusion/pkg/ops"
package ops

import (
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	"github.com/gomlx/kernelfusion/pkg/fusion/ast"
)

// Names of the registered operators.
const (
	Add      = "add"
	Sub      = "sub"
	Mul      = "mul"
	Div      = "div"
	Maximum  = "maximum"
	Minimum  = "minimum"
	Negative = "negative"
	Exp      = "exp"
	Log      = "log"
	Sqrt     = "sqrt"
	Tanh     = "tanh"
	Abs      = "abs"
	Relu     = "relu"
	Sigmoid  = "sigmoid"
	Scale    = "scale"
	Identity = "identity"

	Dot = "dot"
	Sum = "sum"
)

// AttrScalar is the node attribute (in NodeAttrs.Dict) with the factor of the "scale" operator.
const AttrScalar = "scalar"

func init() {
	registerBinary(Add, "elementwise x + y", ast.Add)
	registerBinary(Sub, "elementwise x - y", ast.Sub)
	registerBinary(Mul, "elementwise x * y", ast.Mul)
	registerBinary(Div, "elementwise x / y", ast.Div)
	registerBinary(Maximum, "elementwise max(x, y)", callBinary("fmaxf"))
	registerBinary(Minimum, "elementwise min(x, y)", callBinary("fminf"))

	registerUnary(Negative, "elementwise -x", func(x ast.Expr) ast.Expr {
		return ast.Sub(ast.NewInt(0), x)
	})
	registerUnary(Exp, "elementwise e^x", callUnary("expf"))
	registerUnary(Log, "elementwise natural logarithm", callUnary("logf"))
	registerUnary(Sqrt, "elementwise square root", callUnary("sqrtf"))
	registerUnary(Tanh, "elementwise hyperbolic tangent", callUnary("tanhf"))
	registerUnary(Abs, "elementwise absolute value", callUnary("fabsf"))
	registerUnary(Relu, "elementwise max(x, 0)", func(x ast.Expr) ast.Expr {
		return ast.NewCall("fmaxf", x, ast.NewFloat(0))
	})
	registerUnary(Sigmoid, "elementwise 1 / (1 + e^-x)", func(x ast.Expr) ast.Expr {
		one := ast.NewFloat(1)
		return ast.Div(one, ast.Add(one, ast.NewCall("expf", ast.Sub(ast.NewInt(0), x))))
	})
	registerUnary(Identity, "returns its input", func(x ast.Expr) ast.Expr { return x })

	registerElementWise(Scale, "elementwise x * scalar, with the factor in the attribute \"scalar\"",
		func(node *graph.Node, inputs []ast.Expr) []ast.Expr {
			checkNumInputs(node, inputs, 1)
			return []ast.Expr{ast.Mul(inputs[0], ast.NewFloat(ScalarAttr(node)))}
		})

	graph.RegisterOp(Dot).
		Describe("matrix multiplication of x[m, k] and y[k, n]").
		SetInferShape(dotShape)
	graph.RegisterOp(Sum).
		Describe("sum of all elements of x, shaped [1]").
		SetInferShape(sumShape)
}

// registerElementWise registers an elementwise operator with its code generation.
func registerElementWise(name, description string, gen fusion.FCodeGen) {
	op := graph.RegisterOp(name).
		Describe(description).
		SetElementWise().
		SetInferShape(fusion.FusionShape)
	fusion.SetCodeGen(op, gen)
}

func registerUnary(name, description string, fn func(x ast.Expr) ast.Expr) {
	registerElementWise(name, description, func(node *graph.Node, inputs []ast.Expr) []ast.Expr {
		checkNumInputs(node, inputs, 1)
		return []ast.Expr{fn(inputs[0])}
	})
}

func registerBinary(name, description string, fn func(x, y ast.Expr) ast.Expr) {
	registerElementWise(name, description, func(node *graph.Node, inputs []ast.Expr) []ast.Expr {
		checkNumInputs(node, inputs, 2)
		return []ast.Expr{fn(inputs[0], inputs[1])}
	})
}

func callUnary(callee string) func(x ast.Expr) ast.Expr {
	return func(x ast.Expr) ast.Expr { return ast.NewCall(callee, x) }
}

func callBinary(callee string) func(x, y ast.Expr) ast.Expr {
	return func(x, y ast.Expr) ast.Expr { return ast.NewCall(callee, x, y) }
}

func checkNumInputs(node *graph.Node, inputs []ast.Expr, want int) {
	if len(inputs) != want {
		exceptions.Panicf("operator %s (node %q) takes %d inputs, got %d", node.Op(), node.Name(), want, len(inputs))
	}
}

// ScalarAttr returns the factor of a "scale" node, parsed from its attribute "scalar".
// It panics if it is missing or not a number.
func ScalarAttr(node *graph.Node) float64 {
	str, found := node.Attrs.Dict[AttrScalar]
	if !found {
		exceptions.Panicf("node %q: operator %s requires the attribute %q", node.Name(), node.Op(), AttrScalar)
	}
	value, err := strconv.ParseFloat(str, 64)
	if err != nil {
		exceptions.Panicf("node %q: invalid attribute %q=%q: %v", node.Name(), AttrScalar, str, err)
	}
	return value
}

// dotShape infers x[m, k] . y[k, n] -> [m, n].
func dotShape(attrs *graph.NodeAttrs, inShapes, outShapes []shapes.Shape) bool {
	if len(inShapes) != 2 || len(outShapes) != 1 {
		exceptions.Panicf("node %q: dot takes 2 inputs and has 1 output, got %d and %d",
			attrs.Name, len(inShapes), len(outShapes))
	}
	x, y := inShapes[0], inShapes[1]
	if !x.Known() || !y.Known() {
		return false
	}
	if x.Rank() != 2 || y.Rank() != 2 || x.Dim(1) != y.Dim(0) {
		exceptions.Panicf("shape inference inconsistent for node %q: can't multiply %s and %s", attrs.Name, x, y)
	}
	result := shapes.Make(x.DType, x.Dim(0), y.Dim(1))
	if outShapes[0].Known() && !outShapes[0].EqualDimensions(result) {
		exceptions.Panicf("shape inference inconsistent for node %q: %s and %s", attrs.Name, outShapes[0], result)
	}
	outShapes[0] = result
	return true
}

// sumShape infers x -> [1].
func sumShape(attrs *graph.NodeAttrs, inShapes, outShapes []shapes.Shape) bool {
	if len(inShapes) != 1 || len(outShapes) != 1 {
		exceptions.Panicf("node %q: sum takes 1 input and has 1 output, got %d and %d",
			attrs.Name, len(inShapes), len(outShapes))
	}
	if !inShapes[0].Known() {
		return false
	}
	result := shapes.UnitBroadcast(inShapes[0].DType)
	if outShapes[0].Known() && !outShapes[0].EqualDimensions(result) {
		exceptions.Panicf("shape inference inconsistent for node %q: %s and %s", attrs.Name, outShapes[0], result)
	}
	outShapes[0] = result
	return true
}
