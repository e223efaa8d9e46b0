// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ast defines the small syntax tree used to generate the source of fused kernels.
//
// Expr is a closed set of node kinds (integer and float literals, variables, binary operations,
// function calls, array subscripts, declarations and assignments), and CodeGen converts any of them
// to source text. Operators build the expression for one element with these, see fusion.FCodeGen.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
)

// DefaultScalarType is the C type used by Float literals and Decl statements when none is given.
const DefaultScalarType = "float"

// Expr is a node of the syntax tree. The set of implementations is closed: Int, Float, Var, Binary,
// Call, Subscript, Decl and Assign.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Int is an integer literal, like "1".
type Int struct {
	Value int
}

// Float is a floating point literal, generated as an explicit cast, like "float(1.000000)".
type Float struct {
	Value float64

	// Type of the cast, DefaultScalarType if empty.
	Type string
}

// Var is a reference to a variable, like "a".
type Var struct {
	Name string
}

// Binary is a binary operation, generated in parenthesis, like "(a + b)".
type Binary struct {
	Op       byte
	LHS, RHS Expr
}

// Call is a function call, like "expf(a)".
type Call struct {
	Callee string
	Args   []Expr
}

// Subscript is an array subscript, like "a[i]".
type Subscript struct {
	Base, Index Expr
}

// Decl declares a scalar variable, like "float a;".
type Decl struct {
	// Type of the variable, DefaultScalarType if empty.
	Type string
	Var  Expr
}

// Assign assigns a value to a variable, like "a = b;".
type Assign struct {
	Var, Value Expr
}

func (*Int) isExpr()       {}
func (*Float) isExpr()     {}
func (*Var) isExpr()       {}
func (*Binary) isExpr()    {}
func (*Call) isExpr()      {}
func (*Subscript) isExpr() {}
func (*Decl) isExpr()      {}
func (*Assign) isExpr()    {}

// CodeGen returns the source text of e.
func CodeGen(e Expr) string {
	switch e := e.(type) {
	case *Int:
		return strconv.Itoa(e.Value)
	case *Float:
		return fmt.Sprintf("%s(%f)", scalarType(e.Type), e.Value)
	case *Var:
		return e.Name
	case *Binary:
		return "(" + CodeGen(e.LHS) + " " + string(e.Op) + " " + CodeGen(e.RHS) + ")"
	case *Call:
		args := make([]string, len(e.Args))
		for i, arg := range e.Args {
			args[i] = CodeGen(arg)
		}
		return e.Callee + "(" + strings.Join(args, ", ") + ")"
	case *Subscript:
		return CodeGen(e.Base) + "[" + CodeGen(e.Index) + "]"
	case *Decl:
		return scalarType(e.Type) + " " + CodeGen(e.Var) + ";"
	case *Assign:
		return CodeGen(e.Var) + " = " + CodeGen(e.Value) + ";"
	case nil:
		exceptions.Panicf("ast.CodeGen: nil expression")
	}
	exceptions.Panicf("ast.CodeGen: unknown expression type %T", e)
	return ""
}

func scalarType(t string) string {
	if t == "" {
		return DefaultScalarType
	}
	return t
}

func (e *Int) String() string       { return CodeGen(e) }
func (e *Float) String() string     { return CodeGen(e) }
func (e *Var) String() string       { return CodeGen(e) }
func (e *Binary) String() string    { return CodeGen(e) }
func (e *Call) String() string      { return CodeGen(e) }
func (e *Subscript) String() string { return CodeGen(e) }
func (e *Decl) String() string      { return CodeGen(e) }
func (e *Assign) String() string    { return CodeGen(e) }

// NewInt returns an integer literal.
func NewInt(value int) *Int { return &Int{Value: value} }

// NewFloat returns a float literal cast to DefaultScalarType.
func NewFloat(value float64) *Float { return &Float{Value: value} }

// NewVar returns a reference to the variable name.
func NewVar(name string) *Var { return &Var{Name: name} }

// NewBinary returns the binary operation `lhs op rhs`.
func NewBinary(op byte, lhs, rhs Expr) *Binary { return &Binary{Op: op, LHS: lhs, RHS: rhs} }

// NewCall returns a call to callee with the given arguments.
func NewCall(callee string, args ...Expr) *Call { return &Call{Callee: callee, Args: args} }

// NewSubscript returns `base[index]`.
func NewSubscript(base, index Expr) *Subscript { return &Subscript{Base: base, Index: index} }

// NewDecl returns the declaration of variable v with the given scalar type (DefaultScalarType if empty).
func NewDecl(scalarType string, v Expr) *Decl { return &Decl{Type: scalarType, Var: v} }

// NewAssign returns the statement `v = value;`.
func NewAssign(v, value Expr) *Assign { return &Assign{Var: v, Value: value} }

// Add returns `(lhs + rhs)`.
func Add(lhs, rhs Expr) Expr { return NewBinary('+', lhs, rhs) }

// Sub returns `(lhs - rhs)`.
func Sub(lhs, rhs Expr) Expr { return NewBinary('-', lhs, rhs) }

// Mul returns `(lhs * rhs)`.
func Mul(lhs, rhs Expr) Expr { return NewBinary('*', lhs, rhs) }

// Div returns `(lhs / rhs)`.
func Div(lhs, rhs Expr) Expr { return NewBinary('/', lhs, rhs) }
