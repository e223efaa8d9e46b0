// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
)

// Op is an operator kind (e.g.: "add", "exp"), registered with RegisterOp.
//
// Besides its name and number of outputs, an operator holds arbitrary attributes keyed by name,
// used by the passes to query how to handle it. See GetOpAttr.
type Op struct {
	Name        string
	Description string

	numOutputs int
	attrs      map[string]any
}

// Well-known operator attribute keys.
const (
	// AttrIsElementWise marks an operator as elementwise: each output element depends only on the
	// same element of its inputs (possibly broadcast). The presence of the attribute is what counts.
	AttrIsElementWise = "IsElementWise"

	// AttrFInferShape holds the FInferShape of an operator.
	AttrFInferShape = "FInferShape"
)

// FInferShape infers the shapes of the inputs and outputs of a node, given the ones already known.
//
// It updates inShapes and outShapes in place, and returns false if it still can't resolve the shapes,
// in which case it will be called again once more shapes are known.
// Inconsistent shapes are fatal: it should panic with exceptions.Panicf.
type FInferShape func(attrs *NodeAttrs, inShapes, outShapes []shapes.Shape) bool

var (
	opsMu      sync.RWMutex
	opRegistry = make(map[string]*Op)
)

// RegisterOp returns the operator with the given name, creating it if it doesn't exist yet.
//
// Operators are usually registered (and their attributes set) during the initialization of a package.
func RegisterOp(name string) *Op {
	opsMu.Lock()
	defer opsMu.Unlock()
	if op, found := opRegistry[name]; found {
		return op
	}
	op := &Op{Name: name, numOutputs: 1, attrs: make(map[string]any)}
	opRegistry[name] = op
	return op
}

// LookupOp returns the registered operator with the given name.
func LookupOp(name string) (op *Op, found bool) {
	opsMu.RLock()
	defer opsMu.RUnlock()
	op, found = opRegistry[name]
	return
}

// GetOp returns the registered operator with the given name. It panics if it is not registered.
func GetOp(name string) *Op {
	op, found := LookupOp(name)
	if !found {
		exceptions.Panicf("operator %q not registered", name)
	}
	return op
}

// Describe sets the description of the operator. It returns the op itself, so calls can be chained.
func (op *Op) Describe(description string) *Op {
	opsMu.Lock()
	defer opsMu.Unlock()
	op.Description = description
	return op
}

// SetNumOutputs sets the number of outputs of the operator, by default 1.
func (op *Op) SetNumOutputs(numOutputs int) *Op {
	if numOutputs < 1 {
		exceptions.Panicf("operator %q: invalid number of outputs %d", op.Name, numOutputs)
	}
	opsMu.Lock()
	defer opsMu.Unlock()
	op.numOutputs = numOutputs
	return op
}

// NumOutputs returns the number of outputs of the operator.
func (op *Op) NumOutputs() int {
	opsMu.RLock()
	defer opsMu.RUnlock()
	return op.numOutputs
}

// SetAttr sets the attribute key of the operator. Attributes can only be set once.
func (op *Op) SetAttr(key string, value any) *Op {
	opsMu.Lock()
	defer opsMu.Unlock()
	if _, found := op.attrs[key]; found {
		exceptions.Panicf("operator %q: attribute %q already set", op.Name, key)
	}
	op.attrs[key] = value
	return op
}

// SetElementWise marks the operator as elementwise, see AttrIsElementWise.
func (op *Op) SetElementWise() *Op {
	return op.SetAttr(AttrIsElementWise, true)
}

// SetInferShape sets the shape inference function of the operator, see AttrFInferShape.
func (op *Op) SetInferShape(fn FInferShape) *Op {
	return op.SetAttr(AttrFInferShape, fn)
}

// String implements fmt.Stringer.
func (op *Op) String() string {
	if op == nil {
		return "<variable>"
	}
	return op.Name
}

func (op *Op) attr(key string) (value any, found bool) {
	opsMu.RLock()
	defer opsMu.RUnlock()
	value, found = op.attrs[key]
	return
}

// OpMap is a typed view of one attribute across all operators. See GetOpAttr.
type OpMap[T any] struct {
	key string
}

// GetOpAttr returns the typed view of the attribute key of the operators. Example:
//
//	isElementWise := graph.GetOpAttr[bool](graph.AttrIsElementWise)
//	if isElementWise.Has(node.Op()) { ... }
func GetOpAttr[T any](key string) OpMap[T] {
	return OpMap[T]{key: key}
}

// Key returns the attribute key of the map.
func (m OpMap[T]) Key() string { return m.key }

// Lookup returns the attribute value for op. found is false if op is nil, doesn't have the attribute,
// or if the attribute is not of type T.
func (m OpMap[T]) Lookup(op *Op) (value T, found bool) {
	if op == nil {
		return
	}
	v, ok := op.attr(m.key)
	if !ok {
		return
	}
	value, found = v.(T)
	return
}

// Has returns whether op has the attribute set, with a value of type T.
func (m OpMap[T]) Has(op *Op) bool {
	_, found := m.Lookup(op)
	return found
}

// Get returns the attribute value for op. It panics if it is not set.
func (m OpMap[T]) Get(op *Op) T {
	value, found := m.Lookup(op)
	if !found {
		exceptions.Panicf("operator %s doesn't have attribute %q of type %T", op, m.key, value)
	}
	return value
}
