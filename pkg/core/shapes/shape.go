// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the static shape (dtype and dimensions) attached to the nodes of a
// computation graph.
//
// Unlike tensor shapes, a graph Shape can be "unknown": a shape without any dimensions means
// it hasn't been inferred yet. Scalars are represented with a single axis of dimension 1, which is
// also the "unit broadcast shape": an input with that shape is read at index 0 by every element
// of a generated kernel.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a shape.
//   - Axis: the index of a dimension.
//   - Dimension: the size of one axis.
//   - DType: the data type of the unit element, from github.com/gomlx/gopjrt/dtypes.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of the value produced by a node in the computation graph.
//
// Use Make to create a new shape, or Unknown for a shape yet to be inferred.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Unknown returns a shape that hasn't been inferred yet.
//
// Unknown().Known() == false.
func Unknown() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// UnitBroadcast returns the shape `[1]` of the given dtype, the one broadcast to every element.
func UnitBroadcast(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Dimensions: []int{1}}
}

// Known returns whether the shape has been inferred, that is, whether it has at least one axis.
func (s Shape) Known() bool { return len(s.Dimensions) > 0 }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// IsUnitBroadcast returns whether the shape is `[1]`: values with this shape are broadcast
// to all elements of an elementwise operation.
func (s Shape) IsUnitBroadcast() bool {
	return len(s.Dimensions) == 1 && s.Dimensions[0] == 1
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if !s.Known() {
		return "(?)"
	}
	if s.DType == dtypes.InvalidDType {
		return fmt.Sprintf("%v", s.Dimensions)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
// It returns 0 for unknown shapes.
func (s Shape) Size() (size int) {
	if !s.Known() {
		return 0
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	if s.DType == dtypes.InvalidDType {
		return 0
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}
