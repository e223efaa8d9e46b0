// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
)

// FusionShape is the graph.FInferShape of the fused operator (and of elementwise operators in general):
// all inputs and outputs have the same shape, except inputs with the unit broadcast shape `[1]`.
//
// The common shape is the first known output shape or, if there is none, the first known input shape
// that is not `[1]` (or the last `[1]` input, if all known inputs are `[1]`). It returns false
// if no shape is known yet. It panics if two known shapes disagree.
func FusionShape(attrs *graph.NodeAttrs, inShapes, outShapes []shapes.Shape) bool {
	var common shapes.Shape
	for _, s := range outShapes {
		if s.Known() {
			common = s
			break
		}
	}
	if !common.Known() {
		for _, s := range inShapes {
			if s.Known() {
				common = s
				if !s.IsUnitBroadcast() {
					break
				}
			}
		}
	}
	if !common.Known() {
		return false
	}
	for i := range outShapes {
		assignShape(attrs, &outShapes[i], common)
	}
	for i := range inShapes {
		if inShapes[i].IsUnitBroadcast() {
			continue
		}
		assignShape(attrs, &inShapes[i], common)
	}
	return true
}

// assignShape sets lhs to rhs if it is not known yet, otherwise it checks they have the same dimensions.
func assignShape(attrs *graph.NodeAttrs, lhs *shapes.Shape, rhs shapes.Shape) {
	if !lhs.Known() {
		*lhs = rhs.Clone()
		return
	}
	if !lhs.EqualDimensions(rhs) {
		exceptions.Panicf("shape inference inconsistent for node %q: %s and %s", attrs.Name, *lhs, rhs)
	}
}
