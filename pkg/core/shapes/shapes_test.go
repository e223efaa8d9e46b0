// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	unknown := Unknown()
	require.False(t, unknown.Known())
	require.Equal(t, 0, unknown.Size())
	require.Equal(t, "(?)", unknown.String())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Known())
	require.False(t, shape1.IsUnitBroadcast())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))

	unit := UnitBroadcast(dtypes.Float32)
	require.True(t, unit.IsUnitBroadcast())
	require.True(t, Make(dtypes.Float64, 1).IsUnitBroadcast())
	require.False(t, Make(dtypes.Float32, 1, 1).IsUnitBroadcast())
	require.False(t, Make(dtypes.Float32, 2).IsUnitBroadcast())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 3, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqual(t *testing.T) {
	a := Make(dtypes.Float32, 4, 3)
	b := a.Clone()
	require.True(t, a.Equal(b))
	c := Make(dtypes.Float64, 4, 3)
	require.False(t, a.Equal(c))
	require.True(t, a.EqualDimensions(c))
	require.False(t, a.EqualDimensions(Make(dtypes.Float32, 3, 4)))

	// Clone must not share the dimensions slice.
	b.Dimensions[1] = 7
	require.Equal(t, 3, a.Dimensions[1])
}
