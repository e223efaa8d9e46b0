// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	assert.Equal(t, 0, s.Len())

	s.Insert(3, 7)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	assert.True(t, s.InsertNew(5))
	assert.False(t, s.InsertNew(5))
	assert.Equal(t, 3, s.Len())

	s.Remove(7, 11)
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Has(7))

	s2 := MakeWith(5, 7, 5)
	assert.Equal(t, 2, s2.Len())
}

func TestPointerKeys(t *testing.T) {
	type node struct{ name string }
	a, b := &node{"x"}, &node{"x"}
	s := MakeWith(a)
	assert.True(t, s.Has(a))
	assert.False(t, s.Has(b), "membership is by identity, not by value")
}
