// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 1, 224, 224, 3)
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, 224*224*3, s.Size())
	assert.Equal(t, uintptr(224*224*3*4), s.Memory())
	assert.Equal(t, 3, s.Dim(-1))
	assert.Equal(t, "(Float32)[1 224 224 3]", s.String())
	assert.Panics(t, func() { Make(dtypes.Float32, 3, 0) })
	assert.Panics(t, func() { s.Dim(4) })
	assert.Panics(t, func() { s.Dim(-5) })

	scalar := Scalar[float32]()
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.False(t, Invalid().Ok())
	assert.False(t, Shape{}.Ok())
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float32, 7, 7, 512)
	c := s.Clone()
	assert.True(t, s.Equal(c))
	c.Dimensions[0] = 14
	assert.False(t, s.Equal(c))
	assert.Equal(t, 7, s.Dimensions[0])

	d := Make(dtypes.Float64, 7, 7, 512)
	assert.False(t, s.Equal(d))
	assert.True(t, s.EqualDimensions(d))
}

func TestCheckDims(t *testing.T) {
	s := Make(dtypes.Float32, 1, 56, 56, 64)
	require.NoError(t, s.CheckDims(1, -1, -1, 64))
	require.Error(t, s.CheckDims(1, 56, 56))
	require.Error(t, s.CheckDims(1, 28, -1, 64))
	assert.NotPanics(t, func() { AssertDims(s, -1, 56, 56, -1) })
	assert.Panics(t, func() { AssertDims(s, -1, 28, 56, -1) })
	assert.Panics(t, func() { AssertRank(s, 3) })
	assert.Equal(t, 3, AdjustAxisToRank(4, -1))
	assert.Panics(t, func() { AdjustAxisToRank(4, 4) })
}
