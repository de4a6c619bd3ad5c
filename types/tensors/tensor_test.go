// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"testing"

	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatData(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, "Tensor(Float32)[2 3]", tensor.String())
	values, err := Value[float32](tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, values)

	_, err = Value[float64](tensor)
	require.Error(t, err)
	assert.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2}, 3) })
}

func TestFromRaw(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 3)
	raw := make([]byte, 6)
	for ii, v := range []float32{0.5, -2, 1024} {
		binary.LittleEndian.PutUint16(raw[2*ii:], float16.Fromfloat32(v).Bits())
	}
	tensor, err := FromRaw(shape, raw)
	require.NoError(t, err)
	values, err := tensor.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -2, 1024}, values)

	converted, err := tensor.ConvertDType(dtypes.Float32)
	require.NoError(t, err)
	f32, err := Value[float32](converted)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -2, 1024}, f32)

	_, err = FromRaw(shape, raw[:4])
	require.Error(t, err)
}

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Int64, 2, 2))
	values, err := Value[int64](tensor)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0, 0}, values)
	assert.Len(t, tensor.Bytes(), 32)
}
