// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package symbolic

import (
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuilder(t *testing.T) *Builder {
	backend, err := New("")
	require.NoError(t, err)
	return backend.Builder(t.Name()).(*Builder)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, backends.List(), BackendName)
	backend := backends.NewWithConfig(BackendName)
	assert.Equal(t, BackendName, backend.Name())
	_, err := New("some_config")
	require.Error(t, err)
}

func TestBuilder(t *testing.T) {
	b := newBuilder(t)
	x := must.M1(b.Parameter("x", shapes.Make(dtypes.Float32, 2, 8, 8, 3)))
	kernel := must.M1(b.Parameter("kernel", shapes.Make(dtypes.Float32, 3, 3, 3, 16)))
	axes := backends.ConvolveAxesConfig{
		InputBatch: 0, InputChannels: 3, InputSpatial: []int{1, 2},
		KernelInputChannels: 2, KernelOutputChannels: 3, KernelSpatial: []int{0, 1},
		OutputBatch: 0, OutputChannels: 3, OutputSpatial: []int{1, 2},
	}
	y := must.M1(b.ConvGeneral(x, kernel, axes, []int{2, 2}, [][2]int{{0, 1}, {0, 1}}, nil, nil, 1, 1))
	s := must.M1(b.OpShape(y))
	assert.True(t, s.Equal(shapes.Make(dtypes.Float32, 2, 4, 4, 16)), "got %s", s)

	bias := must.M1(b.Constant(make([]float32, 16), 1, 1, 1, 16))
	y = must.M1(b.Add(y, bias))
	y = must.M1(b.FusedGelu(y, false))
	assert.Len(t, b.Nodes(), 6)
	counts := b.CountByOpType()
	assert.Equal(t, 2, counts[backends.OpTypeParameter])
	assert.Equal(t, 1, counts[backends.OpTypeConstant])
	assert.Equal(t, 1, counts[backends.OpTypeConvGeneral])
	assert.Equal(t, "x", b.Nodes()[0].Name)
	last := b.Nodes()[len(b.Nodes())-1]
	assert.Equal(t, backends.OpTypeFusedGelu, last.OpType)
	require.Len(t, last.Inputs, 1)
	assert.Equal(t, backends.OpTypeAdd, last.Inputs[0].OpType)
}

func TestBuilderErrors(t *testing.T) {
	b := newBuilder(t)
	_, err := b.Constant(make([]float32, 5), 2, 3)
	require.Error(t, err)
	_, err = b.Constant(float32(1))
	require.Error(t, err)
	_, err = b.Parameter("u8", shapes.Make(dtypes.Uint8, 3))
	require.ErrorIs(t, err, backends.ErrNotImplemented)

	x := must.M1(b.Parameter("x", shapes.Make(dtypes.Float32, 2, 3)))
	y := must.M1(b.Parameter("y", shapes.Make(dtypes.Float32, 3, 2)))
	_, err = b.Add(x, y)
	require.Error(t, err)
	_, err = b.Add(x, "not a node")
	require.Error(t, err)
	_, err = b.FusedLayerNorm(x, []int{1}, 0, nil, nil)
	require.Error(t, err)

	// Optional inputs can be nil.
	ln := must.M1(b.FusedLayerNorm(x, []int{1}, 1e-5, nil, nil))
	assert.True(t, must.M1(b.OpShape(ln)).Equal(shapes.Make(dtypes.Float32, 2, 3)))
	dense := must.M1(b.FusedDense(x, y, nil, backends.ActivationNone))
	assert.True(t, must.M1(b.OpShape(dense)).Equal(shapes.Make(dtypes.Float32, 2, 2)))
}
