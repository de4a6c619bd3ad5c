// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	_ "github.com/avber/keras-cv-attention-models/backends/symbolic"
	. "github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend = backends.NewWithConfig("symbolic")

func newGraph(t *testing.T) *Graph {
	return NewGraph(backend, t.Name())
}

func assertDims(t *testing.T, n *Node, dims ...int) {
	t.Helper()
	require.NoError(t, n.Shape().CheckDims(dims...), "node %s", n)
}

func TestGraphIdAndNames(t *testing.T) {
	g1, g2 := newGraph(t), newGraph(t)
	assert.NotEqual(t, g1.Id(), g2.Id())

	x := Parameter(g1, "input", shapes.Make(dtypes.Float32, 2, 3))
	assert.Equal(t, "input", x.Name())
	assert.Equal(t, []*Node{x}, g1.Parameters())

	y := Neg(x)
	assert.Equal(t, "neg_0", y.Name())
	g1.WithNameScope("layer/", func() {
		z := Tanh(y)
		assert.Equal(t, "layer/tanh_0", z.Name())
		z2 := Tanh(y)
		assert.Equal(t, "layer/tanh_1", z2.Name())
		z.SetName("layer")
		assert.Equal(t, z, g1.NodeByName("layer"))
		assert.Nil(t, g1.NodeByName("layer/tanh_0"))
	})
	assert.Equal(t, "", g1.NameScope())
	assert.Equal(t, []string{"input", "neg_0", "layer", "layer/tanh_1"}, g1.NodeNames())

	// Auto-names from different graphs are independent.
	assert.Equal(t, "neg_0", Neg(Parameter(g2, "input", shapes.Make(dtypes.Float32, 1))).Name())
}

func TestSetName(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 3))
	a := Neg(x).SetName("a")
	b := Neg(x)
	require.Panics(t, func() { b.SetName("a") }, "duplicate name")
	require.Panics(t, func() { x.SetName("new_x") }, "x was already consumed")
	require.Panics(t, func() { Parameter(g, "a", shapes.Make(dtypes.Float32, 3)) }, "duplicate parameter name")
	assert.Equal(t, 2, x.NumConsumers())
	assert.Equal(t, "a", a.Name())
	assert.Equal(t, a, g.NodeById(a.Id()))
}

func TestCombiningGraphs(t *testing.T) {
	g1, g2 := newGraph(t), newGraph(t)
	x1 := Parameter(g1, "x", shapes.Make(dtypes.Float32, 3))
	x2 := Parameter(g2, "x", shapes.Make(dtypes.Float32, 3))
	require.Panics(t, func() { Add(x1, x2) })
	require.Panics(t, func() { Add(x1, nil) })
}

func TestBasicOps(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 6, 4))
	bias := Parameter(g, "bias", shapes.Make(dtypes.Float32, 1, 1, 4))
	assertDims(t, Add(x, bias), 2, 6, 4)
	assertDims(t, MulScalar(x, 2), 2, 6, 4)
	assertDims(t, Swish(x), 2, 6, 4)
	assertDims(t, Relu(x), 2, 6, 4)
	assertDims(t, Reshape(x, -1, 4), 12, 4)
	assert.Equal(t, x, Reshape(x, 2, -1, 4), "no-op reshape")
	require.Panics(t, func() { Reshape(x, -1, 5) })
	require.Panics(t, func() { Reshape(x, -1, -1) })
	assertDims(t, Transpose(x, 2, 0, 1), 4, 2, 6)
	assertDims(t, Slice(x, []int{0, 1, 0}, []int{2, 5, 4}), 2, 4, 4)
	assertDims(t, Pad(x, PadAxis{}, PadAxis{End: 2}), 2, 8, 4)
	assertDims(t, ReduceSum(x, -1), 2, 6)
	assertDims(t, ReduceMean(x))
	assertDims(t, ReduceAndKeep(x, ReduceMean, 1), 2, 1, 4)
	assertDims(t, GlobalMeanPool(Reshape(x, 2, 3, 2, 4)), 2, 4)
	assert.Equal(t, dtypes.Float16, ConvertDType(x, dtypes.Float16).DType())
	assert.Equal(t, x, ConvertDType(x, dtypes.Float32))
	assert.Equal(t, dtypes.Int32, Scalar(g, dtypes.Int32, 3).DType())

	w := Parameter(g, "w", shapes.Make(dtypes.Float32, 4, 8))
	assertDims(t, DotGeneral(x, []int{-1}, nil, w, []int{0}, nil), 2, 6, 8)
	assertDims(t, Dense(x, w, nil), 2, 6, 8)
	assertDims(t, Dense(x, w, Parameter(g, "b", shapes.Make(dtypes.Float32, 8))), 2, 6, 8)
}

func TestGatherRows(t *testing.T) {
	g := newGraph(t)
	table := Parameter(g, "table", shapes.Make(dtypes.Float32, 3, 169))
	indices := Const(g, make([]int32, 49*49), 49, 49)
	gathered := GatherRows(Transpose(table, 1, 0), indices)
	assertDims(t, gathered, 49, 49, 3)
	require.Panics(t, func() { GatherRows(table, table) })
}

func TestConvolve(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 1, 224, 224, 3))
	kernel := Parameter(g, "kernel", shapes.Make(dtypes.Float32, 3, 3, 3, 64))
	assertDims(t, Convolve(x, kernel).Strides(2).PadSame().Done(), 1, 112, 112, 64)
	assertDims(t, Convolve(x, kernel).Strides(1).PadSame().Done(), 1, 224, 224, 64)
	assertDims(t, Convolve(x, kernel).Done(), 1, 222, 222, 64)
	assertDims(t, Convolve(x, kernel).Strides(2).PaddingPerDim([][2]int{{1, 1}, {1, 1}}).Done(), 1, 112, 112, 64)

	// Depthwise.
	y := Parameter(g, "y", shapes.Make(dtypes.Float32, 1, 7, 7, 32))
	dw := Parameter(g, "dw", shapes.Make(dtypes.Float32, 3, 3, 1, 32))
	assertDims(t, Convolve(y, dw).ChannelGroupCount(32).Strides(2).PadSame().Done(), 1, 4, 4, 32)
	require.Panics(t, func() { Convolve(y, dw).Done() }, "missing channel groups")
}

func TestSamePaddings(t *testing.T) {
	assert.Equal(t, [2]int{0, 1}, SamePaddings(224, 3, 2))
	assert.Equal(t, [2]int{1, 1}, SamePaddings(224, 3, 1))
	assert.Equal(t, [2]int{1, 1}, SamePaddings(7, 3, 2))
	assert.Equal(t, [2]int{0, 0}, SamePaddings(56, 2, 2))
	assert.Equal(t, [2]int{0, 1}, SamePaddings(25, 2, 2))
}

func TestPool(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 25, 24, 8))
	pooled := MeanPool(x).Window(2).Strides(2).PadSame().Done()
	assertDims(t, pooled, 2, 13, 12, 8)
	assert.Equal(t, backends.OpTypeDiv, pooled.Type(), "mean of contributions")
	assertDims(t, MaxPool(x).Window(3).Done(), 2, 8, 8, 8)
	require.Panics(t, func() { MeanPool(x).Done() }, "missing window")
}

func TestFusedOps(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 4, 49, 64))
	assertDims(t, Softmax(x, -1), 4, 49, 64)
	assertDims(t, Gelu(x, false), 4, 49, 64)
	gamma := Parameter(g, "gamma", shapes.Make(dtypes.Float32, 64))
	assertDims(t, LayerNorm(x, []int{-1}, 1e-5, gamma, nil), 4, 49, 64)
	assert.Equal(t, x, Dropout(x, 0, nil))
	assertDims(t, Dropout(x, 0.1, []int{4, 1, 1}), 4, 49, 64)
	require.Panics(t, func() { Dropout(x, 1, nil) })

	q := Reshape(x, 4, 49, 2, 32)
	mask := Parameter(g, "bias", shapes.Make(dtypes.Float32, 2, 49, 49))
	attn := ScaledDotProductAttention(q, q, q, mask, 2, backends.AxesLayoutBSHD, 1/5.65685)
	assertDims(t, attn, 4, 49, 2, 32)
	require.Panics(t, func() { ScaledDotProductAttention(q, q, q, nil, 4, backends.AxesLayoutBSHD, 1) })
}

func TestBatchNormForInference(t *testing.T) {
	g := newGraph(t)
	x := Parameter(g, "x", shapes.Make(dtypes.Float32, 1, 5, 5, 16))
	vec := func(name string) *Node { return Parameter(g, name, shapes.Make(dtypes.Float32, 16)) }
	y := BatchNormForInference(x, vec("gamma"), vec("beta"), vec("mean"), vec("var"), 1e-3, -1)
	assertDims(t, y, 1, 5, 5, 16)
	assert.Len(t, y.Inputs(), 5)
}
