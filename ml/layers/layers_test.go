// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers_test

import (
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	_ "github.com/avber/keras-cv-attention-models/backends/symbolic"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/layers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend = backends.NewWithConfig("symbolic")

// newInput creates a context, a graph and a float32 input with the given dimensions.
func newInput(t *testing.T, dims ...int) (*context.Context, *graph.Graph, *graph.Node) {
	t.Helper()
	g := graph.NewGraph(backend, t.Name())
	return context.New(), g, graph.Parameter(g, "input", shapes.Make(dtypes.Float32, dims...))
}

func TestConvolution(t *testing.T) {
	ctx, g, x := newInput(t, 2, 9, 9, 3)
	y := layers.Convolution(ctx.InPath("stem_1_conv"), x).Filters(8).KernelSize(3).Strides(2).UseBias(true).PadSame().Done()
	assert.Equal(t, []int{2, 5, 5, 8}, y.Shape().Dimensions)
	assert.Equal(t, "stem_1_conv", y.Name())
	assert.Equal(t, y, g.NodeByName("stem_1_conv"))
	assert.Equal(t, []int{3, 3, 3, 8}, ctx.InspectVariableByPath("stem_1_conv/kernel").Shape().Dimensions)
	assert.Equal(t, []int{8}, ctx.InspectVariableByPath("stem_1_conv/bias").Shape().Dimensions)
	assert.Equal(t, 3*3*3*8+8, ctx.NumParameters())
	assert.NotNil(t, g.NodeByName("stem_1_conv/conv_general_0"))

	// Explicit padding and VALID convolution, as in the torch mode.
	padded := layers.ZeroPadding(ctx.InPath("stem_2_pad"), x, 1)
	assert.Equal(t, []int{2, 11, 11, 3}, padded.Shape().Dimensions)
	y = layers.Convolution(ctx.InPath("stem_2_conv"), padded).Filters(4).KernelSize(3).Strides(2).Done()
	assert.Equal(t, []int{2, 5, 5, 4}, y.Shape().Dimensions)
	assert.Nil(t, ctx.InspectVariableByPath("stem_2_conv/bias"))

	require.Panics(t, func() { layers.Convolution(ctx.In("no_filters"), x).KernelSize(3).Done() })
	require.Panics(t, func() { layers.Convolution(ctx, x).Filters(2).KernelSize(1).Done() }, "root scope has no layer name")
	require.Panics(t, func() {
		layers.Convolution(ctx.InPath("stem_1_conv"), x).Filters(8).KernelSize(3).Done()
	}, "variables can't be created twice")
}

func TestDepthwiseConvolution(t *testing.T) {
	ctx, _, x := newInput(t, 1, 14, 14, 16)
	y := layers.DepthwiseConvolution(ctx.InPath("mbconv/MB_dw_conv"), x).KernelSize(3).Strides(2).PadSame().Done()
	assert.Equal(t, []int{1, 7, 7, 16}, y.Shape().Dimensions)
	assert.Equal(t, "mbconv/MB_dw_conv", y.Name())
	assert.Equal(t, []int{3, 3, 16, 1}, ctx.InspectVariableByPath("mbconv/MB_dw_conv/depthwise_kernel").Shape().Dimensions)
	assert.Equal(t, 3*3*16, ctx.NumParameters())
}

func TestNormalization(t *testing.T) {
	ctx, g, x := newInput(t, 2, 4, 4, 8)
	ctx.SetParam(layers.ParamBatchNormEpsilon, 1e-5)
	y := layers.BatchNormalization(ctx.In("stem_1_bn"), x, -1).Done()
	assert.True(t, y.Shape().Equal(x.Shape()))
	assert.Equal(t, backends.OpTypeBatchNormForInference, y.Type())
	assert.Equal(t, 4*8, ctx.NumParameters())
	assert.Equal(t, 2*8, ctx.NumTrainableParameters())
	assert.False(t, ctx.InspectVariableByPath("stem_1_bn/moving_variance").Trainable)
	require.Panics(t, func() { layers.BatchNormalization(ctx.In("bad_bn"), x, -1).Momentum(1).Done() })

	y = layers.LayerNormalization(ctx.In("post_ln"), y).Done()
	assert.Equal(t, "post_ln", y.Name())
	assert.Equal(t, backends.OpTypeFusedLayerNorm, y.Type())
	assert.Equal(t, 6*8, ctx.NumParameters())
	assert.Equal(t, 4*8, ctx.NumTrainableParameters())
	assert.NotNil(t, g.NodeByName("post_ln/gamma"))
}

func TestDenseAndChannelAffine(t *testing.T) {
	ctx, _, x := newInput(t, 3, 5, 16)
	y := layers.Dense(ctx.InPath("block_ffn/1_dense"), x, true, 64)
	assert.Equal(t, []int{3, 5, 64}, y.Shape().Dimensions)
	assert.Equal(t, "block_ffn/1_dense", y.Name())
	assert.Equal(t, 16*64+64, ctx.NumParameters())

	y = layers.ChannelAffine(ctx.In("block_1_gamma"), y, 1e-6, false)
	assert.Equal(t, []int{3, 5, 64}, y.Shape().Dimensions)
	weight := ctx.InspectVariableByPath("block_1_gamma/weight")
	require.NotNil(t, weight)
	assert.Equal(t, "constant(1e-06)", weight.Initializer().Name())
	assert.Nil(t, ctx.InspectVariableByPath("block_1_gamma/bias"))
}

func TestActivationLayer(t *testing.T) {
	ctx, _, x := newInput(t, 2, 8)
	y := layers.Activation(ctx.InPath("stem_1_gelu/app"), x, "gelu/app")
	assert.Equal(t, "stem_1_gelu/app", y.Name())
	assert.Equal(t, backends.OpTypeFusedGelu, y.Type())
	assert.Equal(t, y, layers.Activation(ctx.In("linear"), y, "linear"))
	require.Panics(t, func() { layers.Activation(ctx.In("mish"), x, "mish") })
}

func TestSqueezeExcite(t *testing.T) {
	assert.Equal(t, 16, layers.MakeDivisible(16, 8, 0, 0.9))
	assert.Equal(t, 16, layers.MakeDivisible(10, 8, 0, 0.9))
	assert.Equal(t, 8, layers.MakeDivisible(3, 8, 0, 0.9))
	assert.Equal(t, 64, layers.MakeDivisible(64, 8, 0, 0.9))

	ctx, g, x := newInput(t, 1, 7, 7, 256)
	se := layers.SqueezeExcite(ctx.InPath("mbconv/se"), x).Ratio(0.25 / 4).Activation("swish")
	assert.Equal(t, 16, se.ReducedChannels())
	y := se.Done()
	assert.Equal(t, "mbconv/se/out", y.Name())
	assert.True(t, y.Shape().Equal(x.Shape()))
	assert.Equal(t, 256*16+16+16*256+256, ctx.NumParameters())
	for _, name := range []string{"mbconv/se/1_conv", "mbconv/se/swish", "mbconv/se/2_conv", "mbconv/se/sigmoid"} {
		assert.NotNil(t, g.NodeByName(name), "layer %q", name)
	}
}

func TestDropout(t *testing.T) {
	ctx, _, x := newInput(t, 4, 7, 7, 8)
	assert.Equal(t, x, layers.DropPath(ctx.In("drop"), x, 0))
	y := layers.DropPath(ctx.InPath("mbconv/drop"), x, 0.1)
	assert.Equal(t, "mbconv/drop", y.Name())
	assert.Equal(t, backends.OpTypeFusedDropout, y.Type())
	require.Panics(t, func() { layers.Dropout(ctx.In("head_drop"), x, 1.5) })

	ctx.SetParam(layers.ParamDropoutRate, 0.2)
	y = layers.Dropout(ctx.In("head_drop"), x, 0)
	assert.Equal(t, "head_drop", y.Name())

	// Stochastic depth only uses the explicit rate.
	assert.Equal(t, x, layers.DropPath(ctx.In("attn_drop"), x, 0))
	assert.Equal(t, "ffn_drop", layers.DropPath(ctx.In("ffn_drop"), x, 0.05).Name())
}

func TestPooling(t *testing.T) {
	ctx, _, x := newInput(t, 1, 7, 7, 8)
	y := layers.AveragePooling(ctx.InPath("mbconv/shortcut_pool"), x, 2, 2, true)
	assert.Equal(t, []int{1, 4, 4, 8}, y.Shape().Dimensions)
	assert.Equal(t, "mbconv/shortcut_pool", y.Name())
	y = layers.GlobalAveragePooling(ctx.In("avg_pool"), y)
	assert.Equal(t, []int{1, 8}, y.Shape().Dimensions)
	assert.Equal(t, "avg_pool", y.Name())
}

func TestRelativePositionIndex(t *testing.T) {
	indices := layers.RelativePositionIndex(2, 3)
	require.Len(t, indices, 6*6)
	numPositions := int32(3 * 5)
	for _, idx := range indices {
		require.True(t, idx >= 0 && idx < numPositions)
	}
	// The diagonal (same pixel) is the center of the table.
	for ii := range 6 {
		assert.Equal(t, int32(1*5+2), indices[ii*6+ii])
	}
	// (0,0) -> (1,2): offset (-1, -2).
	assert.Equal(t, int32(0*5+0), indices[0*6+5])
	assert.Equal(t, int32(2*5+4), indices[5*6+0])
}

func TestResizeRelativePositionEmbedding(t *testing.T) {
	// Two heads over a 13x13 grid (7x7 windows): a ramp along the width, and a constant.
	source := make([]float32, 0, 2*13*13)
	for head := range 2 {
		for range 13 {
			for x := range 13 {
				if head == 0 {
					source = append(source, float32(x))
				} else {
					source = append(source, 3)
				}
			}
		}
	}
	value := tensors.FromFlatDataAndDimensions(source, 2, 13*13)

	same, err := layers.ResizeRelativePositionEmbedding(value, 13, 13, 13, 13)
	require.NoError(t, err)
	assert.Equal(t, value.Bytes(), same.Bytes())

	// 12x12 windows: 23x23 grid.
	resized, err := layers.ResizeRelativePositionEmbedding(value, 13, 13, 23, 23)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, resized.DType())
	assert.Equal(t, []int{2, 23 * 23}, resized.Shape().Dimensions)
	values := must.M1(tensors.Value[float32](resized))
	for y := range 23 {
		row := values[y*23 : (y+1)*23]
		assert.InDelta(t, 0, row[0], 1e-6)
		assert.InDelta(t, 6, row[11], 1e-6)
		assert.InDelta(t, 12, row[22], 1e-6)
		for x := 1; x < 23; x++ {
			require.GreaterOrEqual(t, row[x], row[x-1])
		}
	}
	for _, v := range values[23*23:] {
		require.InDelta(t, 3, v, 1e-6)
	}

	_, err = layers.ResizeRelativePositionEmbedding(value, 11, 11, 23, 23)
	require.Error(t, err)
}

func TestRelativePositionMultiHeadAttention(t *testing.T) {
	ctx, g, x := newInput(t, 8, 4, 4, 64)
	y := layers.RelativePositionMultiHeadAttention(ctx.InPath("block_window_mhsa"), x, 2).Done()
	assert.True(t, y.Shape().Equal(x.Shape()))
	assert.Equal(t, "block_window_mhsa/output", y.Name())
	assert.Equal(t, []int{2, 7 * 7}, ctx.InspectVariableByPath("block_window_mhsa/pos_emb/positional_embedding").Shape().Dimensions)
	assert.Equal(t, 64*192+192+2*49+64*64+64, ctx.NumParameters())
	attention := g.NodeByName("block_window_mhsa/attention")
	require.NotNil(t, attention)
	assert.Equal(t, backends.OpTypeReshape, attention.Type())
	assert.NotNil(t, g.NodeByName("block_window_mhsa/pos_emb"))

	require.Panics(t, func() { layers.RelativePositionMultiHeadAttention(ctx.In("bad"), x, 3).Done() })
}

func TestPartitionPixelsDuality(t *testing.T) {
	const height, width, windowHeight, windowWidth = 12, 8, 3, 2
	windows := layers.PartitionPixels(layers.PartitionWindow, height, width, windowHeight, windowWidth)
	grids := layers.PartitionPixels(layers.PartitionGrid, height, width, windowHeight, windowWidth)
	require.Len(t, windows, len(grids))
	for _, partitions := range [][][][2]int{windows, grids} {
		seen := make(map[[2]int]int)
		for _, pixels := range partitions {
			require.Len(t, pixels, windowHeight*windowWidth)
			for _, p := range pixels {
				seen[p]++
			}
		}
		// Exhaustive tiling: every pixel exactly once.
		require.Len(t, seen, height*width)
		for p, count := range seen {
			require.Equal(t, 1, count, "pixel %v", p)
		}
	}
	// Windows are blocks of adjacent pixels, grid partitions are strided.
	assert.Equal(t, [2]int{0, 1}, windows[0][1])
	assert.Equal(t, [2]int{0, width / windowWidth}, grids[0][1])
}

func TestWindowAttention(t *testing.T) {
	for _, partition := range []layers.PartitionType{layers.PartitionWindow, layers.PartitionGrid} {
		t.Run(partition.String(), func(t *testing.T) {
			// 7x7 map with window 4: padded to 8x8, 4 partitions of 16 pixels.
			ctx, g, x := newInput(t, 2, 7, 7, 64)
			prefix := partition.String() + "_window_mhsa"
			y := layers.WindowAttention(ctx.In(prefix), x, partition, [2]int{4, 4}, 2)
			assert.True(t, y.Shape().Equal(x.Shape()))
			assert.Equal(t, prefix+"/merge", y.Name())
			assert.Equal(t, []int{8, 4, 4, 64}, g.NodeByName(prefix+"/partition").Shape().Dimensions)
			assert.Equal(t, []int{2, 49}, ctx.InspectVariableByPath(prefix+"/pos_emb/positional_embedding").Shape().Dimensions)

			// Window larger than the map is clamped.
			ctx, _, x = newInput(t, 1, 3, 3, 32)
			y = layers.WindowAttention(ctx.In(prefix), x, partition, [2]int{7, 7}, 1)
			assert.True(t, y.Shape().Equal(x.Shape()))
			assert.Equal(t, []int{1, 25}, ctx.InspectVariableByPath(prefix+"/pos_emb/positional_embedding").Shape().Dimensions)
		})
	}
}

func TestResidualAdd(t *testing.T) {
	ctx, g, x := newInput(t, 1, 4, 4, 8)
	other := graph.Parameter(g, "other", shapes.Make(dtypes.Float32, 1, 4, 4, 16))
	require.Panics(t, func() { layers.Add(ctx.In("output"), x, other) })
	y := layers.Add(ctx.In("output"), x, graph.Neg(x))
	assert.Equal(t, "output", y.Name())
}
