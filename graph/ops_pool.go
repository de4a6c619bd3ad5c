// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/gomlx/exceptions"
)

// ReduceOpType selects the reduction of a pooling or ReduceWindow operation.
type ReduceOpType = backends.ReduceOpType

// PoolBuilder is a helper to build a pool computation.
// Create it with MaxPool or MeanPool, set the desired parameters and
// when set, call Done.
//
// The input is always "channels last": [batch, <spatial_dims...>, channels].
type PoolBuilder struct {
	graph          *Graph
	x              *Node
	reductionType  ReduceOpType
	isMean         bool
	numSpatialDims int
	windowSizes    []int
	strides        []int
	paddings       [][2]int
	padSame        bool
}

// MaxPool prepares a max pooling on x for arbitrary number of spatial dimensions (1D, 2D, 3D, etc.).
//
// Once it is set up, call PoolBuilder.Done and it will return the pooled x.
// The window size is obligatory, strides default to the window size and there is no
// padding by default.
func MaxPool(x *Node) *PoolBuilder {
	return makePoolBuilder(x, backends.ReduceOpMax)
}

// MeanPool prepares a mean pooling on x, see MaxPool for the configuration.
//
// When padding is used, the mean only takes into account the elements of x, not the padding.
func MeanPool(x *Node) *PoolBuilder {
	pool := makePoolBuilder(x, backends.ReduceOpSum)
	pool.isMean = true
	return pool
}

func makePoolBuilder(x *Node, reductionType ReduceOpType) *PoolBuilder {
	g := validateBuildingGraphFromInputs(x)
	pool := &PoolBuilder{
		graph:          g,
		x:              x,
		reductionType:  reductionType,
		numSpatialDims: x.Rank() - 2,
	}
	if pool.numSpatialDims <= 0 {
		exceptions.Panicf("pooling: input x must have rank >= 3, shaped [batch, <spatial_dimensions...>, channels], got %s", x.Shape())
	}
	return pool
}

func (pool *PoolBuilder) perAxis(value int) []int {
	values := make([]int, pool.numSpatialDims)
	for ii := range values {
		values[ii] = value
	}
	return values
}

// Window sets the pooling window size for all spatial dimensions to the same windowSize.
func (pool *PoolBuilder) Window(windowSize int) *PoolBuilder {
	pool.windowSizes = pool.perAxis(windowSize)
	return pool
}

// Strides sets the strides of the pooling for all spatial dimensions.
func (pool *PoolBuilder) Strides(strides int) *PoolBuilder {
	pool.strides = pool.perAxis(strides)
	return pool
}

// PadSame pads x such that the output spatial dimensions are ceil(input/stride), the
// "SAME" padding of TensorFlow/Keras.
func (pool *PoolBuilder) PadSame() *PoolBuilder {
	pool.padSame = true
	pool.paddings = nil
	return pool
}

// NoPadding removes any paddings. This is the default.
func (pool *PoolBuilder) NoPadding() *PoolBuilder {
	pool.padSame = false
	pool.paddings = nil
	return pool
}

// Done indicates that the pool operation is finished being configured and it returns the pooled x.
func (pool *PoolBuilder) Done() *Node {
	if len(pool.windowSizes) == 0 {
		exceptions.Panicf("pooling: window sizes required but not configured -- use .Window()")
	}
	x := pool.x
	rank := x.Rank()
	spatialStrides := pool.strides
	if spatialStrides == nil {
		spatialStrides = pool.windowSizes
	}

	// Batch and channels axes are never pooled.
	windowDimensions := slices.Concat([]int{1}, pool.windowSizes, []int{1})
	strides := slices.Concat([]int{1}, spatialStrides, []int{1})
	var paddings [][2]int
	if pool.padSame {
		paddings = make([][2]int, rank)
		for ii := range pool.numSpatialDims {
			paddings[ii+1] = SamePaddings(x.Shape().Dimensions[ii+1], pool.windowSizes[ii], spatialStrides[ii])
		}
	}
	pooled := ReduceWindow(x, pool.reductionType, windowDimensions, strides, paddings)
	if !pool.isMean {
		return pooled
	}
	hasPadding := slices.ContainsFunc(paddings, func(p [2]int) bool { return p[0] > 0 || p[1] > 0 })
	if !hasPadding {
		windowSize := 1
		for _, s := range pool.windowSizes {
			windowSize *= s
		}
		return DivScalar(pooled, float64(windowSize))
	}
	return takeMeanOfContributions(x, pooled, windowDimensions, strides, paddings)
}

// takeMeanOfContributions divides the pooled sum by the number of contributions at each position.
func takeMeanOfContributions(x, pooledSum *Node, windowDimensions, strides []int, paddings [][2]int) *Node {
	// Same reduction on a tensor of 1s, with batch and channels axes of dimension 1, since they are the same.
	shapeNoBatchOrChannels := x.Shape().Clone()
	shapeNoBatchOrChannels.Dimensions[0] = 1
	shapeNoBatchOrChannels.Dimensions[x.Rank()-1] = 1
	ones := Ones(x.graph, shapeNoBatchOrChannels)
	pooledOnes := ReduceWindow(ones, backends.ReduceOpSum, windowDimensions, strides, paddings)
	return Div(pooledSum, pooledOnes)
}

// ReduceWindow reduces x over sliding windows, see backends.Builder.ReduceWindow.
func ReduceWindow(x *Node, reductionType ReduceOpType, windowDimensions, strides []int, paddings [][2]int) *Node {
	g := validateBuildingGraphFromInputs(x)
	rank := x.Rank()
	if len(windowDimensions) != rank {
		exceptions.Panicf("ReduceWindow: windowDimensions (length %d) must have the same length as the rank of x (rank %d)", len(windowDimensions), rank)
	}
	op, err := g.builder.ReduceWindow(x.op, reductionType, windowDimensions, strides, nil, nil, paddings)
	panicIf(err, "ReduceWindow")
	return newNode(g, backends.OpTypeReduceWindow, op, x)
}

// GlobalMeanPool takes the mean over all spatial dimensions of x, shaped
// [batch, <spatial_dims...>, channels], returning [batch, channels].
func GlobalMeanPool(x *Node) *Node {
	if x.Rank() < 3 {
		exceptions.Panicf("GlobalMeanPool: input x must have rank >= 3, got %s", x.Shape())
	}
	axes := make([]int, x.Rank()-2)
	for ii := range axes {
		axes[ii] = ii + 1
	}
	return ReduceMean(x, axes...)
}
