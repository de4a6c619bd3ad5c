// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	. "github.com/gomlx/exceptions"
)

const (
	// ParamBatchNormEpsilon context hyperparameter sets the default epsilon of BatchNormalization.
	// The default is 1e-3.
	ParamBatchNormEpsilon = "batch_normalization_epsilon"

	// ParamBatchNormMomentum context hyperparameter sets the default momentum of BatchNormalization.
	// The default is 0.99.
	ParamBatchNormMomentum = "batch_normalization_momentum"

	// ParamLayerNormEpsilon context hyperparameter sets the default epsilon of LayerNormalization.
	// The default is 1e-5.
	ParamLayerNormEpsilon = "layer_normalization_epsilon"
)

// BatchNormBuilder is a helper to build a batch normalization computation. Create it with BatchNormalization, set the
// desired parameters and when all is set, call Done.
type BatchNormBuilder struct {
	ctx               *context.Context
	x                 *graph.Node
	featureAxis       int
	momentum, epsilon float64
	zeroGamma         bool
}

// BatchNormalization performs a batch normalization layer on the input, using the moving average of the
// mean and variance, as in inference.
//
// featureAxis is the axis over which **not to normalize**, usually the channels axis (-1).
//
// Variables: "gamma" (ones), "beta" (zeros) and the non-trainable "moving_mean" (zeros) and
// "moving_variance" (ones), all shaped [features].
//
// The epsilon and momentum defaults are read from the context (ParamBatchNormEpsilon and ParamBatchNormMomentum).
// The momentum is not used in the graph, but it is validated and kept for the layer description.
func BatchNormalization(ctx *context.Context, x *graph.Node, featureAxis int) *BatchNormBuilder {
	return &BatchNormBuilder{
		ctx:         ctx,
		x:           x,
		featureAxis: featureAxis,
		momentum:    context.GetParamOr(ctx, ParamBatchNormMomentum, 0.99),
		epsilon:     context.GetParamOr(ctx, ParamBatchNormEpsilon, 1e-3),
	}
}

// Momentum sets the moment of the moving average of the mean and variance maintained during training.
func (builder *BatchNormBuilder) Momentum(value float64) *BatchNormBuilder {
	builder.momentum = value
	return builder
}

// Epsilon is a small float added to variance to avoid dividing by zero.
func (builder *BatchNormBuilder) Epsilon(value float64) *BatchNormBuilder {
	builder.epsilon = value
	return builder
}

// ZeroGamma initializes gamma with zeros, so the normalized output starts as zero.
func (builder *BatchNormBuilder) ZeroGamma(value bool) *BatchNormBuilder {
	builder.zeroGamma = value
	return builder
}

// Done finishes configuring the BatchNormalization and generates the graph computation to normalize the input.
func (builder *BatchNormBuilder) Done() *graph.Node {
	ctx, x := builder.ctx, builder.x
	if builder.epsilon <= 0 {
		Panicf("layers.BatchNormalization(%q): epsilon must be > 0, got %g", LayerName(ctx), builder.epsilon)
	}
	if builder.momentum <= 0 || builder.momentum >= 1 {
		Panicf("layers.BatchNormalization(%q): momentum must be in (0, 1), got %g", LayerName(ctx), builder.momentum)
	}
	g := x.Graph()
	axis := shapes.AdjustAxisToRank(x.Rank(), builder.featureAxis)
	varShape := shapes.Make(x.DType(), x.Shape().Dimensions[axis])
	return build(ctx, g, func() *graph.Node {
		gammaInit := initializers.One
		if builder.zeroGamma {
			gammaInit = initializers.Zero
		}
		gamma := ctx.WithInitializer(gammaInit).VariableWithShape("gamma", varShape).ValueGraph(g)
		beta := ctx.WithInitializer(initializers.Zero).VariableWithShape("beta", varShape).ValueGraph(g)
		mean := ctx.WithInitializer(initializers.Zero).VariableWithShape("moving_mean", varShape).
			SetTrainable(false).ValueGraph(g)
		variance := ctx.WithInitializer(initializers.One).VariableWithShape("moving_variance", varShape).
			SetTrainable(false).ValueGraph(g)
		return graph.BatchNormForInference(x, gamma, beta, mean, variance, float32(builder.epsilon), axis)
	})
}

// LayerNormBuilder is a helper to build a layer normalization computation. Create it with LayerNormalization,
// set the desired parameters and when all is set, call Done.
type LayerNormBuilder struct {
	ctx           *context.Context
	x             *graph.Node
	epsilon       float64
	center, scale bool
}

// LayerNormalization normalizes x over its last axis (the features), and then applies a learned scale
// ("gamma", ones) and offset ("beta", zeros), both shaped [features].
//
// The epsilon default is read from the context (ParamLayerNormEpsilon), and it defaults to 1e-5.
func LayerNormalization(ctx *context.Context, x *graph.Node) *LayerNormBuilder {
	return &LayerNormBuilder{
		ctx:     ctx,
		x:       x,
		epsilon: context.GetParamOr(ctx, ParamLayerNormEpsilon, 1e-5),
		center:  true,
		scale:   true,
	}
}

// Epsilon is a small float added to variance to avoid dividing by zero.
func (builder *LayerNormBuilder) Epsilon(value float64) *LayerNormBuilder {
	builder.epsilon = value
	return builder
}

// LearnedOffset defines whether the layer normalization adds a learned offset ("beta"). It defaults to true.
func (builder *LayerNormBuilder) LearnedOffset(value bool) *LayerNormBuilder {
	builder.center = value
	return builder
}

// LearnedScale defines whether the layer normalization multiplies by a learned scale ("gamma"). It defaults to true.
func (builder *LayerNormBuilder) LearnedScale(value bool) *LayerNormBuilder {
	builder.scale = value
	return builder
}

// Done finishes configuring the LayerNormalization and generates the graph computation to normalize the input.
func (builder *LayerNormBuilder) Done() *graph.Node {
	ctx, x := builder.ctx, builder.x
	if builder.epsilon <= 0 {
		Panicf("layers.LayerNormalization(%q): epsilon must be > 0, got %g", LayerName(ctx), builder.epsilon)
	}
	g := x.Graph()
	varShape := shapes.Make(x.DType(), x.Shape().Dim(-1))
	return build(ctx, g, func() *graph.Node {
		var gamma, beta *graph.Node
		if builder.scale {
			gamma = ctx.WithInitializer(initializers.One).VariableWithShape("gamma", varShape).ValueGraph(g)
		}
		if builder.center {
			beta = ctx.WithInitializer(initializers.Zero).VariableWithShape("beta", varShape).ValueGraph(g)
		}
		return graph.LayerNorm(x, []int{-1}, builder.epsilon, gamma, beta)
	})
}
