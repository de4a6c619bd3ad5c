// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"

	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	. "github.com/gomlx/exceptions"
)

// MakeDivisible rounds v to the closest multiple of divisor, at least minValue (or divisor if minValue is 0).
// If rounding down loses more than (1-limitRoundDown) of v, it rounds up instead.
func MakeDivisible(v float64, divisor, minValue int, limitRoundDown float64) int {
	if minValue <= 0 {
		minValue = divisor
	}
	rounded := int(math.Floor(v+float64(divisor)/2)) / divisor * divisor
	newValue := max(minValue, rounded)
	if float64(newValue) < limitRoundDown*v {
		newValue += divisor
	}
	return newValue
}

// SqueezeExciteBuilder is a helper to build a squeeze-and-excite block, created with SqueezeExcite.
type SqueezeExciteBuilder struct {
	ctx            *context.Context
	x              *graph.Node
	ratio          float64
	divisor        int
	limitRoundDown float64
	activation     string
}

// SqueezeExcite creates a squeeze-and-excite block on x, shaped [batch, height, width, channels]:
// the spatial mean of x goes through a bottleneck of 1x1 convolutions ("1_conv", activation, "2_conv"),
// and a sigmoid, and the result scales the channels of x ("out").
//
// The bottleneck width is MakeDivisible(channels*ratio, divisor, 0, 0.9).
// The sub-layers are named relative to the scope of ctx.
func SqueezeExcite(ctx *context.Context, x *graph.Node) *SqueezeExciteBuilder {
	return &SqueezeExciteBuilder{
		ctx:            ctx,
		x:              x,
		ratio:          0.25,
		divisor:        8,
		limitRoundDown: 0.9,
		activation:     "relu",
	}
}

// Ratio of the bottleneck width to the number of channels. Default is 0.25.
func (se *SqueezeExciteBuilder) Ratio(ratio float64) *SqueezeExciteBuilder {
	se.ratio = ratio
	return se
}

// Divisor the bottleneck width is rounded to. Default is 8.
func (se *SqueezeExciteBuilder) Divisor(divisor int) *SqueezeExciteBuilder {
	se.divisor = divisor
	return se
}

// Activation of the bottleneck. Default is "relu".
func (se *SqueezeExciteBuilder) Activation(activation string) *SqueezeExciteBuilder {
	se.activation = activation
	return se
}

// ReducedChannels returns the width of the bottleneck.
func (se *SqueezeExciteBuilder) ReducedChannels() int {
	return MakeDivisible(float64(se.x.Shape().Dim(-1))*se.ratio, se.divisor, 0, se.limitRoundDown)
}

// Done creates the block and returns x scaled by the excitation.
func (se *SqueezeExciteBuilder) Done() *graph.Node {
	ctx, x := se.ctx, se.x
	if se.ratio <= 0 || se.ratio > 1 {
		Panicf("layers.SqueezeExcite(%q): ratio must be in (0, 1], got %g", LayerName(ctx), se.ratio)
	}
	if x.Rank() != 4 {
		Panicf("layers.SqueezeExcite(%q): x must be shaped [batch, height, width, channels], got %s", LayerName(ctx), x.Shape())
	}
	channels := x.Shape().Dim(-1)
	squeezed := build(ctx.In("reduce_mean"), x.Graph(), func() *graph.Node {
		return graph.ReduceAndKeep(x, graph.ReduceMean, 1, 2)
	})
	excite := Convolution(ctx.In("1_conv"), squeezed).Filters(se.ReducedChannels()).KernelSize(1).UseBias(true).Done()
	excite = Activation(ctx.InPath(se.activation), excite, se.activation)
	excite = Convolution(ctx.In("2_conv"), excite).Filters(channels).KernelSize(1).UseBias(true).Done()
	excite = Activation(ctx.In("sigmoid"), excite, "sigmoid")
	return build(ctx.In("out"), x.Graph(), func() *graph.Node {
		return graph.Mul(x, excite)
	})
}
