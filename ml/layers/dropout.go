// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	. "github.com/gomlx/exceptions"
)

// Dropout randomly drops elements of x with the given rate, during training.
// If rate is 0, the context default ParamDropoutRate is used, and if that is also 0, x is returned
// unchanged and no node is created.
func Dropout(ctx *context.Context, x *graph.Node, rate float64) *graph.Node {
	if rate == 0 {
		rate = context.GetParamOr(ctx, ParamDropoutRate, 0.0)
	}
	return dropout(ctx, x, rate, nil)
}

// DropPath implements stochastic depth: it drops the whole example (all but the batch axis) with
// the given rate, during training. It is used on residual branches, so the block is skipped.
//
// The rate is used as given, the context ParamDropoutRate is not consulted: a rate of 0 returns x
// unchanged and no node is created.
func DropPath(ctx *context.Context, x *graph.Node, rate float64) *graph.Node {
	noiseShape := make([]int, x.Rank())
	for ii := range noiseShape {
		noiseShape[ii] = 1
	}
	noiseShape[0] = x.Shape().Dim(0)
	return dropout(ctx, x, rate, noiseShape)
}

func dropout(ctx *context.Context, x *graph.Node, rate float64, noiseShape []int) *graph.Node {
	if rate < 0 || rate >= 1 {
		Panicf("layers.Dropout(%q): rate must be in [0, 1), got %g", LayerName(ctx), rate)
	}
	if rate == 0 {
		return x
	}
	return build(ctx, x.Graph(), func() *graph.Node {
		return graph.Dropout(x, rate, noiseShape)
	})
}
