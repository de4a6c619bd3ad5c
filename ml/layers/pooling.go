// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
)

// AveragePooling takes the mean over windows of poolSize pixels, moving by strides, of x shaped
// [batch, height, width, channels]. With padSame the output size is ceil(input/strides), and the
// mean only counts the pixels inside the image.
func AveragePooling(ctx *context.Context, x *graph.Node, poolSize, strides int, padSame bool) *graph.Node {
	return build(ctx, x.Graph(), func() *graph.Node {
		pool := graph.MeanPool(x).Window(poolSize).Strides(strides)
		if padSame {
			pool.PadSame()
		} else {
			pool.NoPadding()
		}
		return pool.Done()
	})
}

// GlobalAveragePooling takes the mean over the spatial axes of x shaped [batch, <spatial...>, channels],
// and returns [batch, channels].
func GlobalAveragePooling(ctx *context.Context, x *graph.Node) *graph.Node {
	return build(ctx, x.Graph(), func() *graph.Node {
		return graph.GlobalMeanPool(x)
	})
}
