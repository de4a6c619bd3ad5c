// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	. "github.com/gomlx/exceptions"
)

// This file contains the 2D convolution layers: Convolution and DepthwiseConvolution.

// ConvBuilder is a helper to build a convolution computation. Create it with Convolution, set the desired parameters
// and when all is set, call Done.
type ConvBuilder struct {
	ctx        *context.Context
	x          *graph.Node
	filters    int
	kernelSize int
	strides    int
	bias       bool
	padSame    bool
}

// Convolution prepares a 2D convolution on x, shaped [batch, height, width, channels], named after
// the scope of ctx.
//
// It returns a ConvBuilder object for configuration. Once it is set up call `ConvBuilder.Done`
// and it will return the convolved x. Filters and KernelSize must be set, the defaults are
// stride 1, no padding and no bias.
//
// Variables: "kernel" shaped [kernelSize, kernelSize, input_channels, filters] and the optional "bias".
func Convolution(ctx *context.Context, x *graph.Node) *ConvBuilder {
	if x.Rank() != 4 {
		Panicf("layers.Convolution(%q): x must be shaped [batch, height, width, channels], got %s", LayerName(ctx), x.Shape())
	}
	return &ConvBuilder{
		ctx:     ctx,
		x:       x,
		strides: 1,
	}
}

// Filters sets the number of filters: the number of output channels. There is no default
// and this number must be set, before Done is called.
func (conv *ConvBuilder) Filters(filters int) *ConvBuilder {
	if filters <= 0 {
		Panicf("number of filters must be > 0, it was set to %d", filters)
	}
	conv.filters = filters
	return conv
}

// KernelSize sets the kernel size for both spatial axes. There is no default
// and this number must be set, before Done is called.
func (conv *ConvBuilder) KernelSize(size int) *ConvBuilder {
	if size <= 0 {
		Panicf("kernel size must be > 0, it was set to %d", size)
	}
	conv.kernelSize = size
	return conv
}

// Strides sets the strides of the convolution for both spatial axes. The default is 1.
func (conv *ConvBuilder) Strides(strides int) *ConvBuilder {
	if strides <= 0 {
		Panicf("strides must be > 0, it was set to %d", strides)
	}
	conv.strides = strides
	return conv
}

// UseBias sets whether to add a trainable bias term to the convolution. Default is false.
func (conv *ConvBuilder) UseBias(useBias bool) *ConvBuilder {
	conv.bias = useBias
	return conv
}

// PadSame pads x with the TensorFlow "SAME" rule: the output spatial size is ceil(input/strides), with
// the odd padding going to the end.
func (conv *ConvBuilder) PadSame() *ConvBuilder {
	conv.padSame = true
	return conv
}

// NoPadding removes any paddings ("VALID"), so if the kernel size is > 1, the output shape will be reduced
// on the edges. This is the default.
func (conv *ConvBuilder) NoPadding() *ConvBuilder {
	conv.padSame = false
	return conv
}

// Done creates the kernel (and bias) variables and the convolution, and returns the convolved x.
func (conv *ConvBuilder) Done() *graph.Node {
	if conv.kernelSize <= 0 || conv.filters <= 0 {
		Panicf("layers.Convolution(%q) requires Filters and KernelSize to be set", LayerName(conv.ctx))
	}
	ctx, x := conv.ctx, conv.x
	g := x.Graph()
	dtype := x.DType()
	return build(ctx, g, func() *graph.Node {
		kernelShape := shapes.Make(dtype, conv.kernelSize, conv.kernelSize, x.Shape().Dim(-1), conv.filters)
		kernel := ctx.WithInitializer(kernelInitializer()).VariableWithShape("kernel", kernelShape).ValueGraph(g)
		convOpts := graph.Convolve(x, kernel).Strides(conv.strides)
		if conv.padSame {
			convOpts.PadSame()
		} else {
			convOpts.NoPadding()
		}
		output := convOpts.Done()
		if conv.bias {
			bias := ctx.WithInitializer(initializers.Zero).
				VariableWithShape("bias", shapes.Make(dtype, conv.filters)).ValueGraph(g)
			output = graph.Add(output, broadcastToLastAxis(bias, output.Rank()))
		}
		return output
	})
}

// DepthwiseConvBuilder is a helper to build a depthwise convolution, created with DepthwiseConvolution.
type DepthwiseConvBuilder struct {
	ctx        *context.Context
	x          *graph.Node
	kernelSize int
	strides    int
	bias       bool
	padSame    bool
}

// DepthwiseConvolution prepares a 2D depthwise convolution on x, shaped [batch, height, width, channels]:
// each channel is convolved with its own kernel (depth multiplier 1).
//
// Variables: "depthwise_kernel" shaped [kernelSize, kernelSize, channels, 1], as in Keras, and the optional "bias".
func DepthwiseConvolution(ctx *context.Context, x *graph.Node) *DepthwiseConvBuilder {
	if x.Rank() != 4 {
		Panicf("layers.DepthwiseConvolution(%q): x must be shaped [batch, height, width, channels], got %s", LayerName(ctx), x.Shape())
	}
	return &DepthwiseConvBuilder{
		ctx:     ctx,
		x:       x,
		strides: 1,
	}
}

// KernelSize sets the kernel size for both spatial axes. It must be set.
func (conv *DepthwiseConvBuilder) KernelSize(size int) *DepthwiseConvBuilder {
	if size <= 0 {
		Panicf("kernel size must be > 0, it was set to %d", size)
	}
	conv.kernelSize = size
	return conv
}

// Strides sets the strides for both spatial axes. The default is 1.
func (conv *DepthwiseConvBuilder) Strides(strides int) *DepthwiseConvBuilder {
	if strides <= 0 {
		Panicf("strides must be > 0, it was set to %d", strides)
	}
	conv.strides = strides
	return conv
}

// UseBias sets whether to add a trainable bias term. Default is false.
func (conv *DepthwiseConvBuilder) UseBias(useBias bool) *DepthwiseConvBuilder {
	conv.bias = useBias
	return conv
}

// PadSame pads x with the TensorFlow "SAME" rule. The default is no padding.
func (conv *DepthwiseConvBuilder) PadSame() *DepthwiseConvBuilder {
	conv.padSame = true
	return conv
}

// NoPadding removes any paddings. This is the default.
func (conv *DepthwiseConvBuilder) NoPadding() *DepthwiseConvBuilder {
	conv.padSame = false
	return conv
}

// Done creates the variables and the depthwise convolution.
func (conv *DepthwiseConvBuilder) Done() *graph.Node {
	if conv.kernelSize <= 0 {
		Panicf("layers.DepthwiseConvolution(%q) requires KernelSize to be set", LayerName(conv.ctx))
	}
	ctx, x := conv.ctx, conv.x
	g := x.Graph()
	dtype := x.DType()
	channels := x.Shape().Dim(-1)
	return build(ctx, g, func() *graph.Node {
		kernelShape := shapes.Make(dtype, conv.kernelSize, conv.kernelSize, channels, 1)
		kernel := ctx.WithInitializer(kernelInitializer()).VariableWithShape("depthwise_kernel", kernelShape).ValueGraph(g)
		// Grouped convolution: one group per channel, each with one input and one output channel.
		kernel = graph.Reshape(kernel, conv.kernelSize, conv.kernelSize, 1, channels)
		convOpts := graph.Convolve(x, kernel).Strides(conv.strides).ChannelGroupCount(channels)
		if conv.padSame {
			convOpts.PadSame()
		} else {
			convOpts.NoPadding()
		}
		output := convOpts.Done()
		if conv.bias {
			bias := ctx.WithInitializer(initializers.Zero).
				VariableWithShape("bias", shapes.Make(dtype, channels)).ValueGraph(g)
			output = graph.Add(output, broadcastToLastAxis(bias, output.Rank()))
		}
		return output
	})
}
