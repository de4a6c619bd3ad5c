// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the modeling layers used by the vision models: convolutions, normalizations,
// dense layers, squeeze-and-excite, dropout and the windowed multi-head attention.
//
// A small convention on naming: typically layers are nouns (like "Convolution", "Dense" (layer),
// "MultiHeadAttention"), while computations are usually verbs ("Convolve", "Reduce..", "Multiply (Mul)", etc.).
//
// Layers follow the Keras naming of the checkpoints they load: the scope of the context given to a
// layer is its name. Its variables are created in that scope, with the Keras weight names (e.g.
// "kernel", "bias", "gamma"), and its output node is named after it. So:
//
//	y := layers.Convolution(ctx.InPath("stem_1_conv"), x).Filters(64).KernelSize(3).Done()
//
// creates the variables "stem_1_conv/kernel" and "stem_1_conv/bias", and y is named "stem_1_conv".
package layers

import (
	"strings"

	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/ml/layers/activations"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	. "github.com/gomlx/exceptions"
)

const (
	// ParamDropoutRate context hyperparameter defines the default rate of Dropout and DropPath,
	// when none is given. Should be a value from `0.0` to `1.0`.
	//
	// The default is `0.0`, which means no dropout.
	ParamDropoutRate = "dropout_rate"
)

// LayerName returns the name of the layer for the current scope of ctx: the scope without the leading separator.
func LayerName(ctx *context.Context) string {
	return strings.TrimPrefix(ctx.Scope(), context.ScopeSeparator)
}

// build runs fn with the graph name scope set to the layer name, so the intermediary nodes are named
// "<layer>/<op>_<n>", and then names the returned node after the layer.
//
// Layers are not nested with build: composite layers call their sub-layers with their own contexts.
func build(ctx *context.Context, g *graph.Graph, fn func() *graph.Node) *graph.Node {
	name := LayerName(ctx)
	if name == "" {
		Panicf("layers require a named scope, got the root scope")
	}
	var output *graph.Node
	g.WithNameScope(name, func() {
		output = fn()
	})
	return output.SetName(name)
}

// kernelInitializer is used for convolution kernels: "he normal" with fan-out, truncated.
func kernelInitializer() initializers.VariableInitializer {
	return initializers.HeNormalFanOut(initializers.NoSeed)
}

// Dense adds a single dense linear layer, a learnable linear transformation of the last axis
// of x, with an optional bias term.
//
// Variables: "kernel" shaped [inputDim, outputDim] (glorot uniform) and "bias" [outputDim] (zeros).
func Dense(ctx *context.Context, x *graph.Node, useBias bool, outputDim int) *graph.Node {
	return DenseWithActivation(ctx, x, useBias, outputDim, "")
}

// DenseWithActivation is a Dense layer with the named activation applied on its output, within the same
// layer, as Keras does for classifiers: the activated node is the one named after the layer.
func DenseWithActivation(ctx *context.Context, x *graph.Node, useBias bool, outputDim int, activationName string) *graph.Node {
	if x.Rank() == 0 {
		Panicf("input for layers.Dense needs to have rank >= 1, got %s", x.Shape())
	}
	if outputDim <= 0 {
		Panicf("layers.Dense(%q): outputDim must be > 0, got %d", LayerName(ctx), outputDim)
	}
	activation := activations.MustFromName(activationName)
	g := x.Graph()
	dtype := x.DType()
	return build(ctx, g, func() *graph.Node {
		kernelVar := ctx.WithInitializer(initializers.GlorotUniform(initializers.NoSeed)).
			VariableWithShape("kernel", shapes.Make(dtype, x.Shape().Dim(-1), outputDim))
		var bias *graph.Node
		if useBias {
			bias = ctx.WithInitializer(initializers.Zero).
				VariableWithShape("bias", shapes.Make(dtype, outputDim)).ValueGraph(g)
		}
		return activations.Apply(activation, graph.Dense(x, kernelVar.ValueGraph(g), bias))
	})
}

// ChannelAffine multiplies the last axis of x by a learned per-channel "weight", initialized to
// initialValue. With useBias it also adds a learned "bias".
//
// It is used as the "layer scale" of transformer blocks.
func ChannelAffine(ctx *context.Context, x *graph.Node, initialValue float64, useBias bool) *graph.Node {
	g := x.Graph()
	dtype := x.DType()
	channels := x.Shape().Dim(-1)
	return build(ctx, g, func() *graph.Node {
		weight := ctx.WithInitializer(initializers.Constant(initialValue)).
			VariableWithShape("weight", shapes.Make(dtype, channels)).ValueGraph(g)
		output := graph.Mul(x, broadcastToLastAxis(weight, x.Rank()))
		if useBias {
			bias := ctx.WithInitializer(initializers.Zero).
				VariableWithShape("bias", shapes.Make(dtype, channels)).ValueGraph(g)
			output = graph.Add(output, broadcastToLastAxis(bias, x.Rank()))
		}
		return output
	})
}

// broadcastToLastAxis reshapes a vector to the given rank, with the vector on the last axis.
func broadcastToLastAxis(v *graph.Node, rank int) *graph.Node {
	dims := make([]int, rank)
	for ii := range dims {
		dims[ii] = 1
	}
	dims[rank-1] = v.Shape().Dim(0)
	return graph.Reshape(v, dims...)
}

// Activation applies the named activation as a layer: the output node is named after the scope.
// The name is parsed with activations.FromName, and it panics on unknown names.
//
// The "linear" (or empty) activation returns x unchanged, and creates no node.
func Activation(ctx *context.Context, x *graph.Node, activationName string) *graph.Node {
	activation := activations.MustFromName(activationName)
	if activation == activations.TypeNone {
		return x
	}
	return build(ctx, x.Graph(), func() *graph.Node {
		return activations.Apply(activation, x)
	})
}

// ZeroPadding pads the spatial axes of x, shaped [batch, <spatial...>, channels], with pad zeros on
// each side.
func ZeroPadding(ctx *context.Context, x *graph.Node, pad int) *graph.Node {
	if pad <= 0 {
		Panicf("layers.ZeroPadding(%q): pad must be > 0, got %d", LayerName(ctx), pad)
	}
	return build(ctx, x.Graph(), func() *graph.Node {
		axes := make([]graph.PadAxis, x.Rank())
		for axis := 1; axis < x.Rank()-1; axis++ {
			axes[axis] = graph.PadAxis{Start: pad, End: pad}
		}
		return graph.Pad(x, axes...)
	})
}

// Add is the residual connection layer: it checks that the shapes of the operands agree, and adds them.
func Add(ctx *context.Context, operands ...*graph.Node) *graph.Node {
	if len(operands) < 2 {
		Panicf("layers.Add(%q) requires at least 2 operands, got %d", LayerName(ctx), len(operands))
	}
	for ii, operand := range operands[1:] {
		if !operand.Shape().Equal(operands[0].Shape()) {
			Panicf("layers.Add(%q): operand #%d shape %s doesn't match operand #0 shape %s",
				LayerName(ctx), ii+1, operand.Shape(), operands[0].Shape())
		}
	}
	return build(ctx, operands[0].Graph(), func() *graph.Node {
		output := operands[0]
		for _, operand := range operands[1:] {
			output = graph.Add(output, operand)
		}
		return output
	})
}
