// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package maxvit builds the MaxViT ("Multi-Axis Vision Transformer") image classification model.
//
// MaxViT stacks blocks made of an MBConv convolution unit followed by two attention units: one
// attending within local windows of the feature map ("block_") and one attending over a sparse
// grid spanning the whole map ("grid_").
//
// The layers and variables are named as in the Keras models of keras_cv_attention_models, so
// the published checkpoints can be loaded by name (see LoadKerasWeights and LoadPretrained).
//
// Example:
//
//	model, err := maxvit.Build(maxvit.Tiny(maxvit.WithDropConnectRate(0.2)))
//	if err != nil { ... }
//	fmt.Println(model.Summary())
//
// Reference: "MaxViT: Multi-Axis Vision Transformer", https://arxiv.org/abs/2204.01697
package maxvit

import (
	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/layers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// The default backend.
	_ "github.com/avber/keras-cv-attention-models/backends/symbolic"
)

// InputName is the name of the input parameter of the graph built by Build.
const InputName = "input"

// Model is a built MaxViT graph. It is immutable once built.
type Model struct {
	// Name of the model, also the name of the graph.
	Name string

	Config Config
	Plan   Plan

	Graph   *graph.Graph
	Context *context.Context

	Input, Output *graph.Node
}

// Build the model described by cfg in a new graph, with a new context holding its variables.
//
// Configuration errors are returned as *ConfigurationError.
func Build(cfg Config) (model *Model, err error) {
	plan, err := cfg.Plan()
	if err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		backend := cfg.Backend
		if backend == nil {
			backend = backends.New()
		}
		g := graph.NewGraph(backend, cfg.Name)
		ctx := context.New()
		input := graph.Parameter(g, InputName,
			shapes.Make(cfg.DType, cfg.BatchSize, cfg.InputShape[0], cfg.InputShape[1], cfg.InputShape[2]))
		output := buildGraph(ctx, input, cfg, plan)
		model = &Model{
			Name:    cfg.Name,
			Config:  cfg,
			Plan:    plan,
			Graph:   g,
			Context: ctx,
			Input:   input,
			Output:  output,
		}
	})
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, errors.WithMessagef(err, "failed to build %q", cfg.Name)
	}
	klog.V(1).Infof("built %q: %d nodes, %d parameters (%d trainable), output %s",
		model.Name, model.Graph.NumNodes(), model.NumParameters(), model.NumTrainableParameters(), model.Output.Shape())
	return model, nil
}

// MustBuild is like Build, but panics on errors.
func MustBuild(cfg Config) *Model {
	model, err := Build(cfg)
	if err != nil {
		panic(err)
	}
	return model
}

// BuildGraph builds the model on the given input, shaped [batch, height, width, channels], and returns
// its output. The variables are created in the scope of ctx.
//
// It is meant to be used within other graphs: it panics (with a *ConfigurationError for invalid
// configurations) instead of returning errors.
func BuildGraph(ctx *context.Context, input *graph.Node, cfg Config) *graph.Node {
	plan, err := cfg.Plan()
	if err != nil {
		panic(err)
	}
	return buildGraph(ctx, input, cfg, plan)
}

func buildGraph(ctx *context.Context, input *graph.Node, cfg Config, plan Plan) *graph.Node {
	if input.Rank() != 4 {
		panic(configErrorf("InputShape", "input must be shaped [batch, height, width, channels], got %s", input.Shape()))
	}
	if dims := input.Shape().Dimensions; dims[1] != cfg.InputShape[0] || dims[2] != cfg.InputShape[1] || dims[3] != cfg.InputShape[2] {
		panic(configErrorf("InputShape", "configured as %v, but input is shaped %s", cfg.InputShape, input.Shape()))
	}
	x := input
	if x.DType() != cfg.DType {
		x = graph.ConvertDType(x, cfg.DType)
	}
	x = Stem(ctx, x, cfg)
	for _, block := range plan.Blocks {
		blockCtx := ctx.In(block.Name())
		x = MBConv(blockCtx.In("mbconv"), x, cfg, block)
		x = AttentionFFN(blockCtx, x, cfg, block, layers.PartitionWindow, plan.WindowSize)
		x = AttentionFFN(blockCtx, x, cfg, block, layers.PartitionGrid, plan.WindowSize)
	}
	return Head(ctx, x, cfg)
}

// Stem is the entry of the model: a strided 3x3 convolution, normalization and activation, and a second
// 3x3 convolution. It halves the spatial dimensions (rounding up).
func Stem(ctx *context.Context, x *graph.Node, cfg Config) *graph.Node {
	profile := cfg.NumericProfile()
	x = conv2D(ctx, x, "stem_1_", cfg.StemWidth, 3, 2, true, profile)
	x = normAct(ctx, x, "stem_1_", cfg.Activation, cfg.Normalization, profile)
	return conv2D(ctx, x, "stem_2_", cfg.StemWidth, 3, 1, true, profile)
}

// MBConv is the inverted bottleneck convolution unit, with a pre-activation normalization and an
// optional squeeze-and-excite.
//
// ctx should be scoped at the unit, e.g. "stack_1_block_1/mbconv".
func MBConv(ctx *context.Context, x *graph.Node, cfg Config, block BlockSpec) *graph.Node {
	profile := cfg.NumericProfile()
	hidden := block.OutChannels * cfg.Expansion

	shortcut := x
	if block.Stride > 1 {
		shortcut = layers.AveragePooling(ctx.In("shortcut_pool"), shortcut, block.Stride, block.Stride, true)
	}
	if block.ShortcutProjection {
		shortcut = conv2D(ctx, shortcut, "shortcut_", block.OutChannels, 1, 1, true, profile)
	}

	nn := normAct(ctx, x, "preact_", "", cfg.Normalization, profile)
	nn = conv2D(ctx, nn, "expand_", hidden, 1, 1, false, profile)
	nn = normAct(ctx, nn, "expand_", cfg.Activation, cfg.Normalization, profile)
	nn = depthwiseConv2D(ctx, nn, "MB_", 3, block.Stride, profile)
	nn = normAct(ctx, nn, "MB_dw_", cfg.Activation, cfg.Normalization, profile)
	if block.SERatio > 0 {
		nn = layers.SqueezeExcite(ctx.In("se"), nn).
			Ratio(block.SERatio / float64(cfg.Expansion)).
			Activation("swish").
			Done()
	}
	nn = conv2D(ctx, nn, "MB_pw_", block.OutChannels, 1, 1, true, profile)
	nn = layers.DropPath(ctx.In("drop"), nn, block.DropRate)

	if !shortcut.Shape().Equal(nn.Shape()) {
		exceptions.Panicf("maxvit.MBConv(%q): shortcut shaped %s doesn't match the residual branch shaped %s",
			layers.LayerName(ctx), shortcut.Shape(), nn.Shape())
	}
	return layers.Add(ctx.In("output"), shortcut, nn)
}

// AttentionFFN is the transformer unit of a block: multi-head attention over the windows (for
// layers.PartitionWindow) or over the grid (layers.PartitionGrid) of the feature map, followed by a
// feed-forward network, both pre-normalized and with residual connections.
//
// ctx should be scoped at the block, e.g. "stack_1_block_1": the layers are prefixed with "block_" or "grid_".
func AttentionFFN(ctx *context.Context, x *graph.Node, cfg Config, block BlockSpec, partition layers.PartitionType, windowSize [2]int) *graph.Node {
	channels := x.Shape().Dim(-1)
	if cfg.HeadDimension <= 0 || channels%cfg.HeadDimension != 0 {
		panic(configErrorf("HeadDimension", "block %s width %d is not divisible by the head dimension %d",
			block.Name(), channels, cfg.HeadDimension))
	}
	numHeads := channels / cfg.HeadDimension
	prefix := "block_"
	if partition == layers.PartitionGrid {
		prefix = "grid_"
	}

	attn := layers.LayerNormalization(ctx.In(prefix+"attn_preact_ln"), x).Epsilon(LayerNormEpsilon).Done()
	attn = layers.WindowAttention(ctx.In(prefix+"window_mhsa"), attn, partition, windowSize, numHeads)
	if cfg.LayerScale != nil {
		attn = layers.ChannelAffine(ctx.In(prefix+"1_gamma"), attn, *cfg.LayerScale, false)
	}
	attn = layers.DropPath(ctx.In(prefix+"attn_drop"), attn, block.DropRate)
	attn = layers.Add(ctx.In(prefix+"attn_output"), x, attn)

	ffn := layers.LayerNormalization(ctx.In(prefix+"ffn_preact_ln"), attn).Epsilon(LayerNormEpsilon).Done()
	ffn = layers.Dense(ctx.InPath(prefix+"ffn/1_dense"), ffn, true, channels*cfg.Expansion)
	ffn = layers.Activation(ctx.InPath(prefix+cfg.Activation), ffn, cfg.Activation)
	ffn = layers.Dense(ctx.InPath(prefix+"ffn/2_dense"), ffn, true, channels)
	if cfg.LayerScale != nil {
		ffn = layers.ChannelAffine(ctx.In(prefix+"2_gamma"), ffn, *cfg.LayerScale, false)
	}
	ffn = layers.DropPath(ctx.In(prefix+"ffn_drop"), ffn, block.DropRate)
	return layers.Add(ctx.In(prefix+"ffn_output"), attn, ffn)
}

// Head is the classifier: global average pooling, layer normalization, an optional "features"
// projection with tanh, dropout and the "predictions" dense layer, computed in float32.
//
// If cfg.NumClasses <= 0, x is returned unchanged.
func Head(ctx *context.Context, x *graph.Node, cfg Config) *graph.Node {
	if cfg.NumClasses <= 0 {
		return x
	}
	nn := layers.GlobalAveragePooling(ctx.In("avg_pool"), x)
	nn = layers.LayerNormalization(ctx.In("post_ln"), nn).Epsilon(LayerNormEpsilon).Done()
	outputFilter := cfg.OutputFilter
	if outputFilter == -1 {
		outputFilter = x.Shape().Dim(-1)
	}
	if outputFilter > 0 {
		nn = layers.Dense(ctx.In("features"), nn, true, outputFilter)
		nn = layers.Activation(ctx.In("features_tanh"), nn, "tanh")
	}
	if cfg.Dropout > 0 {
		nn = layers.Dropout(ctx.In("head_drop"), nn, cfg.Dropout)
	}
	if nn.DType() != dtypes.Float32 {
		nn = graph.ConvertDType(nn, dtypes.Float32)
	}
	return layers.DenseWithActivation(ctx.In("predictions"), nn, true, cfg.NumClasses, cfg.ClassifierActivation)
}

// conv2D adds the convolution layer prefix+"conv". In torch mode, kernels larger than 1 are preceded by
// the zero padding layer prefix+"pad", otherwise the convolution uses "SAME" padding.
func conv2D(ctx *context.Context, x *graph.Node, prefix string, filters, kernelSize, strides int, useBias bool, profile NumericProfile) *graph.Node {
	pad := kernelSize / 2
	if profile.Padding == PaddingTorch && pad > 0 {
		x = layers.ZeroPadding(ctx.In(prefix+"pad"), x, pad)
	}
	conv := layers.Convolution(ctx.In(prefix+"conv"), x).
		Filters(filters).
		KernelSize(kernelSize).
		Strides(strides).
		UseBias(useBias)
	if profile.Padding == PaddingTorch {
		conv.NoPadding()
	} else {
		conv.PadSame()
	}
	return conv.Done()
}

// depthwiseConv2D adds the depthwise convolution layer prefix+"dw_conv", preceded in torch mode by the
// zero padding layer prefix+"dw_pad".
func depthwiseConv2D(ctx *context.Context, x *graph.Node, prefix string, kernelSize, strides int, profile NumericProfile) *graph.Node {
	pad := kernelSize / 2
	if profile.Padding == PaddingTorch && pad > 0 {
		x = layers.ZeroPadding(ctx.In(prefix+"dw_pad"), x, pad)
	}
	conv := layers.DepthwiseConvolution(ctx.In(prefix+"dw_conv"), x).
		KernelSize(kernelSize).
		Strides(strides)
	if profile.Padding == PaddingTorch {
		conv.NoPadding()
	} else {
		conv.PadSame()
	}
	return conv.Done()
}

// normAct adds the normalization layer prefix+"bn" (or prefix+"ln") followed, if activation is not empty,
// by the activation layer prefix+activation.
func normAct(ctx *context.Context, x *graph.Node, prefix, activation, normalization string, profile NumericProfile) *graph.Node {
	switch normalization {
	case NormalizationBatch:
		x = layers.BatchNormalization(ctx.In(prefix+"bn"), x, -1).
			Epsilon(profile.Epsilon).
			Momentum(profile.Momentum).
			Done()
	case NormalizationLayer:
		x = layers.LayerNormalization(ctx.In(prefix+"ln"), x).
			Epsilon(profile.Epsilon).
			Done()
	default:
		panic(configErrorf("Normalization", "unknown normalization %q", normalization))
	}
	if activation == "" {
		return x
	}
	return layers.Activation(ctx.InPath(prefix+activation), x, activation)
}
