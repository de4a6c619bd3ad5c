// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package maxvit

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/layers"
	"github.com/avber/keras-cv-attention-models/types"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	testCases := []struct {
		config                         Config
		trainable, nonTrainable, total int
	}{
		{Tiny(), 30_916_528, 47_616, 30_964_144},
		{Small(), 68_927_956, 71_296, 68_999_252},
		{Base(), 119_467_708, 147_328, 119_615_036},
		{Large(), 211_785_560, 196_608, 211_982_168},
		{XLarge(), 474_951_952, 294_912, 475_246_864},
	}
	for _, tc := range testCases {
		t.Run(tc.config.Name, func(t *testing.T) {
			model, err := Build(tc.config)
			require.NoError(t, err)
			assert.Equal(t, tc.trainable, model.NumTrainableParameters())
			assert.Equal(t, tc.nonTrainable, model.NumNonTrainableParameters())
			assert.Equal(t, tc.total, model.NumParameters())
			assert.NoError(t, model.Output.Shape().CheckDims(1, 1000))
			assert.Equal(t, dtypes.Float32, model.Output.DType())
			assert.Equal(t, "predictions", model.Output.Name())
			assert.Equal(t, tc.config.Name, model.Graph.Name())
		})
	}
}

func TestVariants(t *testing.T) {
	testCases := []struct {
		name      string
		config    Config
		trainable int
		output    []int
	}{
		{"no_head", Tiny(WithNumClasses(0)), 30_139_848, []int{1, 7, 7, 512}},
		{"64x64_10_classes", Tiny(WithInputShape(64, 64, 3), WithNumClasses(10)), 30_381_778, []int{1, 10}},
		{"384x384", Tiny(WithInputShape(384, 384, 3)), 30_977_008, []int{1, 1000}},
		{"layer_scale", Tiny(WithLayerScale(1e-6)), 30_916_528 + 4*(2*64+2*128+5*256+2*512), []int{1, 1000}},
		{"torch", Tiny(WithTorchMode(true)), 30_916_528, []int{1, 1000}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			model, err := Build(tc.config)
			require.NoError(t, err)
			assert.Equal(t, tc.trainable, model.NumTrainableParameters())
			assert.NoError(t, model.Output.Shape().CheckDims(tc.output...))
		})
	}
}

func TestNoHead(t *testing.T) {
	model := MustBuild(Tiny(WithNumClasses(0)))
	assert.Equal(t, "stack_4_block_2/grid_ffn_output", model.Output.Name())
	names := types.SetWith(model.NodeNames()...)
	for _, name := range []string{"avg_pool", "post_ln", "features", "features_tanh", "predictions"} {
		assert.False(t, names.Has(name), "node %q shouldn't exist without a head", name)
	}
}

func TestNodeNames(t *testing.T) {
	model := MustBuild(Tiny(WithDropConnectRate(0.2), WithDropout(0.1)))
	names := types.SetWith(model.NodeNames()...)
	for _, name := range []string{
		"input",
		"stem_1_conv", "stem_1_bn", "stem_1_gelu/app", "stem_2_conv",
		"stack_1_block_1/mbconv/shortcut_pool",
		"stack_1_block_1/mbconv/preact_bn",
		"stack_1_block_1/mbconv/expand_conv",
		"stack_1_block_1/mbconv/expand_bn",
		"stack_1_block_1/mbconv/expand_gelu/app",
		"stack_1_block_1/mbconv/MB_dw_conv",
		"stack_1_block_1/mbconv/MB_dw_bn",
		"stack_1_block_1/mbconv/se/1_conv",
		"stack_1_block_1/mbconv/se/2_conv",
		"stack_1_block_1/mbconv/MB_pw_conv",
		"stack_1_block_1/mbconv/output",
		"stack_1_block_2/mbconv/drop",
		"stack_2_block_1/mbconv/shortcut_conv",
		"stack_1_block_1/block_attn_preact_ln",
		"stack_1_block_1/block_window_mhsa/qkv",
		"stack_1_block_1/block_window_mhsa/output",
		"stack_1_block_1/block_attn_output",
		"stack_1_block_1/block_ffn_preact_ln",
		"stack_1_block_1/block_ffn/1_dense",
		"stack_1_block_1/block_gelu/app",
		"stack_1_block_1/block_ffn/2_dense",
		"stack_1_block_1/block_ffn_output",
		"stack_1_block_2/block_attn_drop",
		"stack_1_block_2/grid_ffn_drop",
		"stack_4_block_2/grid_window_mhsa/output",
		"stack_4_block_2/grid_ffn_output",
		"avg_pool", "post_ln", "features", "features_tanh", "head_drop", "predictions",
	} {
		assert.True(t, names.Has(name), "node %q not found", name)
	}
	for _, name := range []string{
		"stack_1_block_1/mbconv/shortcut_conv", // Stem width is the same as the first stage.
		"stack_1_block_2/mbconv/shortcut_pool", // Only the first block of a stage is strided.
		"stack_1_block_1/mbconv/drop",          // Drop rate of the first block is 0.
		"stack_1_block_1/block_1_gamma",        // No layer scale by default.
		"stem_1_pad",                           // Only in torch mode.
	} {
		assert.False(t, names.Has(name), "node %q shouldn't exist", name)
	}

	v := model.Context.InspectVariableByPath("/stack_1_block_1/block_window_mhsa/pos_emb/positional_embedding")
	require.NotNil(t, v)
	assert.NoError(t, v.Shape().CheckDims(2, 13*13))
	v = model.Context.InspectVariableByPath("/stack_1_block_1/mbconv/MB_dw_conv/depthwise_kernel")
	require.NotNil(t, v)
	assert.NoError(t, v.Shape().CheckDims(3, 3, 256, 1))
	v = model.Context.InspectVariableByPath("/stack_1_block_1/mbconv/preact_bn/moving_variance")
	require.NotNil(t, v)
	assert.False(t, v.Trainable)
}

func TestTorchMode(t *testing.T) {
	model := MustBuild(Tiny(WithTorchMode(true), WithLayerScale(1e-6), WithInputShape(225, 225, 3)))
	names := types.SetWith(model.NodeNames()...)
	for _, name := range []string{
		"stem_1_pad", "stem_2_pad",
		"stack_1_block_1/mbconv/MB_dw_pad",
		"stack_1_block_1/block_1_gamma", "stack_1_block_1/grid_2_gamma",
	} {
		assert.True(t, names.Has(name), "node %q not found", name)
	}
	assert.Equal(t, NumericProfile{Epsilon: 1e-5, Momentum: 0.9, Padding: PaddingTorch}, model.Config.NumericProfile())
	stem := model.Graph.NodeByName("stem_2_conv")
	require.NotNil(t, stem)
	assert.NoError(t, stem.Shape().CheckDims(1, 113, 113, 64))
	assert.NoError(t, model.Output.Shape().CheckDims(1, 1000))
}

func TestDeterministic(t *testing.T) {
	cfg := Tiny(WithInputShape(64, 64, 3))
	model1 := MustBuild(cfg)
	model2 := MustBuild(cfg)
	assert.Equal(t, model1.NodeNames(), model2.NodeNames())
	assert.True(t, model1.Output.Shape().Equal(model2.Output.Shape()))
	assert.NotEqual(t, model1.Graph.Id(), model2.Graph.Id())
	assert.Equal(t, model1.NumParameters(), model2.NumParameters())
}

func TestPlan(t *testing.T) {
	plan, err := Small(WithDropConnectRate(0.3)).Plan()
	require.NoError(t, err)
	require.Equal(t, 11, plan.TotalBlocks())
	assert.Equal(t, [2]int{7, 7}, plan.WindowSize)
	assert.Equal(t, [3]int{112, 112, 64}, plan.StemShape)
	assert.Equal(t, 768, plan.OutputFilter)

	for _, preset := range Presets() {
		t.Run(preset.String(), func(t *testing.T) {
			cfg := must.M1(NewConfig(preset, WithDropConnectRate(0.3)))
			plan := must.M1(cfg.Plan())
			require.Len(t, plan.Blocks, plan.TotalBlocks())

			// Drop rates: 0 at the first block, non-decreasing, below the configured rate at the last.
			assert.Equal(t, 0.0, plan.Blocks[0].DropRate)
			for ii := 1; ii < len(plan.Blocks); ii++ {
				assert.GreaterOrEqual(t, plan.Blocks[ii].DropRate, plan.Blocks[ii-1].DropRate)
				assert.Equal(t, ii, plan.Blocks[ii].GlobalIndex)
			}
			assert.Less(t, plan.Blocks[len(plan.Blocks)-1].DropRate, 0.3)

			// Shortcut projection exactly at the first block of stages changing the width, and stride only there.
			inChannels := cfg.StemWidth
			for _, block := range plan.Blocks {
				assert.Equal(t, inChannels, block.InChannels, block.Name())
				assert.Equal(t, block.FirstInStage && block.InChannels != block.OutChannels, block.ShortcutProjection, block.Name())
				if block.FirstInStage {
					assert.Equal(t, 2, block.Stride, block.Name())
				} else {
					assert.Equal(t, 1, block.Stride, block.Name())
					assert.Equal(t, block.InChannels, block.OutChannels, block.Name())
					assert.False(t, block.ShortcutProjection, block.Name())
				}
				inChannels = block.OutChannels
			}
		})
	}
	assert.True(t, plan.Blocks[0].ShortcutProjection) // 64 -> 96.

	tinyPlan := must.M1(Tiny().Plan())
	assert.False(t, tinyPlan.Blocks[0].ShortcutProjection) // 64 -> 64.
	assert.Equal(t, []StageConfig{
		{NumBlocks: 2, OutChannels: 64, Stride: 2, NumHeads: 2},
		{NumBlocks: 2, OutChannels: 128, Stride: 2, NumHeads: 4},
		{NumBlocks: 5, OutChannels: 256, Stride: 2, NumHeads: 8},
		{NumBlocks: 2, OutChannels: 512, Stride: 2, NumHeads: 16},
	}, tinyPlan.Stages)
	height, width := tinyPlan.OutputShape(NumStages - 1)
	assert.Equal(t, []int{7, 7}, []int{height, width})

	// No drop-connect: all rates are 0.
	for _, block := range tinyPlan.Blocks {
		assert.Equal(t, 0.0, block.DropRate)
	}
}

func TestSERatios(t *testing.T) {
	noSE := MustBuild(Tiny(WithSERatio(0), WithInputShape(64, 64, 3)))
	assert.Nil(t, noSE.Context.InspectVariableByPath("/stack_1_block_1/mbconv/se/1_conv/kernel"))

	perBlock := MustBuild(Tiny(WithInputShape(64, 64, 3), WithBlockSERatios([][]float64{
		{0, 0.25}, {0.25}, {0.25}, {0.25},
	})))
	assert.Nil(t, perBlock.Context.InspectVariableByPath("/stack_1_block_1/mbconv/se/1_conv/kernel"))
	v := perBlock.Context.InspectVariableByPath("/stack_1_block_2/mbconv/se/1_conv/kernel")
	require.NotNil(t, v)
	// Reduced channels: make_divisible(256 * 0.25 / 4, 8) = 16.
	assert.NoError(t, v.Shape().CheckDims(1, 1, 256, 16))

	perStage := Tiny(WithStageSERatios(0.25, 0.25, 0, 0.5))
	plan := must.M1(perStage.Plan())
	for _, block := range plan.Blocks {
		assert.Equal(t, []float64{0.25, 0.25, 0, 0.5}[block.Stage], block.SERatio, block.Name())
	}
}

func TestNormalizationLayer(t *testing.T) {
	model := MustBuild(Tiny(WithNormalization(NormalizationLayer), WithInputShape(64, 64, 3)))
	assert.Equal(t, 0, model.NumNonTrainableParameters())
	assert.NotNil(t, model.Context.InspectVariableByPath("/stem_1_ln/gamma"))
	assert.Nil(t, model.Context.InspectVariableByPath("/stem_1_bn/gamma"))
}

func TestMixedPrecision(t *testing.T) {
	model := MustBuild(Tiny(WithDType(dtypes.Float16), WithInputShape(64, 64, 3), WithBatchSize(2)))
	assert.Equal(t, dtypes.Float16, model.Input.DType())
	assert.Equal(t, dtypes.Float32, model.Output.DType())
	assert.NoError(t, model.Output.Shape().CheckDims(2, 1000))
}

func TestConfigurationErrors(t *testing.T) {
	testCases := []struct {
		config Config
		field  string
	}{
		{Tiny(WithHeadDimension(48)), "HeadDimension"},
		{Tiny(func(cfg *Config) { cfg.NumBlocks = []int{2, 2, 5} }), "NumBlocks"},
		{Tiny(func(cfg *Config) { cfg.OutChannels = []int{64, 128, 256} }), "OutChannels"},
		{Tiny(WithStrides(2, 2)), "Strides"},
		{Tiny(WithActivation("bogus")), "Activation"},
		{Tiny(WithClassifierActivation("bogus")), "ClassifierActivation"},
		{Tiny(WithNormalization("group")), "Normalization"},
		{Tiny(WithStageSERatios(0.25, 0.25)), "SERatios"},
		{Tiny(WithBlockSERatios([][]float64{{0.25}, {0.25}, {0.25, 0.25}, {0.25}})), "SERatios"},
		{Tiny(WithDropConnectRate(1.5)), "DropConnectRate"},
		{Tiny(WithInputShape(0, 224, 3)), "InputShape"},
		{Tiny(WithDType(dtypes.Int32)), "DType"},
	}
	for _, tc := range testCases {
		t.Run(tc.field, func(t *testing.T) {
			_, err := Build(tc.config)
			require.Error(t, err)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected a *ConfigurationError, got %v", err)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}

	_, err := NewConfig(PresetTiny, WithHeadDimension(48))
	require.Error(t, err)
	cfg, err := NewConfig(PresetBase, WithDropConnectRate(0.1))
	require.NoError(t, err)
	assert.Equal(t, "maxvit_base", cfg.Name)
	assert.Equal(t, 0.1, cfg.DropConnectRate)
}

func TestBuildGraph(t *testing.T) {
	g := graph.NewGraph(backends.New(), "backbone")
	ctx := context.New().In("backbone")
	cfg := Tiny(WithInputShape(32, 32, 3), WithNumClasses(0), WithBatchSize(4))
	input := graph.Parameter(g, "images", shapes.Make(dtypes.Float32, 4, 32, 32, 3))
	output := BuildGraph(ctx, input, cfg)
	assert.NoError(t, output.Shape().CheckDims(4, 1, 1, 512))
	assert.NotNil(t, g.NodeByName("backbone/stem_1_conv"))
	assert.NotNil(t, ctx.InspectVariableByPath("/backbone/stem_1_conv/kernel"))

	// Input not matching the configuration.
	err := catchError(func() {
		other := graph.Parameter(g, "other", shapes.Make(dtypes.Float32, 4, 16, 16, 3))
		_ = BuildGraph(context.New(), other, cfg)
	})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "InputShape", cfgErr.Field)
}

func TestBuildGraphIgnoresContextDefaults(t *testing.T) {
	g := graph.NewGraph(backends.New(), "backbone")
	ctx := context.New()
	ctx.SetParam(layers.ParamDropoutRate, 0.3)
	// Invalid epsilons would panic if any normalization read them.
	ctx.SetParam(layers.ParamLayerNormEpsilon, -1.0)
	ctx.SetParam(layers.ParamBatchNormEpsilon, -1.0)
	cfg := Tiny(WithInputShape(32, 32, 3), WithDropConnectRate(0.2))
	input := graph.Parameter(g, "images", shapes.Make(dtypes.Float32, 1, 32, 32, 3))
	output := BuildGraph(ctx, input, cfg)
	assert.NoError(t, output.Shape().CheckDims(1, 1000))

	// The first block has a planned drop rate of 0: no stochastic depth nodes.
	for _, name := range []string{"stack_1_block_1/mbconv/drop", "stack_1_block_1/block_attn_drop", "stack_1_block_1/grid_ffn_drop", "head_drop"} {
		assert.Nil(t, g.NodeByName(name), name)
	}
	assert.NotNil(t, g.NodeByName("stack_1_block_2/mbconv/drop"))
	assert.NotNil(t, g.NodeByName("stack_4_block_2/grid_ffn_drop"))
}

func catchError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

func TestSummary(t *testing.T) {
	model := MustBuild(Tiny())
	summary := model.Summary()
	assert.Contains(t, summary, `Model: "maxvit_tiny"`)
	assert.Contains(t, summary, "Total params: 30,964,144")
	assert.Contains(t, summary, "Trainable params: 30,916,528")
	assert.Contains(t, summary, "Non-trainable params: 47,616")

	stages := model.StageParameters()
	require.Len(t, stages, NumStages+2)
	sum := 0
	for _, count := range stages {
		sum += count
	}
	assert.Equal(t, model.NumParameters(), sum)
	// Head: post_ln (2*512), features (512*512+512), predictions (512*1000+1000).
	assert.Equal(t, 2*512+512*512+512+512*1000+1000, stages[NumStages+1])
}

func TestParsePreset(t *testing.T) {
	for _, preset := range Presets() {
		parsed, err := ParsePreset(preset.String())
		require.NoError(t, err)
		assert.Equal(t, preset, parsed)
	}
	preset, err := ParsePreset("MaxViT_XLarge")
	require.NoError(t, err)
	assert.Equal(t, PresetXLarge, preset)
	_, err = ParsePreset("huge")
	require.Error(t, err)
}

func TestKerasWeightPath(t *testing.T) {
	testCases := []struct{ key, want string }{
		{"/stem_1_conv/stem_1_conv/kernel:0", "/stem_1_conv/kernel"},
		{"/model_weights/predictions/predictions/bias:0", "/predictions/bias"},
		{"/stack_1_block_1/mbconv/expand_conv/stack_1_block_1/mbconv/expand_conv/kernel:0",
			"/stack_1_block_1/mbconv/expand_conv/kernel"},
		{"/stack_1_block_1/block_window_mhsa/pos_emb/stack_1_block_1/block_window_mhsa/pos_emb/positional_embedding:0",
			"/stack_1_block_1/block_window_mhsa/pos_emb/positional_embedding"},
	}
	for _, tc := range testCases {
		got, ok := KerasWeightPath(tc.key)
		require.True(t, ok, tc.key)
		assert.Equal(t, tc.want, got)
	}
	_, ok := KerasWeightPath("/optimizer_weights/iteration:0")
	assert.False(t, ok)
}

func TestLoadValuesByKerasNames(t *testing.T) {
	model := MustBuild(Tiny(WithInputShape(64, 64, 3), WithNumClasses(10)))
	values := map[string]*tensors.Tensor{
		"/model_weights/predictions/predictions/bias:0": tensors.FromFlatDataAndDimensions(make([]float32, 10), 10),
		// Classifier of a different number of classes: skipped.
		"/model_weights/predictions/predictions/kernel:0": tensors.FromFlatDataAndDimensions(make([]float32, 512*1000), 512, 1000),
		"/model_weights/unknown/unknown/kernel:0":         tensors.FromFlatDataAndDimensions([]float32{1}, 1),
	}
	loaded, skipped := LoadWeights(model, values)
	assert.Equal(t, []string{"/predictions/bias"}, loaded)
	assert.Equal(t, []string{"/predictions/kernel", "/unknown/kernel"}, skipped)
	assert.True(t, model.Context.InspectVariableByPath("/predictions/bias").HasValue())
}

func TestLoadWeightsResizesPositionEmbeddings(t *testing.T) {
	// Weights trained at 224 (7x7 windows) loaded into a 384 model (12x12 windows).
	model := MustBuild(Tiny(WithInputShape(384, 384, 3)))
	assert.Equal(t, [2]int{12, 12}, model.Plan.WindowSize)
	const varPath = "/stack_1_block_1/block_window_mhsa/pos_emb/positional_embedding"
	v := model.Context.InspectVariableByPath(varPath)
	require.NotNil(t, v)
	require.Equal(t, []int{2, 23 * 23}, v.Shape().Dimensions)

	source := make([]float32, 2*13*13)
	for ii := range source {
		source[ii] = 0.5
	}
	loaded, skipped := LoadWeights(model, map[string]*tensors.Tensor{
		"/model_weights/stack_1_block_1/block_window_mhsa/pos_emb/positional_embedding:0": tensors.FromFlatDataAndDimensions(source, 2, 13*13),
		// Wrong number of heads: skipped.
		"/model_weights/stack_1_block_1/grid_window_mhsa/pos_emb/positional_embedding:0": tensors.FromFlatDataAndDimensions(make([]float32, 4*13*13), 4, 13*13),
	})
	assert.Equal(t, []string{varPath}, loaded)
	assert.Equal(t, []string{"/stack_1_block_1/grid_window_mhsa/pos_emb/positional_embedding"}, skipped)
	require.True(t, v.HasValue())
	values := must.M1(tensors.Value[float32](v.Value()))
	require.Len(t, values, 2*23*23)
	for _, value := range values {
		require.InDelta(t, 0.5, value, 1e-6)
	}
}

func TestFindPretrained(t *testing.T) {
	file, err := FindPretrained("maxvit_tiny", "imagenet", 224)
	require.NoError(t, err)
	assert.Equal(t, "e5cfd6a6bd4dea939860b6d8a29a911a", file.MD5)
	assert.Equal(t, "https://github.com/leondgarse/keras_cv_attention_models/releases/download/maxvit/maxvit_tiny_224_imagenet.h5", file.URL)

	// Closest resolution.
	file, err = FindPretrained("maxvit_large", "imagenet", 384)
	require.NoError(t, err)
	assert.Equal(t, 224, file.Resolution)
	assert.Equal(t, "maxvit_large_224_imagenet.h5", file.FileName)

	_, err = FindPretrained("maxvit_xlarge", "imagenet", 224)
	require.Error(t, err)
	_, err = FindPretrained("maxvit_tiny", "imagenet21k", 224)
	require.Error(t, err)

	_, _, err = LoadPretrained(MustBuild(Tiny(WithInputShape(64, 64, 3))), t.TempDir())
	require.Error(t, err, "no pretrained weights configured")
}

func TestPreprocess(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := range 10 {
		for x := range 20 {
			img.Set(x, y, color.RGBA{R: 255, G: 116, B: 0, A: 255})
		}
	}
	want := []float32{
		(255 - 0.485*255) / (0.229 * 255),
		(116 - 0.456*255) / (0.224 * 255),
		(0 - 0.406*255) / (0.225 * 255),
	}
	checkValues := func(tensor *tensors.Tensor) {
		values := must.M1(tensors.Value[float32](tensor))
		for ii, v := range values {
			require.InDelta(t, want[ii%3], v, 1e-4, fmt.Sprintf("value #%d", ii))
		}
	}

	tensor := Preprocess(img, 8, 8)
	assert.NoError(t, tensor.Shape().CheckDims(1, 8, 8, 3))
	checkValues(tensor)

	// Non-square input, as configured in the model.
	model := MustBuild(Tiny(WithInputShape(64, 96, 3), WithNumClasses(0)))
	height, width := model.InputSize()
	assert.Equal(t, []int{64, 96}, []int{height, width})
	tensor = Preprocess(img, height, width)
	assert.NoError(t, tensor.Shape().CheckDims(1, 64, 96, 3))
	checkValues(tensor)

	batch := PreprocessBatch([]image.Image{img, img}, 4, 6)
	assert.NoError(t, batch.Shape().CheckDims(2, 4, 6, 3))
	checkValues(batch)
}
