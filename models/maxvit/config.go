// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package maxvit

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// NumStages is the number of stages (also called stacks) of every MaxViT model.
const NumStages = 4

// Preset is one of the published MaxViT sizes.
type Preset int

const (
	PresetTiny Preset = iota
	PresetSmall
	PresetBase
	PresetLarge
	PresetXLarge
)

var presetNames = []string{"tiny", "small", "base", "large", "xlarge"}

// String implements fmt.Stringer.
func (p Preset) String() string {
	if p < 0 || int(p) >= len(presetNames) {
		return fmt.Sprintf("Preset(%d)", int(p))
	}
	return presetNames[p]
}

// ParsePreset converts a (case-insensitive) preset name, e.g. "tiny", to a Preset.
func ParsePreset(name string) (Preset, error) {
	idx := slices.Index(presetNames, strings.TrimPrefix(strings.ToLower(name), "maxvit_"))
	if idx < 0 {
		return 0, errors.Errorf("unknown MaxViT preset %q, valid values are %v", name, presetNames)
	}
	return Preset(idx), nil
}

// Presets lists all presets, from the smallest to the largest.
func Presets() []Preset {
	return []Preset{PresetTiny, PresetSmall, PresetBase, PresetLarge, PresetXLarge}
}

// Normalization names accepted by Config.Normalization, used in the convolutional (MBConv and stem) path.
const (
	NormalizationBatch = "batch"
	NormalizationLayer = "layer"
)

// Config holds the hyperparameters of a MaxViT model. Create it with NewConfig or one of the preset
// functions (Tiny, Small, ...), and change it with the With... options.
type Config struct {
	// Name of the model, used as the graph name and to find pretrained weights.
	Name string

	// NumBlocks and OutChannels per stage: both must have NumStages values.
	NumBlocks, OutChannels []int

	// StemWidth is the number of channels of the stem convolutions.
	StemWidth int

	// Strides per stage, applied at the first block of the stage. A single value is used for all stages.
	Strides []int

	// Expansion of the MBConv hidden channels and of the FFN hidden dimension.
	Expansion int

	// SERatio is the squeeze-and-excite ratio used by all blocks, unless SERatios is set.
	SERatio float64

	// SERatios optionally overrides SERatio: one list per stage, with either one value for the whole
	// stage or one value per block.
	SERatios [][]float64

	// HeadDimension is the number of channels per attention head: every stage width must be divisible by it.
	HeadDimension int

	// WindowRatio defines the window (and grid) size as ceil(input_size / WindowRatio).
	WindowRatio int

	// OutputFilter is the width of the "features" projection in the head: -1 for the last stage width,
	// 0 to skip it.
	OutputFilter int

	// TorchMode selects the NumericProfile of PyTorch trained weights: explicit zero padding,
	// epsilon 1e-5 and momentum 0.9.
	TorchMode bool

	// LayerScale, if set, is the initial value of the per-channel scale of the attention and FFN branches.
	LayerScale *float64

	// InputShape is [height, width, channels].
	InputShape [3]int

	// NumClasses of the classifier. If <= 0 the head is not built, and the output is the last feature map.
	NumClasses int

	// Activation used throughout the model, e.g. "gelu/app".
	Activation string

	// DropConnectRate is the stochastic depth rate of the last block, linearly increased from 0.
	DropConnectRate float64

	// ClassifierActivation is applied to the "predictions" layer.
	ClassifierActivation string

	// Dropout rate before the classifier.
	Dropout float64

	// Pretrained is the name of the pretrained weights to use, e.g. "imagenet". Empty for none.
	Pretrained string

	// Normalization of the convolutional path: NormalizationBatch (default) or NormalizationLayer.
	Normalization string

	// DType of the input and of the variables. The classifier always outputs float32.
	DType dtypes.DType

	// BatchSize of the input.
	BatchSize int

	// Backend used to build the graph. If nil, backends.New() is used.
	Backend backends.Backend
}

// Option modifies a Config.
type Option func(cfg *Config)

func defaultConfig() Config {
	return Config{
		Name:                 "maxvit",
		StemWidth:            64,
		Strides:              []int{2, 2, 2, 2},
		Expansion:            4,
		SERatio:              0.25,
		HeadDimension:        32,
		WindowRatio:          32,
		OutputFilter:         -1,
		InputShape:           [3]int{224, 224, 3},
		NumClasses:           1000,
		Activation:           "gelu/app",
		ClassifierActivation: "softmax",
		Normalization:        NormalizationBatch,
		DType:                dtypes.Float32,
		BatchSize:            1,
	}
}

// presetConfig returns the unvalidated configuration of the preset.
func presetConfig(preset Preset) Config {
	cfg := defaultConfig()
	cfg.Name = "maxvit_" + preset.String()
	switch preset {
	case PresetTiny:
		cfg.NumBlocks = []int{2, 2, 5, 2}
		cfg.OutChannels = []int{64, 128, 256, 512}
	case PresetSmall:
		cfg.NumBlocks = []int{2, 2, 5, 2}
		cfg.OutChannels = []int{96, 192, 384, 768}
	case PresetBase:
		cfg.NumBlocks = []int{2, 6, 14, 2}
		cfg.OutChannels = []int{96, 192, 384, 768}
	case PresetLarge:
		cfg.NumBlocks = []int{2, 6, 14, 2}
		cfg.OutChannels = []int{128, 256, 512, 1024}
		cfg.StemWidth = 128
	case PresetXLarge:
		cfg.NumBlocks = []int{2, 6, 14, 2}
		cfg.OutChannels = []int{192, 384, 768, 1536}
		cfg.StemWidth = 192
	}
	return cfg
}

// NewConfig returns the configuration of the preset with the options applied, and validates it.
func NewConfig(preset Preset, opts ...Option) (Config, error) {
	if preset < PresetTiny || preset > PresetXLarge {
		return Config{}, &ConfigurationError{Field: "Preset", Reason: fmt.Sprintf("unknown preset %s", preset)}
	}
	cfg := presetConfig(preset)
	cfg.Apply(opts...)
	if _, err := cfg.Plan(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Tiny returns the MaxViT-Tiny configuration. It is validated when the model is built.
func Tiny(opts ...Option) Config { return newPreset(PresetTiny, opts) }

// Small returns the MaxViT-Small configuration.
func Small(opts ...Option) Config { return newPreset(PresetSmall, opts) }

// Base returns the MaxViT-Base configuration.
func Base(opts ...Option) Config { return newPreset(PresetBase, opts) }

// Large returns the MaxViT-Large configuration.
func Large(opts ...Option) Config { return newPreset(PresetLarge, opts) }

// XLarge returns the MaxViT-XLarge configuration. There are no pretrained weights for it.
func XLarge(opts ...Option) Config { return newPreset(PresetXLarge, opts) }

func newPreset(preset Preset, opts []Option) Config {
	cfg := presetConfig(preset)
	return cfg.Apply(opts...)
}

// Apply the options to the configuration, and returns it for convenience.
// Slices are cloned first, so configurations never share them.
func (cfg *Config) Apply(opts ...Option) Config {
	cfg.NumBlocks = slices.Clone(cfg.NumBlocks)
	cfg.OutChannels = slices.Clone(cfg.OutChannels)
	cfg.Strides = slices.Clone(cfg.Strides)
	for _, opt := range opts {
		opt(cfg)
	}
	return *cfg
}

// WithName sets the model name.
func WithName(name string) Option { return func(cfg *Config) { cfg.Name = name } }

// WithInputShape sets the input [height, width, channels].
func WithInputShape(height, width, channels int) Option {
	return func(cfg *Config) { cfg.InputShape = [3]int{height, width, channels} }
}

// WithNumClasses sets the number of classes. Use 0 to build the model without the head.
func WithNumClasses(numClasses int) Option { return func(cfg *Config) { cfg.NumClasses = numClasses } }

// WithStemWidth sets the number of channels of the stem.
func WithStemWidth(width int) Option { return func(cfg *Config) { cfg.StemWidth = width } }

// WithStrides sets the strides per stage. One value is used for all stages.
func WithStrides(strides ...int) Option { return func(cfg *Config) { cfg.Strides = strides } }

// WithExpansion sets the MBConv and FFN expansion.
func WithExpansion(expansion int) Option { return func(cfg *Config) { cfg.Expansion = expansion } }

// WithSERatio sets the squeeze-and-excite ratio of all blocks. Use 0 to disable it.
func WithSERatio(ratio float64) Option {
	return func(cfg *Config) {
		cfg.SERatio = ratio
		cfg.SERatios = nil
	}
}

// WithStageSERatios sets one squeeze-and-excite ratio per stage.
func WithStageSERatios(ratios ...float64) Option {
	return func(cfg *Config) {
		cfg.SERatios = make([][]float64, len(ratios))
		for ii, ratio := range ratios {
			cfg.SERatios[ii] = []float64{ratio}
		}
	}
}

// WithBlockSERatios sets the squeeze-and-excite ratios per stage and per block.
func WithBlockSERatios(ratios [][]float64) Option {
	return func(cfg *Config) { cfg.SERatios = ratios }
}

// WithHeadDimension sets the number of channels per attention head.
func WithHeadDimension(dim int) Option { return func(cfg *Config) { cfg.HeadDimension = dim } }

// WithWindowRatio sets the ratio of the input size to the window size.
func WithWindowRatio(ratio int) Option { return func(cfg *Config) { cfg.WindowRatio = ratio } }

// WithOutputFilter sets the width of the head "features" projection: -1 for the last stage width, 0 to skip it.
func WithOutputFilter(filters int) Option { return func(cfg *Config) { cfg.OutputFilter = filters } }

// WithTorchMode selects the numeric profile of PyTorch trained weights.
func WithTorchMode(torchMode bool) Option { return func(cfg *Config) { cfg.TorchMode = torchMode } }

// WithLayerScale enables the per-channel scale of the attention and FFN branches, initialized to value.
func WithLayerScale(value float64) Option {
	return func(cfg *Config) { cfg.LayerScale = &value }
}

// WithoutLayerScale disables the layer scale.
func WithoutLayerScale() Option { return func(cfg *Config) { cfg.LayerScale = nil } }

// WithActivation sets the activation used throughout the model.
func WithActivation(activation string) Option { return func(cfg *Config) { cfg.Activation = activation } }

// WithDropConnectRate sets the stochastic depth rate.
func WithDropConnectRate(rate float64) Option { return func(cfg *Config) { cfg.DropConnectRate = rate } }

// WithClassifierActivation sets the activation of the "predictions" layer, e.g. "softmax" or "linear".
func WithClassifierActivation(activation string) Option {
	return func(cfg *Config) { cfg.ClassifierActivation = activation }
}

// WithDropout sets the dropout rate before the classifier.
func WithDropout(rate float64) Option { return func(cfg *Config) { cfg.Dropout = rate } }

// WithPretrained sets the name of the pretrained weights, e.g. "imagenet".
func WithPretrained(pretrained string) Option { return func(cfg *Config) { cfg.Pretrained = pretrained } }

// WithNormalization sets the normalization of the convolutional path: "batch" or "layer".
func WithNormalization(normalization string) Option {
	return func(cfg *Config) { cfg.Normalization = normalization }
}

// WithDType sets the dtype of the input and variables.
func WithDType(dtype dtypes.DType) Option { return func(cfg *Config) { cfg.DType = dtype } }

// WithBatchSize sets the batch size of the input.
func WithBatchSize(batchSize int) Option { return func(cfg *Config) { cfg.BatchSize = batchSize } }

// WithBackend sets the backend used to build the graph.
func WithBackend(backend backends.Backend) Option { return func(cfg *Config) { cfg.Backend = backend } }

// ConfigurationError is returned (or thrown, while building a graph) for invalid configurations.
// Use errors.As to retrieve it.
type ConfigurationError struct {
	// Field of Config that is invalid.
	Field string
	// Reason it is invalid.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("maxvit: invalid configuration of %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Padding used by the convolutions.
type Padding int

const (
	// PaddingSame uses the "SAME" padding of the convolutions.
	PaddingSame Padding = iota

	// PaddingTorch adds an explicit zero padding layer of kernel/2 before the convolutions, which
	// then use no padding.
	PaddingTorch
)

// String implements fmt.Stringer.
func (p Padding) String() string {
	if p == PaddingTorch {
		return "torch"
	}
	return "same"
}

// LayerNormEpsilon of the attention, FFN and head layer normalizations, in both numeric profiles.
const LayerNormEpsilon = 1e-5

// NumericProfile holds the numeric details that depend on the framework the weights were trained with.
type NumericProfile struct {
	Epsilon, Momentum float64
	Padding           Padding
}

// NumericProfile returns the profile selected by TorchMode.
func (cfg Config) NumericProfile() NumericProfile {
	if cfg.TorchMode {
		return NumericProfile{Epsilon: 1e-5, Momentum: 0.9, Padding: PaddingTorch}
	}
	return NumericProfile{Epsilon: 1e-3, Momentum: 0.99, Padding: PaddingSame}
}

// StageConfig is the resolved configuration of one stage.
type StageConfig struct {
	NumBlocks, OutChannels, Stride int
	NumHeads                       int
}

// BlockSpec is the resolved configuration of one block: an MBConv unit followed by the window and
// grid attention units.
type BlockSpec struct {
	// Stage and Block are 0-based.
	Stage, Block int
	FirstInStage bool
	Stride       int

	InChannels, OutChannels int

	// ShortcutProjection is set when the MBConv shortcut needs a 1x1 convolution to change the width.
	ShortcutProjection bool

	SERatio  float64
	NumHeads int

	// GlobalIndex of the block across all stages, and its stochastic depth DropRate.
	GlobalIndex int
	DropRate    float64
}

// Name of the block scope, e.g. "stack_1_block_1".
func (b BlockSpec) Name() string {
	return fmt.Sprintf("stack_%d_block_%d", b.Stage+1, b.Block+1)
}

// Plan is the per-stage and per-block table resolved from a Config: all scalar-or-list
// hyperparameters are normalized into it.
type Plan struct {
	Stages []StageConfig
	Blocks []BlockSpec

	// StemShape is the [height, width, channels] of the stem output.
	StemShape [3]int

	// WindowSize used by the window and grid attention, before clamping to the feature map size.
	WindowSize [2]int

	// OutputFilter of the head, resolved: 0 means no "features" projection.
	OutputFilter int
}

// TotalBlocks returns the number of blocks in all stages.
func (p Plan) TotalBlocks() int { return len(p.Blocks) }

// ceilDiv returns ceil(a/b) for positive values.
func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Plan validates the configuration and resolves the per-block table.
// Errors are *ConfigurationError.
func (cfg Config) Plan() (Plan, error) {
	var plan Plan
	if len(cfg.NumBlocks) != NumStages {
		return plan, configErrorf("NumBlocks", "requires %d stages, got %d values", NumStages, len(cfg.NumBlocks))
	}
	if len(cfg.OutChannels) != len(cfg.NumBlocks) {
		return plan, configErrorf("OutChannels", "requires one value per stage (%d), got %d values",
			len(cfg.NumBlocks), len(cfg.OutChannels))
	}
	strides := cfg.Strides
	if len(strides) == 1 {
		strides = slices.Repeat(strides, NumStages)
	}
	if len(strides) != NumStages {
		return plan, configErrorf("Strides", "requires one value per stage (%d) or a single value, got %d values",
			NumStages, len(cfg.Strides))
	}
	if cfg.SERatios != nil && len(cfg.SERatios) != NumStages {
		return plan, configErrorf("SERatios", "requires one list per stage (%d), got %d lists", NumStages, len(cfg.SERatios))
	}
	for _, check := range []struct {
		field string
		value int
	}{
		{"StemWidth", cfg.StemWidth},
		{"Expansion", cfg.Expansion},
		{"HeadDimension", cfg.HeadDimension},
		{"WindowRatio", cfg.WindowRatio},
		{"BatchSize", cfg.BatchSize},
	} {
		if check.value <= 0 {
			return plan, configErrorf(check.field, "must be > 0, got %d", check.value)
		}
	}
	for ii, dim := range cfg.InputShape {
		if dim <= 0 {
			return plan, configErrorf("InputShape", "dimension #%d must be > 0, got %v", ii, cfg.InputShape)
		}
	}
	if cfg.OutputFilter < -1 {
		return plan, configErrorf("OutputFilter", "must be -1, 0 or positive, got %d", cfg.OutputFilter)
	}
	if cfg.DropConnectRate < 0 || cfg.DropConnectRate >= 1 {
		return plan, configErrorf("DropConnectRate", "must be in [0, 1), got %g", cfg.DropConnectRate)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return plan, configErrorf("Dropout", "must be in [0, 1), got %g", cfg.Dropout)
	}
	if cfg.SERatio < 0 || cfg.SERatio > 1 {
		return plan, configErrorf("SERatio", "must be in [0, 1], got %g", cfg.SERatio)
	}
	if _, err := activations.FromName(cfg.Activation); err != nil {
		return plan, configErrorf("Activation", "%v", err)
	}
	if _, err := activations.FromName(cfg.ClassifierActivation); err != nil {
		return plan, configErrorf("ClassifierActivation", "%v", err)
	}
	if cfg.Normalization != NormalizationBatch && cfg.Normalization != NormalizationLayer {
		return plan, configErrorf("Normalization", "unknown normalization %q, valid values are %q and %q",
			cfg.Normalization, NormalizationBatch, NormalizationLayer)
	}
	if cfg.DType != dtypes.Float32 && cfg.DType != dtypes.Float64 && cfg.DType != dtypes.Float16 && cfg.DType != dtypes.BFloat16 {
		return plan, configErrorf("DType", "must be a float dtype, got %s", cfg.DType)
	}

	totalBlocks := 0
	for stageIdx := range NumStages {
		if cfg.NumBlocks[stageIdx] <= 0 {
			return plan, configErrorf("NumBlocks", "stage %d must have > 0 blocks, got %d", stageIdx+1, cfg.NumBlocks[stageIdx])
		}
		totalBlocks += cfg.NumBlocks[stageIdx]
	}

	height, width := cfg.InputShape[0], cfg.InputShape[1]
	plan.StemShape = [3]int{ceilDiv(height, 2), ceilDiv(width, 2), cfg.StemWidth}
	plan.WindowSize = [2]int{ceilDiv(height, cfg.WindowRatio), ceilDiv(width, cfg.WindowRatio)}
	plan.Stages = make([]StageConfig, NumStages)
	plan.Blocks = make([]BlockSpec, 0, totalBlocks)
	channels := cfg.StemWidth
	globalIdx := 0
	for stageIdx := range NumStages {
		numBlocks, outChannels, stride := cfg.NumBlocks[stageIdx], cfg.OutChannels[stageIdx], strides[stageIdx]
		if outChannels <= 0 {
			return plan, configErrorf("OutChannels", "stage %d must have > 0 channels, got %d", stageIdx+1, outChannels)
		}
		if stride < 1 {
			return plan, configErrorf("Strides", "stage %d must have stride >= 1, got %d", stageIdx+1, stride)
		}
		if outChannels%cfg.HeadDimension != 0 {
			return plan, configErrorf("HeadDimension", "stage %d width %d is not divisible by the head dimension %d",
				stageIdx+1, outChannels, cfg.HeadDimension)
		}
		numHeads := outChannels / cfg.HeadDimension
		plan.Stages[stageIdx] = StageConfig{NumBlocks: numBlocks, OutChannels: outChannels, Stride: stride, NumHeads: numHeads}

		var stageRatios []float64
		if cfg.SERatios != nil {
			stageRatios = cfg.SERatios[stageIdx]
			if len(stageRatios) != 1 && len(stageRatios) != numBlocks {
				return plan, configErrorf("SERatios", "stage %d requires 1 or %d values, got %d",
					stageIdx+1, numBlocks, len(stageRatios))
			}
		}
		for blockIdx := range numBlocks {
			block := BlockSpec{
				Stage:        stageIdx,
				Block:        blockIdx,
				FirstInStage: blockIdx == 0,
				Stride:       1,
				InChannels:   channels,
				OutChannels:  outChannels,
				SERatio:      cfg.SERatio,
				NumHeads:     numHeads,
				GlobalIndex:  globalIdx,
				DropRate:     cfg.DropConnectRate * float64(globalIdx) / float64(totalBlocks),
			}
			if block.FirstInStage {
				block.Stride = stride
				block.ShortcutProjection = channels != outChannels
			}
			switch len(stageRatios) {
			case 0:
			case 1:
				block.SERatio = stageRatios[0]
			default:
				block.SERatio = stageRatios[blockIdx]
			}
			if block.SERatio < 0 || block.SERatio > 1 || math.IsNaN(block.SERatio) {
				return plan, configErrorf("SERatios", "block %s ratio must be in [0, 1], got %g", block.Name(), block.SERatio)
			}
			plan.Blocks = append(plan.Blocks, block)
			channels = outChannels
			globalIdx++
		}
	}
	plan.OutputFilter = cfg.OutputFilter
	if plan.OutputFilter == -1 {
		plan.OutputFilter = channels
	}
	return plan, nil
}

// OutputShape returns the [height, width] of the feature map at the end of the stage (0-based), or of the
// stem for stage -1.
func (p Plan) OutputShape(stage int) (height, width int) {
	height, width = p.StemShape[0], p.StemShape[1]
	for ii := 0; ii <= stage && ii < len(p.Stages); ii++ {
		height, width = ceilDiv(height, p.Stages[ii].Stride), ceilDiv(width, p.Stages[ii].Stride)
	}
	return
}
