// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers include several weight initializers, to be used with context.
//
// Initializers are descriptors: they only materialize a value (on the host) when the value of a
// variable is first requested, so building a large model never allocates its weights.
package initializers

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// VariableInitializer creates the initial value of a variable of the given shape.
type VariableInitializer interface {
	// Name of the initializer, as listed in model summaries. E.g.: "zeros", "glorot_uniform".
	Name() string

	// Initialize returns a new tensor with the given shape.
	Initialize(shape shapes.Shape) *tensors.Tensor
}

// NoSeed means a random seed is used for the random initializers.
const NoSeed = int64(0)

type constantInitializer struct {
	name  string
	value float64
}

func (c constantInitializer) Name() string { return c.name }

func (c constantInitializer) Initialize(shape shapes.Shape) *tensors.Tensor {
	values := make([]float64, shape.Size())
	if c.value != 0 {
		for ii := range values {
			values[ii] = c.value
		}
	}
	return fromFloat64s(shape, values)
}

// Zero initializes variables with zero.
var Zero VariableInitializer = constantInitializer{name: "zeros"}

// One initializes variables with one.
var One VariableInitializer = constantInitializer{name: "ones", value: 1}

// Constant initializes variables with the given value.
func Constant(value float64) VariableInitializer {
	return constantInitializer{name: fmt.Sprintf("constant(%g)", value), value: value}
}

// FanMode selects which dimension is used to scale the variance of VarianceScaling.
type FanMode int

const (
	FanIn FanMode = iota
	FanOut
	FanAvg
)

// String implements fmt.Stringer.
func (m FanMode) String() string {
	switch m {
	case FanIn:
		return "fan_in"
	case FanOut:
		return "fan_out"
	case FanAvg:
		return "fan_avg"
	}
	return fmt.Sprintf("FanMode(%d)", int(m))
}

// Distribution of the random values of VarianceScaling.
type Distribution int

const (
	TruncatedNormal Distribution = iota
	Uniform
)

type varianceScaling struct {
	scale        float64
	mode         FanMode
	distribution Distribution
	seed         int64
}

// VarianceScaling returns an initializer whose values have variance scale/fan, where fan
// depends on mode: the number of input units (fan_in), output units (fan_out) or their average.
// This is the "he_normal"/"glorot_uniform" family of initializers.
//
// Use NoSeed for a random seed.
func VarianceScaling(scale float64, mode FanMode, distribution Distribution, seed int64) VariableInitializer {
	if scale <= 0 {
		exceptions.Panicf("VarianceScaling: scale must be positive, got %g", scale)
	}
	return varianceScaling{scale: scale, mode: mode, distribution: distribution, seed: seed}
}

// GlorotUniform is the default initializer for dense kernels: VarianceScaling(1, FanAvg, Uniform).
func GlorotUniform(seed int64) VariableInitializer {
	return VarianceScaling(1, FanAvg, Uniform, seed)
}

// HeNormalFanOut is the initializer used for convolution kernels: VarianceScaling(2, FanOut, TruncatedNormal).
func HeNormalFanOut(seed int64) VariableInitializer {
	return VarianceScaling(2, FanOut, TruncatedNormal, seed)
}

func (v varianceScaling) Name() string {
	dist := "truncated_normal"
	if v.distribution == Uniform {
		dist = "uniform"
	}
	return fmt.Sprintf("variance_scaling(%g, %s, %s)", v.scale, v.mode, dist)
}

// ComputeFanInFanOut of a kernel shape: the last axis is the output, the one before the input,
// and any leading axes are spatial (receptive field) axes.
func ComputeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	switch shape.Rank() {
	case 0:
		return 1, 1
	case 1:
		return shape.Dimensions[0], shape.Dimensions[0]
	}
	receptiveField := 1
	for _, dim := range shape.Dimensions[:shape.Rank()-2] {
		receptiveField *= dim
	}
	fanIn = shape.Dim(-2) * receptiveField
	fanOut = shape.Dim(-1) * receptiveField
	return
}

func (v varianceScaling) Initialize(shape shapes.Shape) *tensors.Tensor {
	fanIn, fanOut := ComputeFanInFanOut(shape)
	var fan float64
	switch v.mode {
	case FanIn:
		fan = float64(fanIn)
	case FanOut:
		fan = float64(fanOut)
	default:
		fan = float64(fanIn+fanOut) / 2
	}
	variance := v.scale / max(fan, 1)
	rng := newRand(v.seed)
	values := make([]float64, shape.Size())
	switch v.distribution {
	case Uniform:
		limit := math.Sqrt(3 * variance)
		for ii := range values {
			values[ii] = (rng.Float64()*2 - 1) * limit
		}
	default:
		// Stddev of a standard normal truncated at 2 stddevs.
		stddev := math.Sqrt(variance) / 0.87962566103423978
		for ii := range values {
			for {
				x := rng.NormFloat64()
				if math.Abs(x) <= 2 {
					values[ii] = x * stddev
					break
				}
			}
		}
	}
	return fromFloat64s(shape, values)
}

func newRand(seed int64) *rand.Rand {
	if seed == NoSeed {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// fromFloat64s creates a tensor of the given shape (and dtype) from float64 values.
func fromFloat64s(shape shapes.Shape, values []float64) *tensors.Tensor {
	t := tensors.FromFlatDataAndDimensions(values, shape.Dimensions...)
	if shape.DType == dtypes.Float64 {
		return t
	}
	converted, err := t.ConvertDType(shape.DType)
	if err != nil {
		panic(err)
	}
	return converted
}
