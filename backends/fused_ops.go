// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

// ErrNotImplemented is wrapped by backends for ops (or dtypes) they don't support.
// Test for it with errors.Is.
var ErrNotImplemented = errors.New("op not implemented")

// AxesLayout is the order of the axes of the query, key and value given to
// FusedScaledDotProductAttention.
type AxesLayout int

const (
	// AxesLayoutBHSD is [batch, heads, seq, dim].
	AxesLayoutBHSD AxesLayout = iota

	// AxesLayoutBSHD is [batch, seq, heads, dim]: what a reshaped qkv projection yields.
	AxesLayoutBSHD
)

// String implements fmt.Stringer.
func (l AxesLayout) String() string {
	switch l {
	case AxesLayoutBHSD:
		return "BHSD"
	case AxesLayoutBSHD:
		return "BSHD"
	default:
		return "unknown"
	}
}

// SeqAxis is the sequence axis of the layout.
func (l AxesLayout) SeqAxis() int {
	if l == AxesLayoutBSHD {
		return 1
	}
	return 2
}

// HeadsAxis is the heads axis of the layout.
func (l AxesLayout) HeadsAxis() int {
	if l == AxesLayoutBSHD {
		return 2
	}
	return 1
}

// ActivationType is the activation FusedDense applies after the projection.
type ActivationType int

const (
	ActivationNone ActivationType = iota
	ActivationGelu
	ActivationRelu
	ActivationSilu
	ActivationTanh
)

// String implements fmt.Stringer.
func (a ActivationType) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationGelu:
		return "gelu"
	case ActivationRelu:
		return "relu"
	case ActivationSilu:
		return "silu"
	case ActivationTanh:
		return "tanh"
	default:
		return "unknown"
	}
}

// FusedOps defines the layer-level operations the model builders rely on: normalization,
// dense projection, the attention primitive and the stochastic regularizers.
type FusedOps interface {
	// FusedSoftmax over a non-negative axis.
	FusedSoftmax(x Op, axis int) (Op, error)

	// FusedGelu is the erf based GELU if exact, or its tanh approximation ("gelu/app") otherwise.
	FusedGelu(x Op, exact bool) (Op, error)

	// FusedLayerNorm normalizes x over axes, then scales by gamma and shifts by beta, both optional.
	FusedLayerNorm(x Op, axes []int, epsilon float64, gamma, beta Op) (Op, error)

	// FusedDense returns activation(x @ weight + bias), contracting the last axis of x, shaped
	// [..., inputDim], with the first axis of weight, shaped [inputDim, outputDims...].
	// bias may be nil.
	FusedDense(x, weight, bias Op, activation ActivationType) (Op, error)

	// FusedScaledDotProductAttention returns softmax(query @ key^T * scale + mask) @ value per head,
	// shaped as query. The axes of query, key and value follow axesLayout. The mask is an optional
	// additive bias broadcast to the scores [batch, numHeads, seqLen, kvLen]: the relative position
	// bias of the window attention goes there.
	FusedScaledDotProductAttention(
		query, key, value, mask Op,
		numHeads, numKVHeads int,
		axesLayout AxesLayout,
		scale float64,
		causal bool) (Op, error)

	// FusedDropout zeroes values of x with probability rate while training, rescaling the kept
	// ones by 1/(1-rate). noiseShape (nil-able) has the same rank as x, with dimension 1 on the
	// axes where the same mask is broadcast: stochastic depth uses [batch, 1, 1, 1].
	// At inference it is the identity.
	FusedDropout(x Op, rate float64, noiseShape []int) (Op, error)
}
