// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
)

// This file holds the ops that backends implement as a single fused operation.

// AxesLayout of the 4D query/key/value tensors of ScaledDotProductAttention.
type AxesLayout = backends.AxesLayout

// opOrNil returns the backend op of an optional node.
func opOrNil(n *Node) backends.Op {
	if n == nil {
		return nil
	}
	return n.op
}

// nonNil filters out nil nodes, used to list optional inputs.
func nonNil(nodes ...*Node) []*Node {
	filtered := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// Softmax computes exp(x)/sum(exp(x)) over the given axis (negative values count from the end).
func Softmax(x *Node, axis int) *Node {
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.FusedSoftmax(x.op, shapes.AdjustAxisToRank(x.Rank(), axis))
	panicIf(err, "Softmax")
	return newNode(g, backends.OpTypeFusedSoftmax, op, x)
}

// Gelu activation function. If exact is false it uses the tanh approximation.
func Gelu(x *Node, exact bool) *Node {
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.FusedGelu(x.op, exact)
	panicIf(err, "Gelu")
	return newNode(g, backends.OpTypeFusedGelu, op, x)
}

// LayerNorm normalizes x over the given axes (usually the last), and then applies the optional
// gamma (scale) and beta (offset), shaped as the normalized axes.
func LayerNorm(x *Node, axes []int, epsilon float64, gamma, beta *Node) *Node {
	g := validateBuildingGraphFromInputs(append([]*Node{x}, nonNil(gamma, beta)...)...)
	op, err := g.builder.FusedLayerNorm(x.op, adjustAxes(x, axes), epsilon, opOrNil(gamma), opOrNil(beta))
	panicIf(err, "LayerNorm")
	return newNode(g, backends.OpTypeFusedLayerNorm, op, append([]*Node{x}, nonNil(gamma, beta)...)...)
}

// Dense returns x @ weight + bias, contracting the last axis of x with the first axis of weight.
// The bias is optional.
func Dense(x, weight, bias *Node) *Node {
	inputs := append([]*Node{x, weight}, nonNil(bias)...)
	g := validateBuildingGraphFromInputs(inputs...)
	op, err := g.builder.FusedDense(x.op, weight.op, opOrNil(bias), backends.ActivationNone)
	panicIf(err, "Dense")
	return newNode(g, backends.OpTypeFusedDense, op, inputs...)
}

// ScaledDotProductAttention computes softmax(scale * query @ key^T + mask) @ value, for
// numHeads heads. The mask is optional and additive: it is broadcast to the
// [batch, heads, query_seq, key_seq] scores, and it can be used to add a position bias.
func ScaledDotProductAttention(query, key, value, mask *Node, numHeads int, layout AxesLayout, scale float64) *Node {
	inputs := append([]*Node{query, key, value}, nonNil(mask)...)
	g := validateBuildingGraphFromInputs(inputs...)
	op, err := g.builder.FusedScaledDotProductAttention(query.op, key.op, value.op, opOrNil(mask),
		numHeads, numHeads, layout, scale, false)
	panicIf(err, "ScaledDotProductAttention")
	return newNode(g, backends.OpTypeFusedScaledDotProductAttention, op, inputs...)
}

// Dropout randomly zeroes elements of x with probability rate during training, scaling the
// remaining by 1/(1-rate). noiseShape (optional) must broadcast to x's shape: e.g. [batch, 1, 1, 1]
// drops whole examples, which is how stochastic depth (drop path) is implemented.
//
// A rate of 0 returns x unchanged.
func Dropout(x *Node, rate float64, noiseShape []int) *Node {
	if rate == 0 {
		return x
	}
	if rate < 0 || rate >= 1 {
		exceptions.Panicf("Dropout: rate must be in [0, 1), got %g", rate)
	}
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.FusedDropout(x.op, rate, noiseShape)
	panicIf(err, "Dropout")
	return newNode(g, backends.OpTypeFusedDropout, op, x)
}
