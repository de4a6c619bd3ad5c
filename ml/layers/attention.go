// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// PositionalEmbeddingName is the name of the relative position bias variable of
// RelativePositionMultiHeadAttention, in the "pos_emb" scope.
const PositionalEmbeddingName = "positional_embedding"

// RelativePositionIndex returns the index of the relative position bias of every pair of pixels of an
// height x width window, in row-major order: the result is shaped [height*width, height*width], and
// each value is in [0, (2*height-1)*(2*width-1)).
//
// The pair of pixels (y1, x1), (y2, x2) is mapped to (y1-y2+height-1)*(2*width-1) + (x1-x2+width-1).
func RelativePositionIndex(height, width int) []int32 {
	seqLen := height * width
	indices := make([]int32, 0, seqLen*seqLen)
	for ii := range seqLen {
		y1, x1 := ii/width, ii%width
		for jj := range seqLen {
			y2, x2 := jj/width, jj%width
			indices = append(indices, int32((y1-y2+height-1)*(2*width-1)+(x1-x2+width-1)))
		}
	}
	return indices
}

// MultiHeadAttentionBuilder is a helper to build a multi-head self-attention with relative position bias,
// created with RelativePositionMultiHeadAttention.
type MultiHeadAttentionBuilder struct {
	ctx              *context.Context
	x                *graph.Node
	numHeads         int
	qkvBias, outBias bool
}

// RelativePositionMultiHeadAttention creates a multi-head self-attention over the pixels of x, shaped
// [batch, height, width, channels], with a learned bias per head for each relative position of
// two pixels.
//
// Sub-layers, relative to the scope of ctx:
//   - "qkv": Dense projection to the query, key and value, with 3*channels outputs.
//   - "pos_emb": the variable "positional_embedding" shaped [numHeads, (2*height-1)*(2*width-1)],
//     gathered into the [1, numHeads, seq, seq] attention bias.
//   - "attention": softmax(query @ key^T / sqrt(key_dim) + bias) @ value.
//   - "output": Dense projection back to channels.
//
// The number of channels must be divisible by numHeads.
func RelativePositionMultiHeadAttention(ctx *context.Context, x *graph.Node, numHeads int) *MultiHeadAttentionBuilder {
	return &MultiHeadAttentionBuilder{
		ctx:      ctx,
		x:        x,
		numHeads: numHeads,
		qkvBias:  true,
		outBias:  true,
	}
}

// UseQKVBias sets whether the "qkv" projection has a bias. Default is true.
func (mha *MultiHeadAttentionBuilder) UseQKVBias(useBias bool) *MultiHeadAttentionBuilder {
	mha.qkvBias = useBias
	return mha
}

// UseOutputBias sets whether the "output" projection has a bias. Default is true.
func (mha *MultiHeadAttentionBuilder) UseOutputBias(useBias bool) *MultiHeadAttentionBuilder {
	mha.outBias = useBias
	return mha
}

// Done creates the attention and returns its output, shaped as x.
func (mha *MultiHeadAttentionBuilder) Done() *graph.Node {
	ctx, x := mha.ctx, mha.x
	if x.Rank() != 4 {
		Panicf("layers.RelativePositionMultiHeadAttention(%q): x must be shaped [batch, height, width, channels], got %s",
			LayerName(ctx), x.Shape())
	}
	batchSize, height, width, channels := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2), x.Shape().Dim(3)
	if mha.numHeads <= 0 || channels%mha.numHeads != 0 {
		Panicf("layers.RelativePositionMultiHeadAttention(%q): channels (%d) must be divisible by the number of heads (%d)",
			LayerName(ctx), channels, mha.numHeads)
	}
	numHeads := mha.numHeads
	keyDim := channels / numHeads
	seqLen := height * width
	g := x.Graph()

	qkv := Dense(ctx.In("qkv"), x, mha.qkvBias, 3*channels)
	posCtx := ctx.In("pos_emb")
	bias := build(posCtx, g, func() *graph.Node {
		numPositions := (2*height - 1) * (2*width - 1)
		embedding := posCtx.WithInitializer(initializers.Zero).
			VariableWithShape(PositionalEmbeddingName, shapes.Make(x.DType(), numHeads, numPositions)).ValueGraph(g)
		indices := graph.Const(g, RelativePositionIndex(height, width), seqLen, seqLen)
		perPair := graph.GatherRows(graph.Transpose(embedding, 1, 0), indices) // [seq, seq, heads]
		return graph.Reshape(graph.Transpose(perPair, 2, 0, 1), 1, numHeads, seqLen, seqLen)
	})
	attention := build(ctx.In("attention"), g, func() *graph.Node {
		qkv := graph.Reshape(qkv, batchSize, seqLen, 3, numHeads, keyDim)
		split := func(ii int) *graph.Node {
			part := graph.Slice(qkv, []int{0, 0, ii, 0, 0}, []int{batchSize, seqLen, ii + 1, numHeads, keyDim})
			return graph.Reshape(part, batchSize, seqLen, numHeads, keyDim)
		}
		query, key, value := split(0), split(1), split(2)
		output := graph.ScaledDotProductAttention(query, key, value, bias, numHeads, backends.AxesLayoutBSHD,
			1/math.Sqrt(float64(keyDim)))
		return graph.Reshape(output, batchSize, height, width, channels)
	})
	return Dense(ctx.In("output"), attention, mha.outBias, channels)
}

// ResizeRelativePositionEmbedding resizes the relative position bias of a RelativePositionMultiHeadAttention,
// shaped [numHeads, sourceHeight*sourceWidth], to [numHeads, targetHeight*targetWidth]. Each head is
// interpolated bilinearly over its grid of relative positions, with half-pixel centers.
//
// For a window of height x width, the grid is (2*height-1) x (2*width-1). The result keeps the dtype of value.
func ResizeRelativePositionEmbedding(value *tensors.Tensor, sourceHeight, sourceWidth, targetHeight, targetWidth int) (*tensors.Tensor, error) {
	shape := value.Shape()
	if shape.Rank() != 2 || shape.Dim(1) != sourceHeight*sourceWidth {
		return nil, errors.Errorf("position embedding shaped %s doesn't match a %dx%d grid per head",
			shape, sourceHeight, sourceWidth)
	}
	if targetHeight <= 0 || targetWidth <= 0 {
		return nil, errors.Errorf("invalid target grid %dx%d for the position embedding", targetHeight, targetWidth)
	}
	source, err := value.Float64s()
	if err != nil {
		return nil, errors.WithMessage(err, "resizing position embedding")
	}
	numHeads := shape.Dim(0)
	rows := bilinearWeights(sourceHeight, targetHeight)
	cols := bilinearWeights(sourceWidth, targetWidth)
	resized := make([]float64, 0, numHeads*targetHeight*targetWidth)
	for head := range numHeads {
		grid := source[head*sourceHeight*sourceWidth : (head+1)*sourceHeight*sourceWidth]
		for _, row := range rows {
			top, bottom := grid[row.lower*sourceWidth:], grid[row.upper*sourceWidth:]
			for _, col := range cols {
				upper := top[col.lower] + (top[col.upper]-top[col.lower])*col.lerp
				lower := bottom[col.lower] + (bottom[col.upper]-bottom[col.lower])*col.lerp
				resized = append(resized, upper+(lower-upper)*row.lerp)
			}
		}
	}
	output := tensors.FromFlatDataAndDimensions(resized, numHeads, targetHeight*targetWidth)
	if value.DType() == output.DType() {
		return output, nil
	}
	return output.ConvertDType(value.DType())
}

type interpolationWeight struct {
	lower, upper int
	lerp         float64
}

// bilinearWeights maps each of the target positions to the two source positions it interpolates.
func bilinearWeights(sourceSize, targetSize int) []interpolationWeight {
	scale := float64(sourceSize) / float64(targetSize)
	weights := make([]interpolationWeight, targetSize)
	for ii := range weights {
		in := (float64(ii)+0.5)*scale - 0.5
		floor := math.Floor(in)
		weights[ii] = interpolationWeight{
			lower: max(int(floor), 0),
			upper: min(int(math.Ceil(in)), sourceSize-1),
			lerp:  in - floor,
		}
	}
	return weights
}
