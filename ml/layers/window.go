// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	. "github.com/gomlx/exceptions"
)

// PartitionType selects how the pixels of a feature map are split into the sequences attended over.
type PartitionType int

const (
	// PartitionWindow groups adjacent pixels: each partition is a windowHeight x windowWidth block.
	PartitionWindow PartitionType = iota

	// PartitionGrid groups pixels at the same offset of every block: each partition is a
	// windowHeight x windowWidth grid, with a stride of (height/windowHeight, width/windowWidth).
	// Both are exhaustive tilings of the map with partitions of the same size.
	PartitionGrid
)

// String implements fmt.Stringer.
func (p PartitionType) String() string {
	if p == PartitionGrid {
		return "grid"
	}
	return "window"
}

// PartitionPixels returns the (y, x) pixel coordinates of each partition of a height x width map, in the
// order the graph partitions them (see PartitionWindows). Each partition lists its pixels in row-major
// order. height and width must be divisible by windowHeight and windowWidth.
func PartitionPixels(partition PartitionType, height, width, windowHeight, windowWidth int) [][][2]int {
	numRows, numCols := height/windowHeight, width/windowWidth
	partitions := make([][][2]int, 0, numRows*numCols)
	for row := range numRows {
		for col := range numCols {
			pixels := make([][2]int, 0, windowHeight*windowWidth)
			for wy := range windowHeight {
				for wx := range windowWidth {
					if partition == PartitionGrid {
						pixels = append(pixels, [2]int{wy*numRows + row, wx*numCols + col})
					} else {
						pixels = append(pixels, [2]int{row*windowHeight + wy, col*windowWidth + wx})
					}
				}
			}
			partitions = append(partitions, pixels)
		}
	}
	return partitions
}

// PartitionWindows splits x, shaped [batch, height, width, channels], into partitions of
// windowHeight x windowWidth pixels: the output is shaped [batch*numPartitions, windowHeight, windowWidth, channels].
//
// height and width must be divisible by the window size.
func PartitionWindows(x *graph.Node, partition PartitionType, windowHeight, windowWidth int) *graph.Node {
	batchSize, height, width, channels := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2), x.Shape().Dim(3)
	if height%windowHeight != 0 || width%windowWidth != 0 {
		Panicf("PartitionWindows: map %dx%d not divisible by window %dx%d", height, width, windowHeight, windowWidth)
	}
	numRows, numCols := height/windowHeight, width/windowWidth
	var blocks *graph.Node
	if partition == PartitionGrid {
		blocks = graph.Reshape(x, batchSize, windowHeight, numRows, windowWidth, numCols, channels)
		blocks = graph.Transpose(blocks, 0, 2, 4, 1, 3, 5)
	} else {
		blocks = graph.Reshape(x, batchSize, numRows, windowHeight, numCols, windowWidth, channels)
		blocks = graph.Transpose(blocks, 0, 1, 3, 2, 4, 5)
	}
	return graph.Reshape(blocks, batchSize*numRows*numCols, windowHeight, windowWidth, channels)
}

// MergeWindows is the inverse of PartitionWindows: it reassembles the partitions into a map shaped
// [batch, height, width, channels].
func MergeWindows(windows *graph.Node, partition PartitionType, height, width int) *graph.Node {
	windowHeight, windowWidth, channels := windows.Shape().Dim(1), windows.Shape().Dim(2), windows.Shape().Dim(3)
	numRows, numCols := height/windowHeight, width/windowWidth
	batchSize := windows.Shape().Dim(0) / (numRows * numCols)
	blocks := graph.Reshape(windows, batchSize, numRows, numCols, windowHeight, windowWidth, channels)
	if partition == PartitionGrid {
		blocks = graph.Transpose(blocks, 0, 3, 1, 4, 2, 5)
	} else {
		blocks = graph.Transpose(blocks, 0, 1, 3, 2, 4, 5)
	}
	return graph.Reshape(blocks, batchSize, height, width, channels)
}

// ClampWindow returns the window size clamped to the size of the map.
func ClampWindow(height, width int, windowSize [2]int) (windowHeight, windowWidth int) {
	return min(windowSize[0], height), min(windowSize[1], width)
}

// WindowAttention applies RelativePositionMultiHeadAttention (with the scope of ctx) to each partition
// of x, shaped [batch, height, width, channels], and reassembles the result to the shape of x.
//
// The window size is clamped to the map size. If the map is not divisible by the window, it is zero
// padded at the end ("partition") and cropped back after the reassembly ("merge").
func WindowAttention(ctx *context.Context, x *graph.Node, partition PartitionType, windowSize [2]int, numHeads int) *graph.Node {
	if x.Rank() != 4 {
		Panicf("layers.WindowAttention(%q): x must be shaped [batch, height, width, channels], got %s", LayerName(ctx), x.Shape())
	}
	height, width := x.Shape().Dim(1), x.Shape().Dim(2)
	windowHeight, windowWidth := ClampWindow(height, width, windowSize)
	if windowHeight <= 0 || windowWidth <= 0 {
		Panicf("layers.WindowAttention(%q): invalid window size %v", LayerName(ctx), windowSize)
	}
	padHeight := (windowHeight - height%windowHeight) % windowHeight
	padWidth := (windowWidth - width%windowWidth) % windowWidth
	paddedHeight, paddedWidth := height+padHeight, width+padWidth
	g := x.Graph()

	windows := build(ctx.In("partition"), g, func() *graph.Node {
		padded := x
		if padHeight > 0 || padWidth > 0 {
			padded = graph.Pad(x, graph.PadAxis{}, graph.PadAxis{End: padHeight}, graph.PadAxis{End: padWidth}, graph.PadAxis{})
		}
		return PartitionWindows(padded, partition, windowHeight, windowWidth)
	})
	attention := RelativePositionMultiHeadAttention(ctx, windows, numHeads).Done()
	return build(ctx.In("merge"), g, func() *graph.Node {
		merged := MergeWindows(attention, partition, paddedHeight, paddedWidth)
		if padHeight > 0 || padWidth > 0 {
			merged = graph.Slice(merged, []int{0, 0, 0, 0}, []int{merged.Shape().Dim(0), height, width, merged.Shape().Dim(3)})
		}
		return merged
	})
}
