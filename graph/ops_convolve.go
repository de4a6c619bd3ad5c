// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/gomlx/exceptions"
)

// ConvolveAxesConfig defines the axes of input, kernel and output of a convolution.
type ConvolveAxesConfig = backends.ConvolveAxesConfig

// ConvolutionBuilder is a helper to build a convolution computation.
// Create it with Convolve, set the desired parameters and when all is set, call Done.
//
// Inputs are always "channels last": x is shaped [batch, <spatial_dims...>, channels] and the
// kernel [<spatial_dims...>, input_channels/channel_groups, output_channels].
type ConvolutionBuilder struct {
	graph             *Graph
	x, kernel         *Node
	numSpatialDims    int
	strides           []int
	paddings          [][2]int
	padSame           bool
	filterDilation    []int
	channelGroupCount int
}

// Convolve prepares a convolution on x with the given kernel for arbitrary
// number of spatial dimensions (1D, 2D, 3D, etc.).
//
// It returns a ConvolutionBuilder object that can be further configured. Once the
// configuration is finished, call ConvolutionBuilder.Done and it will return
// the convolved x. Default is stride 1, no padding and no dilation.
func Convolve(x, kernel *Node) *ConvolutionBuilder {
	g := validateBuildingGraphFromInputs(x, kernel)
	conv := &ConvolutionBuilder{
		graph:             g,
		x:                 x,
		kernel:            kernel,
		numSpatialDims:    x.Rank() - 2,
		channelGroupCount: 1,
	}
	if conv.numSpatialDims <= 0 {
		exceptions.Panicf("Convolve: input x must have rank >= 3, shaped [batch, <spatial_dimensions...>, channels], got %s", x.Shape())
	}
	if kernel.Rank() != x.Rank() {
		exceptions.Panicf("Convolve: input x (%s) and kernel (%s) must have the same rank", x.Shape(), kernel.Shape())
	}
	return conv
}

// Strides sets the strides of the convolution to the same value for every spatial dimension.
func (conv *ConvolutionBuilder) Strides(strides int) *ConvolutionBuilder {
	perAxis := make([]int, conv.numSpatialDims)
	for ii := range perAxis {
		perAxis[ii] = strides
	}
	return conv.StridePerAxis(perAxis...)
}

// StridePerAxis sets the strides for each spatial dimension of the convolution.
func (conv *ConvolutionBuilder) StridePerAxis(strides ...int) *ConvolutionBuilder {
	if len(strides) != conv.numSpatialDims {
		exceptions.Panicf("Convolve: StridePerAxis got %d strides, but x has %d spatial dimensions", len(strides), conv.numSpatialDims)
	}
	conv.strides = strides
	return conv
}

// PadSame adds paddings on the edges of x such that the output spatial dimensions are
// ceil(input/stride), the "SAME" padding of TensorFlow/Keras: when the total padding is odd,
// the extra padding goes to the end.
func (conv *ConvolutionBuilder) PadSame() *ConvolutionBuilder {
	conv.padSame = true
	conv.paddings = nil
	return conv
}

// NoPadding removes any paddings, so if the kernel spatial dimensions > 1,
// the output shape will be reduced on the edges. This is the default.
func (conv *ConvolutionBuilder) NoPadding() *ConvolutionBuilder {
	conv.padSame = false
	conv.paddings = nil
	return conv
}

// PaddingPerDim specifies the paddings at the start and at the end to use per spatial dimension.
func (conv *ConvolutionBuilder) PaddingPerDim(paddings [][2]int) *ConvolutionBuilder {
	if len(paddings) != conv.numSpatialDims {
		exceptions.Panicf("Convolve: PaddingPerDim got %d paddings, but x has %d spatial dimensions", len(paddings), conv.numSpatialDims)
	}
	conv.padSame = false
	conv.paddings = paddings
	return conv
}

// Dilations sets the dilations of the kernel for every spatial dimension.
func (conv *ConvolutionBuilder) Dilations(dilation int) *ConvolutionBuilder {
	conv.filterDilation = make([]int, conv.numSpatialDims)
	for ii := range conv.filterDilation {
		conv.filterDilation[ii] = dilation
	}
	return conv
}

// ChannelGroupCount splits the input channels in groups convolved separately.
// Setting it to the number of input channels makes it a depthwise convolution.
func (conv *ConvolutionBuilder) ChannelGroupCount(count int) *ConvolutionBuilder {
	if count < 1 {
		exceptions.Panicf("Convolve: ChannelGroupCount must be >= 1, got %d", count)
	}
	conv.channelGroupCount = count
	return conv
}

// SamePaddings returns the TensorFlow "SAME" paddings for the given input, effective kernel
// size and stride of one axis.
func SamePaddings(inputSize, kernelSize, stride int) [2]int {
	outputSize := (inputSize + stride - 1) / stride
	total := max((outputSize-1)*stride+kernelSize-inputSize, 0)
	return [2]int{total / 2, total - total/2}
}

// Done indicates that the convolve operation is finished being configured and
// it updates the computation graph with convolution, and returns the resulting
// Node.
func (conv *ConvolutionBuilder) Done() *Node {
	x, kernel := conv.x, conv.kernel
	rank := x.Rank()
	axes := ConvolveAxesConfig{
		InputBatch:           0,
		InputChannels:        rank - 1,
		KernelInputChannels:  rank - 2,
		KernelOutputChannels: rank - 1,
		OutputBatch:          0,
		OutputChannels:       rank - 1,
	}
	for ii := range conv.numSpatialDims {
		axes.InputSpatial = append(axes.InputSpatial, ii+1)
		axes.KernelSpatial = append(axes.KernelSpatial, ii)
		axes.OutputSpatial = append(axes.OutputSpatial, ii+1)
	}

	strides := conv.strides
	if strides == nil {
		strides = make([]int, conv.numSpatialDims)
		for ii := range strides {
			strides[ii] = 1
		}
	}
	paddings := conv.paddings
	if conv.padSame {
		paddings = make([][2]int, conv.numSpatialDims)
		for ii := range paddings {
			kernelSize := kernel.Shape().Dimensions[ii]
			if conv.filterDilation != nil {
				kernelSize = (kernelSize-1)*conv.filterDilation[ii] + 1
			}
			paddings[ii] = SamePaddings(x.Shape().Dimensions[ii+1], kernelSize, strides[ii])
		}
	}
	return ConvGeneral(x, kernel, axes, strides, paddings, nil, conv.filterDilation, conv.channelGroupCount, 1)
}

// ConvGeneral is a generic Convolution operation, see backends.Builder.ConvGeneral.
func ConvGeneral(input, kernel *Node, axes ConvolveAxesConfig, strides []int, paddings [][2]int,
	inputDilations, kernelDilations []int, channelGroupCount, batchGroupCount int) *Node {
	g := validateBuildingGraphFromInputs(input, kernel)
	numSpatialDims := input.Rank() - 2
	if len(axes.InputSpatial) != numSpatialDims || len(axes.OutputSpatial) != numSpatialDims || len(axes.KernelSpatial) != numSpatialDims {
		exceptions.Panicf("ConvGeneral: input has %d spatial dimensions, but axes configuration has %d, %d, %d spatial axes configured "+
			"for input/kernel/output", numSpatialDims, len(axes.InputSpatial), len(axes.KernelSpatial), len(axes.OutputSpatial))
	}
	op, err := g.builder.ConvGeneral(input.op, kernel.op, axes, strides, paddings, inputDilations, kernelDilations, channelGroupCount, batchGroupCount)
	panicIf(err, "ConvGeneral")
	return newNode(g, backends.OpTypeConvGeneral, op, input, kernel)
}
