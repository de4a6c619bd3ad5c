// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/gomlx/gopjrt/dtypes"

// StandardOps lists the primitive operations a Builder supports.
//
// Binary operations follow the standard broadcasting rules: either one operand is a scalar,
// or both have the same rank and each axis dimension matches or is 1.
type StandardOps interface {
	// Add returns the element-wise sum of the two values.
	Add(lhs, rhs Op) (Op, error)

	// Sub returns the element-wise subtraction of the two values.
	Sub(lhs, rhs Op) (Op, error)

	// Mul returns the element-wise multiplication of the two values.
	Mul(lhs, rhs Op) (Op, error)

	// Div returns the element-wise division of the two values.
	Div(lhs, rhs Op) (Op, error)

	// Max returns the element-wise max of the two values.
	Max(lhs, rhs Op) (Op, error)

	// Neg returns the element-wise negation of x.
	Neg(x Op) (Op, error)

	// Tanh returns the element-wise hyperbolic tangent of x.
	Tanh(x Op) (Op, error)

	// Logistic returns the element-wise sigmoid, 1/(1+exp(-x)).
	Logistic(x Op) (Op, error)

	// ConvertDType of x to dtype.
	ConvertDType(x Op, dtype dtypes.DType) (Op, error)

	// Reshape x to the given dimensions. The total size must be preserved.
	Reshape(x Op, dimensions ...int) (Op, error)

	// Transpose axes of x.
	// There must be one value in permutation for each axis in x.
	// The output will have: output.Shape.Dimension[ii] = x.Shape.Dimension[permutation[i]].
	Transpose(x Op, permutation ...int) (Op, error)

	// Slice extracts a sub-array from the input array.
	// The sub-array is of the same rank as the input and contains the values inside a bounding box within the input
	// array where the dimensions and indices of the bounding box are given as arguments to the slice operation.
	// The strides set the input stride of the slice in each axis and must be >= 1.
	Slice(x Op, starts, limits, strides []int) (Op, error)

	// Pad injects padding on the start, end, or interior (in between each element) of the given operand.
	// There must be at most `operand.Rank()` axesConfig values. Missing PadAxis are assumed to be zeros,
	// that is, no padding for those axes.
	Pad(x, fillValue Op, axesConfig ...PadAxis) (Op, error)

	// ReduceSum reduces x over the axes selected, summing its values.
	ReduceSum(x Op, axes ...int) (Op, error)

	// ReduceMax reduces x over the axes selected, taking the max value.
	ReduceMax(x Op, axes ...int) (Op, error)

	// ReduceWindow runs a reduction function over sliding windows of x, as used by pooling layers.
	// The paddings are given as [low, high] per axis, and nil means no padding.
	ReduceWindow(x Op, reductionType ReduceOpType, windowDimensions, strides, baseDilations, windowDilations []int, paddings [][2]int) (Op, error)

	// ConvGeneral is a generic Convolution operation with support for:
	// - Arbitrary number of spatial axes.
	// - Arbitrary transposition of axes.
	// - Strides and padding.
	// - Dilations of the input.
	// - Dilations of the kernel, aka. atrous convolution.
	// - Channels grouping (on the input channels), used by depthwise convolutions.
	// - Batch grouping.
	// Some details in https://www.tensorflow.org/xla/operation_semantics#convwithgeneralpadding_convolution.
	ConvGeneral(
		input, kernel Op,
		axes ConvolveAxesConfig,
		strides []int,
		paddings [][2]int,
		inputDilations, kernelDilations []int,
		channelGroupCount, batchGroupCount int,
	) (Op, error)

	// DotGeneral takes as input lhs (left-hand-side) and rhs (right-hand-side) specifications
	// for a general vector product -- a generalized "Einsum". Each axis can be:
	//
	//   - Just aligned (batch axes), so the output has the same axes as the inputs. The dimensions
	//     must match in lhs and rhs.
	//   - Crossed (default), in which case the output is the combination (concatenation) of the
	//     dimensions.
	//   - Contracted (contracting axes), where the output does multiply the values and reduce sum
	//     those dimensions.
	//
	// The output axes are ordered as: batch axes, lhs cross axes, rhs cross axes.
	DotGeneral(lhs Op, lhsContractingAxes, lhsBatchAxes []int, rhs Op, rhsContractingAxes, rhsBatchAxes []int) (Op, error)

	// Gather is a powerful but cumbersome Gather operation offered by XLA.
	// Full details in https://www.tensorflow.org/xla/operation_semantics#gather.
	Gather(operand, startIndices Op, indexVectorAxis int, offsetOutputAxes, collapsedSliceAxes, startIndexMap, sliceSizes []int, indicesAreSorted bool) (Op, error)

	// BatchNormForInference implements batch normalization for inference, using the moving
	// mean and variance of the channels (featureAxis).
	BatchNormForInference(operand, scale, offset, mean, variance Op, epsilon float32, featureAxis int) (Op, error)
}
