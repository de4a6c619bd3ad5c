// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// It is used by the symbolic backend, and it can be useful for new backends to plan for
// buffer space for temporary or output buffers.
//
// It defines a BinaryOp function for shape inference for the binary functions, using the standard
// broadcasting rules. The unary functions don't change the shape. For the remainder ops,
// it defines one function per OpType.
package shapeinference

import (
	"slices"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var (
	// StandardBinaryOperations include all operations that have two operands usually named lhs (left-hand-side) and
	// rhs (right-hand-side).
	StandardBinaryOperations = types.SetWith(
		backends.OpTypeAdd,
		backends.OpTypeSub,
		backends.OpTypeMul,
		backends.OpTypeDiv,
		backends.OpTypeMax,
	)

	// StandardUnaryOperations include all operations that have a single operand as input, and the return shape is the
	// same as the input (so no reductions).
	StandardUnaryOperations = types.SetWith(
		backends.OpTypeNeg,
		backends.OpTypeTanh,
		backends.OpTypeLogistic,
		backends.OpTypeFusedGelu,
	)

	// FloatOperations operates only on float numbers.
	FloatOperations = types.SetWith(
		backends.OpTypeTanh,
		backends.OpTypeLogistic,
		backends.OpTypeFusedGelu,
		backends.OpTypeFusedSoftmax,
		backends.OpTypeFusedLayerNorm,
		backends.OpTypeFusedDropout,
		backends.OpTypeBatchNormForInference,
	)
)

func isNumber(dtype dtypes.DType) bool {
	return dtype.IsInt() || dtype.IsFloat()
}

// BinaryOp returns the expected output shape for ops in the StandardBinaryOperations set.
//
// It returns an error if the data type (shape.DType) is invalid for the operation -- e.g.: non-matching
// dtypes.
func BinaryOp(opType backends.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operations %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if !lhsShape.Ok() || !rhsShape.Ok() {
		err = errors.Errorf("invalid shape for %s or %s for BinaryOp %s", lhsShape, rhsShape, opType)
		return
	}
	if lhsShape.DType != rhsShape.DType {
		err = errors.Errorf("data types (DType) for BinaryOp %s must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if !isNumber(lhsShape.DType) {
		err = errors.Errorf("numeric BinaryOp %s must have a number (Int32, Float32, ...) data type as input, got %s", opType, lhsShape)
		return
	}
	return broadcastShapes(opType, lhsShape, rhsShape)
}

func broadcastShapes(opType backends.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	// Trivial cases: if one of the sides is a scalar, return the other side shape.
	if lhsShape.IsScalar() {
		return rhsShape, nil
	}
	if rhsShape.IsScalar() {
		return lhsShape, nil
	}

	// Other cases, either the dimensions match or one of them is 1.
	if lhsShape.Rank() != rhsShape.Rank() {
		err = errors.Errorf("if operands are not scalars, their rank must match for BinaryOp (%s), got shapes %s and %s",
			opType, lhsShape, rhsShape)
		return
	}
	output = lhsShape.Clone()
	for axis := range output.Rank() {
		lhsDim := lhsShape.Dimensions[axis]
		rhsDim := rhsShape.Dimensions[axis]
		if lhsDim != 1 && rhsDim != 1 && lhsDim != rhsDim {
			err = errors.Errorf("dimension of axis #%d doesn't match and cannot be broadcast for BinaryOp (%s), got shapes %s and %s",
				axis, opType, lhsShape, rhsShape)
			return
		}
		output.Dimensions[axis] = max(lhsDim, rhsDim)
	}
	return
}

// UnaryOp checks the validity of the data type for StandardUnaryOperations and returns either an error or
// the output shape, which is the same as the operand.
func UnaryOp(opType backends.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if !operand.Ok() {
		err = errors.Errorf("invalid shape %s for UnaryOp %s", operand, opType)
		return
	}
	if opType == backends.OpTypeNeg && (operand.DType.IsUnsigned() || !isNumber(operand.DType)) {
		err = errors.Errorf("signed UnaryOp %s must have a signed data type as input, got %s", opType, operand)
		return
	}
	if FloatOperations.Has(opType) && !operand.DType.IsFloat() {
		err = errors.Errorf("float UnaryOp %s must have a float (Float32, Float64, ...) data type as input, got %s", opType, operand)
		return
	}
	output = operand
	return
}

// ConvertDTypeOp returns the operand shape with the new dtype.
func ConvertDTypeOp(operand shapes.Shape, dtype dtypes.DType) (output shapes.Shape, err error) {
	if !operand.Ok() || dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("ConvertDType(%s, %s): invalid shape or dtype", operand, dtype)
	}
	output = operand.Clone()
	output.DType = dtype
	return
}

// ReshapeOp to the given dimensions: trivial output shape, but this function also checks
// that the sizes are the same.
//
// Notice the backends.Reshape doesn't support auto-scaling dimensions (set to -1), as graph.Reshape does.
func ReshapeOp(operand shapes.Shape, dims []int) (output shapes.Shape, err error) {
	for _, dim := range dims {
		if dim <= 0 {
			return shapes.Invalid(), errors.Errorf("Reshape() cannot reshape %s to dimensions %v, all dimensions must be > 0",
				operand, dims)
		}
	}
	output = shapes.Make(operand.DType, dims...)
	if operand.Size() != output.Size() {
		err = errors.Errorf("Reshape() cannot reshape %s to dimensions %v, their size don't match",
			operand, dims)
		return shapes.Invalid(), err
	}
	return
}

// TransposeOp all axes of the operand.
// There must be one value in permutations for each axis in the operand.
// The output will have: output.Shape.Dimension[ii] = operand.Shape.Dimension[permutations[i]].
func TransposeOp(operand shapes.Shape, permutations []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	if len(permutations) != rank {
		err = errors.Errorf("Transpose() requires all axes permutations to be defined, operand has shape %s, but %d permutations were given",
			operand, len(permutations))
		return
	}
	if rank == 0 {
		return operand, nil
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutations)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutations given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand, permutations)
			return
		}
	}

	output = operand.Clone()
	for axis := range output.Dimensions {
		output.Dimensions[axis] = operand.Dimensions[permutations[axis]]
	}
	return
}

// ReduceOp works for the ReduceMax and ReduceSum ops.
func ReduceOp(operand shapes.Shape, axes []int) (output shapes.Shape, err error) {
	if len(axes) == 0 {
		return operand, nil
	}
	axesSet := types.MakeSet[int](len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), errors.Errorf("Reduce operation require each axis to be 0 <= axis < rank, but got invalid axis %d for shape %s", axis, operand)
		}
		if axesSet.Has(axis) {
			return shapes.Invalid(), errors.Errorf("Reduce operation got repeated axis %d for shape %s", axis, operand)
		}
		axesSet.Insert(axis)
	}
	output = shapes.Shape{DType: operand.DType}
	for axis, dim := range operand.Dimensions {
		if !axesSet.Has(axis) {
			output.Dimensions = append(output.Dimensions, dim)
		}
	}
	return
}

// SliceOp calculates the output shape for a Slice operation.
// It checks that starts, limits, and strides have the correct length (matching operand rank),
// and that the slice parameters are valid for the operand's dimensions.
// Strides must be positive.
func SliceOp(operand shapes.Shape, starts, limits, strides []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("SliceOp: invalid operand shape %s", operand)
	}
	if len(starts) != rank || len(limits) != rank || len(strides) != rank {
		return shapes.Invalid(), errors.Errorf("SliceOp: starts (%v), limits (%v) and strides (%v) must have one value per axis of operand %s",
			starts, limits, strides, operand)
	}
	output = shapes.Shape{DType: operand.DType, Dimensions: make([]int, rank)}
	for axis := range rank {
		start, limit, stride := starts[axis], limits[axis], strides[axis]
		dimSize := operand.Dimensions[axis]
		if stride <= 0 {
			return shapes.Invalid(), errors.Errorf("SliceOp: stride must be positive, but got stride[%d]=%d for operand shape %s",
				axis, stride, operand)
		}
		if start < 0 || start >= dimSize {
			return shapes.Invalid(), errors.Errorf("SliceOp: start index %d is out of bounds for axis %d with size %d (operand shape %s)",
				start, axis, dimSize, operand)
		}
		if limit <= start || limit > dimSize {
			return shapes.Invalid(), errors.Errorf("SliceOp: limit index %d is out of bounds for axis %d (start=%d, size=%d, operand shape %s)",
				limit, axis, start, dimSize, operand)
		}
		// The first one is always taken, so we use the ceiling of the division.
		output.Dimensions[axis] = (limit - start + (stride - 1)) / stride
	}
	return output, nil
}

// PadOp calculates the output shape of a Pad operation. The fillValue must be a scalar of the
// same dtype as the operand.
func PadOp(operand, fillValue shapes.Shape, axesConfig []backends.PadAxis) (output shapes.Shape, err error) {
	if !fillValue.IsScalar() || fillValue.DType != operand.DType {
		return shapes.Invalid(), errors.Errorf("PadOp: fillValue must be a scalar of dtype %s, got %s", operand.DType, fillValue)
	}
	if len(axesConfig) > operand.Rank() {
		return shapes.Invalid(), errors.Errorf("PadOp: %d axes configured for operand %s", len(axesConfig), operand)
	}
	output = operand.Clone()
	for axis, pad := range axesConfig {
		if pad.Interior < 0 {
			return shapes.Invalid(), errors.Errorf("PadOp: negative interior padding %d for axis %d", pad.Interior, axis)
		}
		dim := operand.Dimensions[axis]
		newDim := dim + pad.Start + pad.End + max(dim-1, 0)*pad.Interior
		if newDim <= 0 {
			return shapes.Invalid(), errors.Errorf("PadOp: padding %+v of axis %d of %s yields an empty axis", pad, axis, operand)
		}
		output.Dimensions[axis] = newDim
	}
	return
}

// ReduceWindowOp returns the expected output shape for the operation.
//
// Notice it doesn't take as input the reductionType parameter, since it doesn't affect the output shape.
func ReduceWindowOp(operand shapes.Shape, windowDimensions, strides, baseDilations, windowDilations []int, paddings [][2]int) (shapes.Shape, error) {
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("ReduceWindowOp: invalid operand shape %s", operand)
	}
	rank := operand.Rank()
	checkLen := func(name string, n int) error {
		if n != 0 && n != rank {
			return errors.Errorf("ReduceWindowOp: len(%s)=%d, but operand rank is %d", name, n, rank)
		}
		return nil
	}
	for _, check := range []error{
		checkLen("windowDimensions", len(windowDimensions)),
		checkLen("strides", len(strides)),
		checkLen("paddings", len(paddings)),
		checkLen("baseDilations", len(baseDilations)),
		checkLen("windowDilations", len(windowDilations)),
	} {
		if check != nil {
			return shapes.Invalid(), check
		}
	}

	outputDims := make([]int, rank)
	for i := range rank {
		inputDim := operand.Dimensions[i]
		windowDim := 1
		if len(windowDimensions) > 0 {
			windowDim = windowDimensions[i]
		}
		stride := windowDim
		if len(strides) > 0 {
			stride = strides[i]
		}
		var paddingLow, paddingHigh int
		if len(paddings) > 0 {
			paddingLow, paddingHigh = paddings[i][0], paddings[i][1]
		}
		baseDilation, windowDilation := 1, 1
		if len(baseDilations) > 0 {
			baseDilation = baseDilations[i]
		}
		if len(windowDilations) > 0 {
			windowDilation = windowDilations[i]
		}
		if windowDim < 1 || stride < 1 || baseDilation < 1 || windowDilation < 1 || paddingLow < 0 || paddingHigh < 0 {
			return shapes.Invalid(), errors.Errorf("ReduceWindowOp: invalid configuration for axis %d (window=%d, stride=%d, dilations=%d/%d, padding=[%d,%d]) for operand shape %s",
				i, windowDim, stride, baseDilation, windowDilation, paddingLow, paddingHigh, operand)
		}
		effectiveInputDim := (inputDim-1)*baseDilation + 1
		effectiveWindowDim := (windowDim-1)*windowDilation + 1
		paddedEffectiveInputDim := effectiveInputDim + paddingLow + paddingHigh
		if effectiveWindowDim > paddedEffectiveInputDim {
			return shapes.Invalid(), errors.Errorf(
				"ReduceWindowOp: effective window dimension %d for axis %d is larger than padded effective input dimension %d for operand shape %s",
				effectiveWindowDim, i, paddedEffectiveInputDim, operand)
		}
		outputDims[i] = (paddedEffectiveInputDim-effectiveWindowDim)/stride + 1
	}
	return shapes.Make(operand.DType, outputDims...), nil
}

// ConvGeneralOp returns the expected output shape for the ConvGeneral operation.
func ConvGeneralOp(input, kernel shapes.Shape, axes backends.ConvolveAxesConfig,
	strides []int, paddings [][2]int,
	inputDilations, kernelDilations []int,
	channelGroupCount, batchGroupCount int) (shapes.Shape, error) {
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), errors.Errorf("ConvGeneralOp: "+format, args...)
	}
	if !input.Ok() || !kernel.Ok() {
		return errorf("invalid input (%s) or kernel (%s) shape", input, kernel)
	}
	if input.DType != kernel.DType {
		return errorf("input (%s) and kernel (%s) dtypes must match", input, kernel)
	}
	rank := input.Rank()
	spatialRank := rank - 2
	if rank < 3 {
		return errorf("input needs to be at least rank-3 with axes (in any order) batch, channels and spatial -- input shape is %s", input)
	}
	if kernel.Rank() != rank {
		return errorf("input and kernel have different rank -- input shape is %s and kernel shape is %s", input, kernel)
	}

	checkAxes := func(what string, a, b int, spatial []int) error {
		if len(spatial) != spatialRank {
			return errors.Errorf("ConvGeneralOp: %s spatial axes %v must provide one value for each of the %d spatial axes", what, spatial, spatialRank)
		}
		set := types.SetWith(a, b)
		for _, axis := range spatial {
			if axis < 0 || axis >= rank {
				return errors.Errorf("ConvGeneralOp: invalid %s axes configuration (axis %d is out-of-bounds): %d, %d, spatial=%v", what, axis, a, b, spatial)
			}
			set.Insert(axis)
		}
		if len(set) != rank {
			return errors.Errorf("ConvGeneralOp: duplicate %s axes configuration: %d, %d, spatial=%v", what, a, b, spatial)
		}
		return nil
	}
	if err := checkAxes("input", axes.InputBatch, axes.InputChannels, axes.InputSpatial); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkAxes("kernel", axes.KernelInputChannels, axes.KernelOutputChannels, axes.KernelSpatial); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkAxes("output", axes.OutputBatch, axes.OutputChannels, axes.OutputSpatial); err != nil {
		return shapes.Invalid(), err
	}
	for name, values := range map[string]int{"strides": len(strides), "paddings": len(paddings),
		"inputDilations": len(inputDilations), "kernelDilations": len(kernelDilations)} {
		if values != 0 && values != spatialRank {
			return errorf("%s must either be nil or provide one value for each spatial axis (%d), input shape is %s", name, spatialRank, input)
		}
	}
	if channelGroupCount < 1 || batchGroupCount < 1 {
		return errorf("channelGroupCount (%d) and batchGroupCount (%d) must be >= 1", channelGroupCount, batchGroupCount)
	}
	if channelGroupCount > 1 && batchGroupCount > 1 {
		return errorf("at most one of channelGroupCount (%d) or batchGroupCount (%d) can be set to > 1", channelGroupCount, batchGroupCount)
	}

	// Check that channels (feature dimensions) are valid.
	inputChannels := input.Dim(axes.InputChannels)
	outputChannels := kernel.Dim(axes.KernelOutputChannels)
	if inputChannels%channelGroupCount != 0 || outputChannels%channelGroupCount != 0 {
		return errorf("input channels %d and output channels %d must be divisible by channelGroupCount %d", inputChannels, outputChannels, channelGroupCount)
	}
	kernelInputChannels := kernel.Dim(axes.KernelInputChannels)
	if inputChannels != kernelInputChannels*channelGroupCount {
		return errorf("we must have inputChannels (=%d) = kernelInputChannels (=%d) * channelGroupCount (=%d) -- input shape is %s, kernel shape is %s",
			inputChannels, kernelInputChannels, channelGroupCount, input, kernel)
	}
	inputBatch := input.Dim(axes.InputBatch)
	if inputBatch%batchGroupCount != 0 || outputChannels%batchGroupCount != 0 {
		return errorf("input batch %d and output channels %d must be divisible by batchGroupCount %d", inputBatch, outputChannels, batchGroupCount)
	}

	output := input.Clone()
	output.Dimensions[axes.OutputBatch] = inputBatch / batchGroupCount
	output.Dimensions[axes.OutputChannels] = outputChannels
	for spatialIdx, inputAxis := range axes.InputSpatial {
		inputDim := input.Dim(inputAxis)
		kernelDim := kernel.Dim(axes.KernelSpatial[spatialIdx])
		stride := 1
		if len(strides) > 0 {
			stride = strides[spatialIdx]
		}
		var padding [2]int
		if len(paddings) > 0 {
			padding = paddings[spatialIdx]
		}
		inputDilation, kernelDilation := 1, 1
		if len(inputDilations) > 0 {
			inputDilation = inputDilations[spatialIdx]
		}
		if len(kernelDilations) > 0 {
			kernelDilation = kernelDilations[spatialIdx]
		}
		if stride < 1 || inputDilation < 1 || kernelDilation < 1 {
			return errorf("stride (%d) and dilations (%d, %d) of spatial axis #%d must be >= 1", stride, inputDilation, kernelDilation, spatialIdx)
		}
		effectiveInputDim := (inputDim-1)*inputDilation + 1
		effectiveKernelDim := (kernelDim-1)*kernelDilation + 1
		paddedEffectiveInputDim := effectiveInputDim + padding[0] + padding[1]
		if effectiveKernelDim > paddedEffectiveInputDim {
			return errorf("effective kernel dimension %d for axis %d is larger than padded effective input dimension %d for input shape %s",
				effectiveKernelDim, inputAxis, paddedEffectiveInputDim, input)
		}
		output.Dimensions[axes.OutputSpatial[spatialIdx]] = (paddedEffectiveInputDim-effectiveKernelDim)/stride + 1
	}
	return output, nil
}

// DotGeneralOp returns the output shape of a DotGeneral: batch axes first, then the lhs
// cross axes, then the rhs cross axes.
func DotGeneralOp(lhs shapes.Shape, lhsContractingAxes, lhsBatchAxes []int, rhs shapes.Shape, rhsContractingAxes, rhsBatchAxes []int) (output shapes.Shape, err error) {
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), errors.Errorf("DotGeneral: lhs (%s) and rhs (%s) dtypes must match", lhs, rhs)
	}
	if len(lhsContractingAxes) != len(rhsContractingAxes) || len(lhsBatchAxes) != len(rhsBatchAxes) {
		return shapes.Invalid(), errors.Errorf("DotGeneral: lhs and rhs must have the same number of contracting (%v, %v) and batch (%v, %v) axes",
			lhsContractingAxes, rhsContractingAxes, lhsBatchAxes, rhsBatchAxes)
	}
	usedAxes := func(s shapes.Shape, contracting, batch []int) (types.Set[int], error) {
		used := types.MakeSet[int]()
		for _, axis := range slices.Concat(contracting, batch) {
			if axis < 0 || axis >= s.Rank() || used.Has(axis) {
				return nil, errors.Errorf("DotGeneral: invalid or repeated axis %d for shape %s", axis, s)
			}
			used.Insert(axis)
		}
		return used, nil
	}
	lhsUsed, err := usedAxes(lhs, lhsContractingAxes, lhsBatchAxes)
	if err != nil {
		return shapes.Invalid(), err
	}
	rhsUsed, err := usedAxes(rhs, rhsContractingAxes, rhsBatchAxes)
	if err != nil {
		return shapes.Invalid(), err
	}
	output = shapes.Shape{DType: lhs.DType}
	for ii, lhsAxis := range lhsBatchAxes {
		if lhs.Dimensions[lhsAxis] != rhs.Dimensions[rhsBatchAxes[ii]] {
			return shapes.Invalid(), errors.Errorf("DotGeneral: batch axes %d of %s and %d of %s don't match", lhsAxis, lhs, rhsBatchAxes[ii], rhs)
		}
		output.Dimensions = append(output.Dimensions, lhs.Dimensions[lhsAxis])
	}
	for ii, lhsAxis := range lhsContractingAxes {
		if lhs.Dimensions[lhsAxis] != rhs.Dimensions[rhsContractingAxes[ii]] {
			return shapes.Invalid(), errors.Errorf("DotGeneral: contracting axes %d of %s and %d of %s don't match", lhsAxis, lhs, rhsContractingAxes[ii], rhs)
		}
	}
	for axis, dim := range lhs.Dimensions {
		if !lhsUsed.Has(axis) {
			output.Dimensions = append(output.Dimensions, dim)
		}
	}
	for axis, dim := range rhs.Dimensions {
		if !rhsUsed.Has(axis) {
			output.Dimensions = append(output.Dimensions, dim)
		}
	}
	return output, nil
}

// Gather returns the output shape of a Gather operation.
func Gather(operand, startIndices shapes.Shape, indexVectorAxis int, offsetOutputAxes, collapsedSliceAxes,
	startIndexMap, sliceSizes []int, indicesAreSorted bool) (output shapes.Shape, err error) {
	_ = indicesAreSorted // Not used for shape inference.
	if operand.IsScalar() {
		return output, errors.Errorf("Gather() requires a non-scalar operand, got %s", operand)
	}
	if !startIndices.DType.IsInt() {
		return output, errors.Errorf("Gather() requires integer startIndices, got %s", startIndices)
	}

	setCollapsedAxes := types.MakeSet[int]()
	for _, collapsedSliceAxis := range collapsedSliceAxes {
		if collapsedSliceAxis < 0 || collapsedSliceAxis >= operand.Rank() || setCollapsedAxes.Has(collapsedSliceAxis) {
			return output, errors.Errorf("collapsed slice axis %d is out of range or repeated for operand %s", collapsedSliceAxis, operand)
		}
		setCollapsedAxes.Insert(collapsedSliceAxis)
	}
	if len(sliceSizes) != operand.Rank() {
		return output, errors.Errorf("sliceSizes must have one value per operand axes, so it length (%d) must match operand rank (%d)", len(sliceSizes), operand.Rank())
	}
	for axis, sliceSize := range sliceSizes {
		if sliceSize < 0 || operand.Dimensions[axis] < sliceSize {
			return output, errors.Errorf("sliceSize %d for axis %d is invalid for operand %s", sliceSize, axis, operand)
		}
		if setCollapsedAxes.Has(axis) && sliceSize != 1 {
			return output, errors.Errorf("collapsed slice axis %d must have sliceSize 1, but got %d", axis, sliceSize)
		}
	}
	if operand.Rank() != len(collapsedSliceAxes)+len(offsetOutputAxes) {
		return output, errors.Errorf("the number of collapsedSliceAxes (%d) + the number of offsetOutputAxes (%d) must be equal to the number of axes in the operand (operand.Rank()=%d)",
			len(collapsedSliceAxes), len(offsetOutputAxes), operand.Rank())
	}

	// indexVectorAxis can be equal to startIndices.Rank(), in which case we assume an implicit trailing axis of dimension 1.
	if indexVectorAxis < 0 || indexVectorAxis > startIndices.Rank() {
		return output, errors.Errorf("indexVectorAxis=%d is out of range for startIndices %s", indexVectorAxis, startIndices)
	}
	indexVectorDim := 1
	if indexVectorAxis < startIndices.Rank() {
		indexVectorDim = startIndices.Dimensions[indexVectorAxis]
	}
	if len(startIndexMap) != indexVectorDim {
		return output, errors.Errorf("startIndexMap must have one value per dimension of indexVectorAxis, so it length (%d) must match %d",
			len(startIndexMap), indexVectorDim)
	}
	for idx, operandAxis := range startIndexMap {
		if operandAxis < 0 || operandAxis >= operand.Rank() {
			return output, errors.Errorf("startIndexMap[%d]=%d is out of range for operand %s", idx, operandAxis, operand)
		}
	}

	batchDims := make([]int, 0, startIndices.Rank())
	for axis, dim := range startIndices.Dimensions {
		if axis != indexVectorAxis {
			batchDims = append(batchDims, dim)
		}
	}

	// Axes in offsetOutputAxes take their dimensions sequentially from the non-collapsed operand axes,
	// the remaining axes are filled in order from the batch axes.
	output = shapes.Shape{DType: operand.DType, Dimensions: make([]int, len(batchDims)+len(offsetOutputAxes))}
	setOffsetOutputAxes := types.MakeSet[int]()
	for _, offsetOutputAxis := range offsetOutputAxes {
		if offsetOutputAxis < 0 || offsetOutputAxis >= output.Rank() || setOffsetOutputAxes.Has(offsetOutputAxis) {
			return shapes.Invalid(), errors.Errorf("offset output axis %d is out of range or repeated for output of rank %d", offsetOutputAxis, output.Rank())
		}
		setOffsetOutputAxes.Insert(offsetOutputAxis)
	}
	offsetDims := make([]int, 0, len(offsetOutputAxes))
	for axis, sliceSize := range sliceSizes {
		if !setCollapsedAxes.Has(axis) {
			offsetDims = append(offsetDims, sliceSize)
		}
	}
	var offsetIdx, batchIdx int
	for axis := range output.Dimensions {
		if setOffsetOutputAxes.Has(axis) {
			output.Dimensions[axis] = offsetDims[offsetIdx]
			offsetIdx++
		} else {
			output.Dimensions[axis] = batchDims[batchIdx]
			batchIdx++
		}
	}
	return output, nil
}

// BatchNormForInferenceOp checks that scale, offset, mean and variance are vectors matching the
// feature axis of the operand, and returns the operand shape.
func BatchNormForInferenceOp(operand, scale, offset, mean, variance shapes.Shape, featureAxis int) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("BatchNormForInference requires a float operand, got %s", operand)
	}
	if featureAxis < 0 || featureAxis >= operand.Rank() {
		return shapes.Invalid(), errors.Errorf("BatchNormForInference: featureAxis %d out of range for %s", featureAxis, operand)
	}
	features := operand.Dimensions[featureAxis]
	for name, s := range map[string]shapes.Shape{"scale": scale, "offset": offset, "mean": mean, "variance": variance} {
		if s.DType != operand.DType || s.Rank() != 1 || s.Dimensions[0] != features {
			return shapes.Invalid(), errors.Errorf("BatchNormForInference: %s must have shape (%s)[%d], got %s", name, operand.DType, features, s)
		}
	}
	return operand, nil
}

// FusedSoftmaxOp checks the axis and returns the operand shape.
func FusedSoftmaxOp(operand shapes.Shape, axis int) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("FusedSoftmax requires a float operand, got %s", operand)
	}
	if axis < 0 || axis >= operand.Rank() {
		return shapes.Invalid(), errors.Errorf("FusedSoftmax: axis %d out of range for %s", axis, operand)
	}
	return operand, nil
}

// FusedLayerNormOp checks the normalized axes and the optional gamma/beta, which must have the
// dimensions of the normalized axes. It returns the operand shape.
func FusedLayerNormOp(operand shapes.Shape, axes []int, gamma, beta shapes.Shape) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("FusedLayerNorm requires a float operand, got %s", operand)
	}
	if len(axes) == 0 {
		return shapes.Invalid(), errors.Errorf("FusedLayerNorm requires at least one axis to normalize")
	}
	normDims := make([]int, 0, len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), errors.Errorf("FusedLayerNorm: axis %d out of range for %s", axis, operand)
		}
		normDims = append(normDims, operand.Dimensions[axis])
	}
	for name, s := range map[string]shapes.Shape{"gamma": gamma, "beta": beta} {
		if s.Ok() && (s.DType != operand.DType || !slices.Equal(s.Dimensions, normDims)) {
			return shapes.Invalid(), errors.Errorf("FusedLayerNorm: %s must have shape (%s)%v, got %s", name, operand.DType, normDims, s)
		}
	}
	return operand, nil
}

// FusedDenseOp returns the output shape of x @ weight (+ bias): x's last axis is contracted with
// weight's first axis.
func FusedDenseOp(x, weight, bias shapes.Shape) (output shapes.Shape, err error) {
	if x.Rank() < 1 || weight.Rank() < 2 {
		return shapes.Invalid(), errors.Errorf("FusedDense: x (%s) must have rank >= 1 and weight (%s) rank >= 2", x, weight)
	}
	if x.DType != weight.DType {
		return shapes.Invalid(), errors.Errorf("FusedDense: x (%s) and weight (%s) dtypes must match", x, weight)
	}
	if x.Dim(-1) != weight.Dimensions[0] {
		return shapes.Invalid(), errors.Errorf("FusedDense: x (%s) last axis must match weight (%s) first axis", x, weight)
	}
	outDims := weight.Dimensions[1:]
	if bias.Ok() && (bias.DType != x.DType || !slices.Equal(bias.Dimensions, outDims)) {
		return shapes.Invalid(), errors.Errorf("FusedDense: bias must have shape (%s)%v, got %s", x.DType, outDims, bias)
	}
	output = shapes.Shape{DType: x.DType, Dimensions: slices.Concat(x.Dimensions[:x.Rank()-1], outDims)}
	return output, nil
}

// FusedScaledDotProductAttentionOp validates the query/key/value layout and the optional additive
// mask, and returns the query shape.
func FusedScaledDotProductAttentionOp(query, key, value, mask shapes.Shape, numHeads, numKVHeads int, axesLayout backends.AxesLayout) (shapes.Shape, error) {
	if query.Rank() != 4 || key.Rank() != 4 || value.Rank() != 4 {
		return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: query (%s), key (%s) and value (%s) must be rank 4", query, key, value)
	}
	if query.DType != key.DType || query.DType != value.DType {
		return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: dtypes of query (%s), key (%s) and value (%s) must match", query, key, value)
	}
	headsAxis, seqAxis := axesLayout.HeadsAxis(), axesLayout.SeqAxis()
	if numHeads < 1 || numKVHeads < 1 || numHeads%numKVHeads != 0 {
		return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: numHeads (%d) must be a positive multiple of numKVHeads (%d)", numHeads, numKVHeads)
	}
	if query.Dimensions[headsAxis] != numHeads || key.Dimensions[headsAxis] != numKVHeads || value.Dimensions[headsAxis] != numKVHeads {
		return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: heads axis (%d) of query %s, key %s and value %s don't match numHeads=%d, numKVHeads=%d",
			headsAxis, query, key, value, numHeads, numKVHeads)
	}
	if query.Dimensions[0] != key.Dimensions[0] || !key.Equal(value) || query.Dimensions[3] != key.Dimensions[3] {
		return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: incompatible query %s, key %s and value %s", query, key, value)
	}
	if mask.Ok() {
		scores := shapes.Make(query.DType, query.Dimensions[0], numHeads, query.Dimensions[seqAxis], key.Dimensions[seqAxis])
		if mask.DType != query.DType {
			return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: additive mask %s must have dtype %s", mask, query.DType)
		}
		if mask.Rank() > scores.Rank() {
			return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: mask %s has a larger rank than scores %s", mask, scores)
		}
		offset := scores.Rank() - mask.Rank()
		for axis, dim := range mask.Dimensions {
			if dim != 1 && dim != scores.Dimensions[offset+axis] {
				return shapes.Invalid(), errors.Errorf("FusedScaledDotProductAttention: mask %s not broadcastable to scores %s", mask, scores)
			}
		}
	}
	return query, nil
}

// FusedDropoutOp validates the rate and noise shape, and returns the operand shape.
func FusedDropoutOp(operand shapes.Shape, rate float64, noiseShape []int) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("FusedDropout requires a float operand, got %s", operand)
	}
	if rate < 0 || rate >= 1 {
		return shapes.Invalid(), errors.Errorf("FusedDropout: rate must be in [0, 1), got %g", rate)
	}
	if noiseShape != nil {
		if len(noiseShape) != operand.Rank() {
			return shapes.Invalid(), errors.Errorf("FusedDropout: noiseShape %v must have the rank of %s", noiseShape, operand)
		}
		for axis, dim := range noiseShape {
			if dim != 1 && dim != operand.Dimensions[axis] {
				return shapes.Invalid(), errors.Errorf("FusedDropout: noiseShape %v not broadcastable to %s", noiseShape, operand)
			}
		}
	}
	return operand, nil
}
