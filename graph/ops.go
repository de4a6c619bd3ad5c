// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// panicIf panics with the error annotated with the op name, if err is not nil.
func panicIf(err error, opName string) {
	if err != nil {
		panic(errors.WithMessagef(err, "while building op %s", opName))
	}
}

// Parameter creates an input of the graph with the given name and shape.
//
// The node is named after the parameter, so the name must be unique in the graph.
func Parameter(g *Graph, name string, shape shapes.Shape) *Node {
	g.AssertValid()
	op, err := g.builder.Parameter(name, shape)
	panicIf(err, "Parameter")
	node := newNode(g, backends.OpTypeParameter, op)
	node.SetName(name)
	g.parameters = append(g.parameters, node)
	return node
}

// Const creates a constant node from a flat slice of values (e.g. []float32) and the
// dimensions of the shape. No dimensions means a scalar.
func Const(g *Graph, flat any, dimensions ...int) *Node {
	g.AssertValid()
	op, err := g.builder.Constant(flat, dimensions...)
	panicIf(err, "Constant")
	return newNode(g, backends.OpTypeConstant, op)
}

// Scalar returns a scalar constant with the given dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	switch dtype {
	case dtypes.Float32:
		return Const(g, []float32{float32(value)})
	case dtypes.Float64:
		return Const(g, []float64{value})
	case dtypes.Int32:
		return Const(g, []int32{int32(value)})
	case dtypes.Int64:
		return Const(g, []int64{int64(value)})
	}
	return ConvertDType(Const(g, []float64{value}), dtype)
}

// Ones returns a constant filled with 1s with the given shape.
func Ones(g *Graph, shape shapes.Shape) *Node {
	ones := make([]float32, shape.Size())
	for ii := range ones {
		ones[ii] = 1
	}
	c := Const(g, ones, shape.Dimensions...)
	if shape.DType != dtypes.Float32 {
		c = ConvertDType(c, shape.DType)
	}
	return c
}

func binaryOp(opType backends.OpType, lhs, rhs *Node) *Node {
	g := validateBuildingGraphFromInputs(lhs, rhs)
	var op backends.Op
	var err error
	switch opType {
	case backends.OpTypeAdd:
		op, err = g.builder.Add(lhs.op, rhs.op)
	case backends.OpTypeSub:
		op, err = g.builder.Sub(lhs.op, rhs.op)
	case backends.OpTypeMul:
		op, err = g.builder.Mul(lhs.op, rhs.op)
	case backends.OpTypeDiv:
		op, err = g.builder.Div(lhs.op, rhs.op)
	case backends.OpTypeMax:
		op, err = g.builder.Max(lhs.op, rhs.op)
	default:
		exceptions.Panicf("%s is not a binary op", opType)
	}
	panicIf(err, opType.String())
	return newNode(g, opType, op, lhs, rhs)
}

func unaryOp(opType backends.OpType, x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	var op backends.Op
	var err error
	switch opType {
	case backends.OpTypeNeg:
		op, err = g.builder.Neg(x.op)
	case backends.OpTypeTanh:
		op, err = g.builder.Tanh(x.op)
	case backends.OpTypeLogistic:
		op, err = g.builder.Logistic(x.op)
	default:
		exceptions.Panicf("%s is not a unary op", opType)
	}
	panicIf(err, opType.String())
	return newNode(g, opType, op, x)
}

// Add returns lhs + rhs, broadcasting scalars or axes of dimension 1.
func Add(lhs, rhs *Node) *Node { return binaryOp(backends.OpTypeAdd, lhs, rhs) }

// Sub returns lhs - rhs.
func Sub(lhs, rhs *Node) *Node { return binaryOp(backends.OpTypeSub, lhs, rhs) }

// Mul returns lhs * rhs.
func Mul(lhs, rhs *Node) *Node { return binaryOp(backends.OpTypeMul, lhs, rhs) }

// Div returns lhs / rhs.
func Div(lhs, rhs *Node) *Node { return binaryOp(backends.OpTypeDiv, lhs, rhs) }

// Max returns the element-wise max of lhs and rhs.
func Max(lhs, rhs *Node) *Node { return binaryOp(backends.OpTypeMax, lhs, rhs) }

// AddScalar adds a constant scalar to x.
func AddScalar(x *Node, value float64) *Node {
	return Add(x, Scalar(x.graph, x.DType(), value))
}

// MulScalar multiplies x by a constant scalar.
func MulScalar(x *Node, value float64) *Node {
	return Mul(x, Scalar(x.graph, x.DType(), value))
}

// DivScalar divides x by a constant scalar.
func DivScalar(x *Node, value float64) *Node {
	if value == 0 {
		exceptions.Panicf("DivScalar: division by zero")
	}
	return Div(x, Scalar(x.graph, x.DType(), value))
}

// Neg returns -x.
func Neg(x *Node) *Node { return unaryOp(backends.OpTypeNeg, x) }

// Tanh returns the hyperbolic tangent of x.
func Tanh(x *Node) *Node { return unaryOp(backends.OpTypeTanh, x) }

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x *Node) *Node { return unaryOp(backends.OpTypeLogistic, x) }

// Swish returns x*sigmoid(x), also known as SiLU.
func Swish(x *Node) *Node {
	return Mul(x, Sigmoid(x))
}

// Relu returns max(x, 0).
func Relu(x *Node) *Node {
	return Max(x, Scalar(x.graph, x.DType(), 0))
}

// ConvertDType converts x to the given dtype. It's a no-op if x already has the dtype.
func ConvertDType(x *Node, dtype dtypes.DType) *Node {
	if x.DType() == dtype {
		return x
	}
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.ConvertDType(x.op, dtype)
	panicIf(err, "ConvertDType")
	return newNode(g, backends.OpTypeConvertDType, op, x)
}

// Reshape x to the given dimensions. One of the dimensions can be -1, in which case it is
// inferred from the size of x.
func Reshape(x *Node, dimensions ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	dimensions = slices.Clone(dimensions)
	inferredAxis := -1
	knownSize := 1
	for axis, dim := range dimensions {
		if dim == -1 {
			if inferredAxis >= 0 {
				exceptions.Panicf("Reshape(%s, %v): only one dimension can be -1", x.Shape(), dimensions)
			}
			inferredAxis = axis
			continue
		}
		if dim <= 0 {
			exceptions.Panicf("Reshape(%s, %v): invalid dimension %d", x.Shape(), dimensions, dim)
		}
		knownSize *= dim
	}
	if inferredAxis >= 0 {
		if x.Shape().Size()%knownSize != 0 {
			exceptions.Panicf("Reshape(%s, %v): size %d is not divisible by %d", x.Shape(), dimensions, x.Shape().Size(), knownSize)
		}
		dimensions[inferredAxis] = x.Shape().Size() / knownSize
	}
	if slices.Equal(dimensions, x.Shape().Dimensions) {
		return x
	}
	op, err := g.builder.Reshape(x.op, dimensions...)
	panicIf(err, "Reshape")
	return newNode(g, backends.OpTypeReshape, op, x)
}

// Transpose permutes the axes of x: output axis i is the input axis permutation[i].
func Transpose(x *Node, permutation ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.Transpose(x.op, permutation...)
	panicIf(err, "Transpose")
	return newNode(g, backends.OpTypeTranspose, op, x)
}

// Slice takes x[starts[0]:limits[0], starts[1]:limits[1], ...], with stride 1.
func Slice(x *Node, starts, limits []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	strides := make([]int, x.Rank())
	for ii := range strides {
		strides[ii] = 1
	}
	op, err := g.builder.Slice(x.op, starts, limits, strides)
	panicIf(err, "Slice")
	return newNode(g, backends.OpTypeSlice, op, x)
}

// PadAxis defines the amount of padding at the start, the end and in between elements of an axis.
type PadAxis = backends.PadAxis

// Pad x with zeros, with one PadAxis per axis of x.
func Pad(x *Node, axesConfig ...PadAxis) *Node {
	g := validateBuildingGraphFromInputs(x)
	fill := Scalar(g, x.DType(), 0)
	op, err := g.builder.Pad(x.op, fill.op, axesConfig...)
	panicIf(err, "Pad")
	return newNode(g, backends.OpTypePad, op, x, fill)
}

// reduceAxes adjusts negative axes, and returns all axes if none is given.
func reduceAxes(x *Node, axes []int) []int {
	if len(axes) == 0 {
		all := make([]int, x.Rank())
		for ii := range all {
			all[ii] = ii
		}
		return all
	}
	return adjustAxes(x, axes)
}

func adjustAxes(x *Node, axes []int) []int {
	adjusted := make([]int, len(axes))
	for ii, axis := range axes {
		adjusted[ii] = shapes.AdjustAxisToRank(x.Rank(), axis)
	}
	return adjusted
}

// ReduceSum sums x over the given axes (negative axes counted from the end).
// If no axes are given, it reduces over all axes.
func ReduceSum(x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.ReduceSum(x.op, reduceAxes(x, axes)...)
	panicIf(err, "ReduceSum")
	return newNode(g, backends.OpTypeReduceSum, op, x)
}

// ReduceMax takes the max of x over the given axes.
func ReduceMax(x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	op, err := g.builder.ReduceMax(x.op, reduceAxes(x, axes)...)
	panicIf(err, "ReduceMax")
	return newNode(g, backends.OpTypeReduceMax, op, x)
}

// ReduceMean takes the mean of x over the given axes.
func ReduceMean(x *Node, axes ...int) *Node {
	adjusted := reduceAxes(x, axes)
	count := 1
	for _, axis := range adjusted {
		count *= x.Shape().Dimensions[axis]
	}
	return DivScalar(ReduceSum(x, adjusted...), float64(count))
}

// ReduceAndKeep applies the reduction over the axes, and then reshapes the result to keep the
// reduced axes with dimension 1.
func ReduceAndKeep(x *Node, reduceFn func(x *Node, axes ...int) *Node, axes ...int) *Node {
	adjusted := reduceAxes(x, axes)
	dims := slices.Clone(x.Shape().Dimensions)
	for _, axis := range adjusted {
		dims[axis] = 1
	}
	return Reshape(reduceFn(x, adjusted...), dims...)
}

// DotGeneral takes as input lhs (left-hand-side) and rhs (right-hand-side) specifications
// for a general vector product: the contracting axes are multiplied and summed, and the batch
// axes are kept, in order. The output is [batch..., lhs cross axes..., rhs cross axes...].
func DotGeneral(lhs *Node, lhsContractingAxes, lhsBatchAxes []int, rhs *Node, rhsContractingAxes, rhsBatchAxes []int) *Node {
	g := validateBuildingGraphFromInputs(lhs, rhs)
	op, err := g.builder.DotGeneral(lhs.op, adjustAxes(lhs, lhsContractingAxes), adjustAxes(lhs, lhsBatchAxes),
		rhs.op, adjustAxes(rhs, rhsContractingAxes), adjustAxes(rhs, rhsBatchAxes))
	panicIf(err, "DotGeneral")
	return newNode(g, backends.OpTypeDotGeneral, op, lhs, rhs)
}

// GatherRows takes the rows of params (its first axis) indexed by indices, an integer tensor.
// The output shape is indices.Dimensions + params.Dimensions[1:].
func GatherRows(params, indices *Node) *Node {
	g := validateBuildingGraphFromInputs(params, indices)
	if !indices.DType().IsInt() {
		exceptions.Panicf("GatherRows: indices must be integers, got %s", indices.Shape())
	}
	// Add a trailing index vector axis of size 1.
	indicesDims := append(slices.Clone(indices.Shape().Dimensions), 1)
	startIndices := Reshape(indices, indicesDims...)
	paramsRank := params.Rank()
	offsetOutputAxes := make([]int, 0, paramsRank-1)
	for ii := range paramsRank - 1 {
		offsetOutputAxes = append(offsetOutputAxes, indices.Rank()+ii)
	}
	sliceSizes := slices.Clone(params.Shape().Dimensions)
	sliceSizes[0] = 1
	op, err := g.builder.Gather(params.op, startIndices.op, indices.Rank(), offsetOutputAxes, []int{0}, []int{0}, sliceSizes, false)
	panicIf(err, "Gather")
	return newNode(g, backends.OpTypeGather, op, params, startIndices)
}

// BatchNormForInference normalizes operand using the given mean and variance, and then
// applies scale and offset, all vectors over the featureAxis.
func BatchNormForInference(operand, scale, offset, mean, variance *Node, epsilon float32, featureAxis int) *Node {
	g := validateBuildingGraphFromInputs(operand, scale, offset, mean, variance)
	featureAxis = shapes.AdjustAxisToRank(operand.Rank(), featureAxis)
	op, err := g.builder.BatchNormForInference(operand.op, scale.op, offset.op, mean.op, variance.op, epsilon, featureAxis)
	panicIf(err, "BatchNormForInference")
	return newNode(g, backends.OpTypeBatchNormForInference, op, operand, scale, offset, mean, variance)
}
