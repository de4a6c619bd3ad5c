// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package symbolic implements a shape-only backend: every operation validates its inputs with
// package shapeinference and records its output shape, but nothing is ever computed.
//
// It is the default backend (registered as "symbolic"), and it is what the model builders use to
// validate a configuration, count parameters and list layers without any accelerator runtime.
package symbolic

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/backends/shapeinference"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used when registering and selecting it with KCAM_BACKEND.
const BackendName = "symbolic"

func init() {
	backends.Register(BackendName, New)
}

// Capabilities of the symbolic backend: all operations, and the float and integer dtypes used by vision models.
var Capabilities = backends.Capabilities{
	Operations: make(map[backends.OpType]bool),
	DTypes: map[dtypes.DType]bool{
		dtypes.Float16:  true,
		dtypes.BFloat16: true,
		dtypes.Float32:  true,
		dtypes.Float64:  true,
		dtypes.Int32:    true,
		dtypes.Int64:    true,
	},
}

func init() {
	for op := backends.OpTypeInvalid + 1; op < backends.OpTypeLast; op++ {
		Capabilities.Operations[op] = true
	}
}

// Backend implements backends.Backend.
type Backend struct {
	capabilities backends.Capabilities
}

var _ backends.Backend = (*Backend)(nil)

// New constructs a symbolic backend. The only config accepted is empty.
func New(config string) (backends.Backend, error) {
	if config != "" {
		return nil, errors.Errorf("backend %q doesn't accept any configuration, got %q", BackendName, config)
	}
	return &Backend{capabilities: Capabilities.Clone()}, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string { return "shape-only graph builder (no execution)" }

// Capabilities implements backends.Backend.
func (b *Backend) Capabilities() backends.Capabilities { return b.capabilities }

// Builder implements backends.Backend.
func (b *Backend) Builder(name string) backends.Builder {
	return &Builder{backend: b, name: name}
}

// Node is the backends.Op returned by the symbolic Builder.
type Node struct {
	ID     int
	OpType backends.OpType
	Shape  shapes.Shape
	Inputs []*Node

	// Name is only set for parameters.
	Name string
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("#%d %s%s", n.ID, n.OpType, n.Shape)
}

// Builder implements backends.Builder, recording every op created.
type Builder struct {
	backend *Backend
	name    string
	nodes   []*Node
}

var _ backends.Builder = (*Builder)(nil)

// Name implements backends.Builder.
func (b *Builder) Name() string { return b.name }

// Capabilities implements backends.Builder.
func (b *Builder) Capabilities() backends.Capabilities { return b.backend.capabilities }

// Nodes returns all the nodes created so far, in order of creation.
func (b *Builder) Nodes() []*Node { return b.nodes }

// CountByOpType returns how many ops of each type were created.
func (b *Builder) CountByOpType() map[backends.OpType]int {
	counts := make(map[backends.OpType]int)
	for _, node := range b.nodes {
		counts[node.OpType]++
	}
	return counts
}

func (b *Builder) checkOps(opType backends.OpType, inputs ...backends.Op) ([]*Node, error) {
	if err := b.backend.capabilities.Supports(opType, dtypes.InvalidDType); err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(inputs))
	for ii, input := range inputs {
		if input == nil {
			nodes = append(nodes, nil)
			continue
		}
		node, ok := input.(*Node)
		if !ok {
			return nil, errors.Errorf("%s: input #%d is not a symbolic node, got %T", opType, ii, input)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (b *Builder) newNode(opType backends.OpType, shape shapes.Shape, inputs ...*Node) *Node {
	node := &Node{
		ID:     len(b.nodes),
		OpType: opType,
		Shape:  shape,
		Inputs: slices.DeleteFunc(slices.Clone(inputs), func(n *Node) bool { return n == nil }),
	}
	b.nodes = append(b.nodes, node)
	if klog.V(3).Enabled() {
		klog.Infof("symbolic %q: %s", b.name, node)
	}
	return node
}

// shapeOf returns the shape of an optional (nil-able) input.
func shapeOf(node *Node) shapes.Shape {
	if node == nil {
		return shapes.Invalid()
	}
	return node.Shape
}

// OpShape implements backends.Builder.
func (b *Builder) OpShape(op backends.Op) (shapes.Shape, error) {
	node, ok := op.(*Node)
	if !ok || node == nil {
		return shapes.Invalid(), errors.Errorf("OpShape: op is not a symbolic node, got %T", op)
	}
	return node.Shape, nil
}

// Parameter implements backends.Builder.
func (b *Builder) Parameter(name string, shape shapes.Shape) (backends.Op, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("Parameter(%q): invalid shape %s", name, shape)
	}
	if err := b.backend.capabilities.Supports(backends.OpTypeParameter, shape.DType); err != nil {
		return nil, err
	}
	node := b.newNode(backends.OpTypeParameter, shape)
	node.Name = name
	return node, nil
}

// Constant implements backends.Builder.
func (b *Builder) Constant(flat any, dims ...int) (backends.Op, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("Constant: flat value must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("Constant: unsupported type %T", flat)
	}
	shape := shapes.Make(dtype, dims...)
	if shape.Size() != flatV.Len() {
		return nil, errors.Errorf("Constant: flat value has %d elements, but dimensions %v require %d", flatV.Len(), dims, shape.Size())
	}
	if err := b.backend.capabilities.Supports(backends.OpTypeConstant, dtype); err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeConstant, shape), nil
}

func (b *Builder) binaryOp(opType backends.OpType, lhs, rhs backends.Op) (backends.Op, error) {
	inputs, err := b.checkOps(opType, lhs, rhs)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.BinaryOp(opType, inputs[0].Shape, inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, output, inputs...), nil
}

func (b *Builder) unaryOp(opType backends.OpType, x backends.Op) (backends.Op, error) {
	inputs, err := b.checkOps(opType, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.UnaryOp(opType, inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, output, inputs...), nil
}

// Add implements backends.Builder.
func (b *Builder) Add(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp(backends.OpTypeAdd, lhs, rhs)
}

// Sub implements backends.Builder.
func (b *Builder) Sub(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp(backends.OpTypeSub, lhs, rhs)
}

// Mul implements backends.Builder.
func (b *Builder) Mul(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp(backends.OpTypeMul, lhs, rhs)
}

// Div implements backends.Builder.
func (b *Builder) Div(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp(backends.OpTypeDiv, lhs, rhs)
}

// Max implements backends.Builder.
func (b *Builder) Max(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp(backends.OpTypeMax, lhs, rhs)
}

// Neg implements backends.Builder.
func (b *Builder) Neg(x backends.Op) (backends.Op, error) { return b.unaryOp(backends.OpTypeNeg, x) }

// Tanh implements backends.Builder.
func (b *Builder) Tanh(x backends.Op) (backends.Op, error) { return b.unaryOp(backends.OpTypeTanh, x) }

// Logistic implements backends.Builder.
func (b *Builder) Logistic(x backends.Op) (backends.Op, error) {
	return b.unaryOp(backends.OpTypeLogistic, x)
}

// ConvertDType implements backends.Builder.
func (b *Builder) ConvertDType(x backends.Op, dtype dtypes.DType) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeConvertDType, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.ConvertDTypeOp(inputs[0].Shape, dtype)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeConvertDType, output, inputs...), nil
}

// Reshape implements backends.Builder.
func (b *Builder) Reshape(x backends.Op, dimensions ...int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeReshape, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.ReshapeOp(inputs[0].Shape, dimensions)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeReshape, output, inputs...), nil
}

// Transpose implements backends.Builder.
func (b *Builder) Transpose(x backends.Op, permutation ...int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeTranspose, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.TransposeOp(inputs[0].Shape, permutation)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeTranspose, output, inputs...), nil
}

// Slice implements backends.Builder.
func (b *Builder) Slice(x backends.Op, starts, limits, strides []int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeSlice, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.SliceOp(inputs[0].Shape, starts, limits, strides)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeSlice, output, inputs...), nil
}

// Pad implements backends.Builder.
func (b *Builder) Pad(x, fillValue backends.Op, axesConfig ...backends.PadAxis) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypePad, x, fillValue)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.PadOp(inputs[0].Shape, inputs[1].Shape, axesConfig)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypePad, output, inputs...), nil
}

func (b *Builder) reduce(opType backends.OpType, x backends.Op, axes []int) (backends.Op, error) {
	inputs, err := b.checkOps(opType, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.ReduceOp(inputs[0].Shape, axes)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, output, inputs...), nil
}

// ReduceSum implements backends.Builder.
func (b *Builder) ReduceSum(x backends.Op, axes ...int) (backends.Op, error) {
	return b.reduce(backends.OpTypeReduceSum, x, axes)
}

// ReduceMax implements backends.Builder.
func (b *Builder) ReduceMax(x backends.Op, axes ...int) (backends.Op, error) {
	return b.reduce(backends.OpTypeReduceMax, x, axes)
}

// ReduceWindow implements backends.Builder.
func (b *Builder) ReduceWindow(x backends.Op, reductionType backends.ReduceOpType, windowDimensions, strides, baseDilations, windowDilations []int, paddings [][2]int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeReduceWindow, x)
	if err != nil {
		return nil, err
	}
	if reductionType == backends.ReduceOpUndefined {
		return nil, errors.Errorf("ReduceWindow: reduction type undefined")
	}
	output, err := shapeinference.ReduceWindowOp(inputs[0].Shape, windowDimensions, strides, baseDilations, windowDilations, paddings)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeReduceWindow, output, inputs...), nil
}

// ConvGeneral implements backends.Builder.
func (b *Builder) ConvGeneral(input, kernel backends.Op, axes backends.ConvolveAxesConfig, strides []int, paddings [][2]int, inputDilations, kernelDilations []int, channelGroupCount, batchGroupCount int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeConvGeneral, input, kernel)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.ConvGeneralOp(inputs[0].Shape, inputs[1].Shape, axes, strides, paddings, inputDilations, kernelDilations, channelGroupCount, batchGroupCount)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeConvGeneral, output, inputs...), nil
}

// DotGeneral implements backends.Builder.
func (b *Builder) DotGeneral(lhs backends.Op, lhsContractingAxes, lhsBatchAxes []int, rhs backends.Op, rhsContractingAxes, rhsBatchAxes []int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeDotGeneral, lhs, rhs)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.DotGeneralOp(inputs[0].Shape, lhsContractingAxes, lhsBatchAxes, inputs[1].Shape, rhsContractingAxes, rhsBatchAxes)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeDotGeneral, output, inputs...), nil
}

// Gather implements backends.Builder.
func (b *Builder) Gather(operand, startIndices backends.Op, indexVectorAxis int, offsetOutputAxes, collapsedSliceAxes, startIndexMap, sliceSizes []int, indicesAreSorted bool) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeGather, operand, startIndices)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.Gather(inputs[0].Shape, inputs[1].Shape, indexVectorAxis, offsetOutputAxes, collapsedSliceAxes, startIndexMap, sliceSizes, indicesAreSorted)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeGather, output, inputs...), nil
}

// BatchNormForInference implements backends.Builder.
func (b *Builder) BatchNormForInference(operand, scale, offset, mean, variance backends.Op, epsilon float32, featureAxis int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeBatchNormForInference, operand, scale, offset, mean, variance)
	if err != nil {
		return nil, err
	}
	if epsilon <= 0 {
		return nil, errors.Errorf("BatchNormForInference: epsilon must be positive, got %g", epsilon)
	}
	output, err := shapeinference.BatchNormForInferenceOp(inputs[0].Shape, inputs[1].Shape, inputs[2].Shape, inputs[3].Shape, inputs[4].Shape, featureAxis)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeBatchNormForInference, output, inputs...), nil
}

// FusedSoftmax implements backends.FusedOps.
func (b *Builder) FusedSoftmax(x backends.Op, axis int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeFusedSoftmax, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.FusedSoftmaxOp(inputs[0].Shape, axis)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeFusedSoftmax, output, inputs...), nil
}

// FusedGelu implements backends.FusedOps.
func (b *Builder) FusedGelu(x backends.Op, exact bool) (backends.Op, error) {
	_ = exact
	return b.unaryOp(backends.OpTypeFusedGelu, x)
}

// FusedLayerNorm implements backends.FusedOps.
func (b *Builder) FusedLayerNorm(x backends.Op, axes []int, epsilon float64, gamma, beta backends.Op) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeFusedLayerNorm, x, gamma, beta)
	if err != nil {
		return nil, err
	}
	if epsilon <= 0 {
		return nil, errors.Errorf("FusedLayerNorm: epsilon must be positive, got %g", epsilon)
	}
	output, err := shapeinference.FusedLayerNormOp(inputs[0].Shape, axes, shapeOf(inputs[1]), shapeOf(inputs[2]))
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeFusedLayerNorm, output, inputs...), nil
}

// FusedDense implements backends.FusedOps.
func (b *Builder) FusedDense(x, weight, bias backends.Op, activation backends.ActivationType) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeFusedDense, x, weight, bias)
	if err != nil {
		return nil, err
	}
	_ = activation
	output, err := shapeinference.FusedDenseOp(inputs[0].Shape, inputs[1].Shape, shapeOf(inputs[2]))
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeFusedDense, output, inputs...), nil
}

// FusedScaledDotProductAttention implements backends.FusedOps.
func (b *Builder) FusedScaledDotProductAttention(query, key, value, mask backends.Op, numHeads, numKVHeads int, axesLayout backends.AxesLayout, scale float64, causal bool) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeFusedScaledDotProductAttention, query, key, value, mask)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, errors.Errorf("FusedScaledDotProductAttention: scale must be positive, got %g", scale)
	}
	_ = causal
	output, err := shapeinference.FusedScaledDotProductAttentionOp(inputs[0].Shape, inputs[1].Shape, inputs[2].Shape, shapeOf(inputs[3]),
		numHeads, numKVHeads, axesLayout)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeFusedScaledDotProductAttention, output, inputs...), nil
}

// FusedDropout implements backends.FusedOps.
func (b *Builder) FusedDropout(x backends.Op, rate float64, noiseShape []int) (backends.Op, error) {
	inputs, err := b.checkOps(backends.OpTypeFusedDropout, x)
	if err != nil {
		return nil, err
	}
	output, err := shapeinference.FusedDropoutOp(inputs[0].Shape, rate, noiseShape)
	if err != nil {
		return nil, err
	}
	return b.newNode(backends.OpTypeFusedDropout, output, inputs...), nil
}
