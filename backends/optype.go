// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpType is an enum of all generic operations that can be supported by a Backend.Builder.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant

	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypeMax
	OpTypeNeg
	OpTypeTanh
	OpTypeLogistic
	OpTypeConvertDType

	OpTypeReshape
	OpTypeTranspose
	OpTypeSlice
	OpTypePad
	OpTypeReduceSum
	OpTypeReduceMax
	OpTypeReduceWindow
	OpTypeConvGeneral
	OpTypeDotGeneral
	OpTypeGather
	OpTypeBatchNormForInference

	// Fused operations

	OpTypeFusedSoftmax
	OpTypeFusedGelu
	OpTypeFusedLayerNorm
	OpTypeFusedDense
	OpTypeFusedScaledDotProductAttention
	OpTypeFusedDropout

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)
