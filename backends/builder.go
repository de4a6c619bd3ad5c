// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"slices"

	"github.com/avber/keras-cv-attention-models/types/shapes"
)

// Op represents the output of an operation, during the computation graph building time.
//
// It is opaque from the graph perspective: it passes Op as input to the other methods.
type Op any

// Builder defines the set of ops to support building a computation.
//
// Each Builder can also not implement standard operations by returning an error wrapping
// ErrNotImplemented -- this restricts what type of models it can support. See Capabilities.
type Builder interface {
	// Name of the computation being built.
	Name() string

	// Capabilities of the builder, the same as its Backend's.
	Capabilities() Capabilities

	// OpShape returns the shape of a computation Op.
	// Notice this is not an operation and doesn't change the graph being built.
	OpShape(op Op) (shapes.Shape, error)

	// Parameter creates an input parameter for the computation. Model variables are also fed
	// as parameters, named after the variable's scope path.
	Parameter(name string, shape shapes.Shape) (Op, error)

	// Constant creates a constant in the graph with the given flat values, and the shape defined by dims.
	//
	// The flat value must be a slice of a basic type supported -- that can be converted to a DType.
	Constant(flat any, dims ...int) (Op, error)

	// StandardOps include all other standard math (or ML) operations.
	StandardOps

	// FusedOps include the higher level fused layer operations.
	FusedOps
}

// ConvolveAxesConfig defines the interpretation of the input/kernel/output tensor axes.
// There must be the same number of spatial dimensions (axes) for each of the 3 tensors.
// Input and output have batch and channel axes. Kernel has inputChannel and outputChannel axes.
//
// See Builder.ConvGeneral
type ConvolveAxesConfig struct {
	InputBatch, InputChannels int
	InputSpatial              []int

	KernelInputChannels, KernelOutputChannels int
	KernelSpatial                             []int

	OutputBatch, OutputChannels int
	OutputSpatial               []int
}

// Clone returns a deep copy of the structure.
func (c ConvolveAxesConfig) Clone() ConvolveAxesConfig {
	c2 := c
	c2.InputSpatial = slices.Clone(c.InputSpatial)
	c2.KernelSpatial = slices.Clone(c.KernelSpatial)
	c2.OutputSpatial = slices.Clone(c.OutputSpatial)
	return c2
}

// PadAxis defines the amount of padding preceding one axis (Start), at the end of axis (End)
// or in between the inputs (Interior).
// This is used as a parameter for the Pad operation.
type PadAxis struct {
	Start, End, Interior int
}

// ReduceOpType select among the basic types of reduction supported by ReduceWindow.
type ReduceOpType int

const (
	// ReduceOpUndefined is an undefined value.
	ReduceOpUndefined ReduceOpType = iota

	// ReduceOpSum reduces by summing all elements being reduced.
	ReduceOpSum

	// ReduceOpMax reduces by taking the maximum value.
	ReduceOpMax
)

//go:generate go tool enumer -type ReduceOpType -trimprefix=ReduceOp -output=gen_reduceoptype_enumer.go builder.go
