// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-side `Tensor`: a shape plus its values stored as
// little-endian raw bytes, the layout used by Keras/HDF5 checkpoints.
//
// Tensors are used to carry pretrained weights into a model's context (see package
// ml/context) and to hold preprocessed images. They are never executed on: execution is
// delegated to a backend.
//
// Ways to construct a Tensor:
//
//   - FromShape(shape): zero values.
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): copies the Go slice.
//   - FromRaw(shape, data []byte): takes ownership of the raw little-endian bytes.
package tensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a host multidimensional array.
type Tensor struct {
	shape shapes.Shape
	data  []byte
}

// FromShape returns a zero-initialized tensor of the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape.Clone(), data: make([]byte, shape.Memory())}
}

// FromRaw creates a tensor from raw little-endian bytes. The tensor takes ownership of data.
func FromRaw(shape shapes.Shape, data []byte) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.FromRaw: invalid shape %s", shape)
	}
	if uintptr(len(data)) != shape.Memory() {
		return nil, errors.Errorf("tensors.FromRaw: shape %s requires %d bytes, got %d", shape, shape.Memory(), len(data))
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, copying the flat values.
// It panics if the number of values doesn't match the dimensions.
func FromFlatDataAndDimensions[T float32 | float64 | int32 | int64 | uint8](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: %d values given for shape %s (size %d)", len(data), shape, shape.Size())
	}
	t := FromShape(shape)
	if _, err := binary.Encode(t.data, binary.LittleEndian, data); err != nil {
		panic(errors.Wrapf(err, "tensors.FromFlatDataAndDimensions(%s)", shape))
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Bytes returns the underlying raw little-endian bytes. Not a copy.
func (t *Tensor) Bytes() []byte { return t.data }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.shape)
}

// Float64s converts the values of a tensor to float64, for the dtypes found in checkpoints:
// Float16, BFloat16, Float32, Float64, Int32, Int64 and Uint8.
func (t *Tensor) Float64s() ([]float64, error) {
	n := t.Size()
	out := make([]float64, n)
	le := binary.LittleEndian
	switch t.DType() {
	case dtypes.Float16:
		for ii := range out {
			out[ii] = float64(float16.Frombits(le.Uint16(t.data[2*ii:])).Float32())
		}
	case dtypes.BFloat16:
		for ii := range out {
			out[ii] = float64(math.Float32frombits(uint32(le.Uint16(t.data[2*ii:])) << 16))
		}
	case dtypes.Float32:
		for ii := range out {
			out[ii] = float64(math.Float32frombits(le.Uint32(t.data[4*ii:])))
		}
	case dtypes.Float64:
		for ii := range out {
			out[ii] = math.Float64frombits(le.Uint64(t.data[8*ii:]))
		}
	case dtypes.Int32:
		for ii := range out {
			out[ii] = float64(int32(le.Uint32(t.data[4*ii:])))
		}
	case dtypes.Int64:
		for ii := range out {
			out[ii] = float64(int64(le.Uint64(t.data[8*ii:])))
		}
	case dtypes.Uint8:
		for ii := range out {
			out[ii] = float64(t.data[ii])
		}
	default:
		return nil, errors.Errorf("tensors: conversion of %s to float64 not supported", t.DType())
	}
	return out, nil
}

// ConvertDType returns a new tensor with the values converted to a float dtype (Float16, Float32 or Float64).
// If the tensor already has the requested dtype, it is returned as is.
func (t *Tensor) ConvertDType(dtype dtypes.DType) (*Tensor, error) {
	if t.DType() == dtype {
		return t, nil
	}
	values, err := t.Float64s()
	if err != nil {
		return nil, err
	}
	shape := t.shape.Clone()
	shape.DType = dtype
	out := FromShape(shape)
	le := binary.LittleEndian
	switch dtype {
	case dtypes.Float16:
		for ii, v := range values {
			le.PutUint16(out.data[2*ii:], float16.Fromfloat32(float32(v)).Bits())
		}
	case dtypes.Float32:
		for ii, v := range values {
			le.PutUint32(out.data[4*ii:], math.Float32bits(float32(v)))
		}
	case dtypes.Float64:
		for ii, v := range values {
			le.PutUint64(out.data[8*ii:], math.Float64bits(v))
		}
	default:
		return nil, errors.Errorf("tensors: conversion to %s not supported", dtype)
	}
	return out, nil
}

// Value returns the tensor values as a flat Go slice of T, which must match the tensor dtype.
func Value[T float32 | float64 | int32 | int64 | uint8](t *Tensor) ([]T, error) {
	var zero T
	if want := dtypes.FromGoType(reflect.TypeOf(zero)); want != t.DType() {
		return nil, errors.Errorf("tensors.Value[%T]: tensor has dtype %s", zero, t.DType())
	}
	out := make([]T, t.Size())
	if _, err := binary.Decode(t.data, binary.LittleEndian, out); err != nil {
		return nil, errors.Wrapf(err, "tensors.Value(%s)", t.shape)
	}
	return out, nil
}
