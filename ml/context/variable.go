// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"strings"

	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Graph and Node are aliases to the corresponding types in package graph.
type (
	Graph = graph.Graph
	Node  = graph.Node
)

// VariableInitializer creates the initial value of a variable, see package initializers.
type VariableInitializer = initializers.VariableInitializer

// Variable is a value shared among computation graphs: commonly the weights (aka. parameters)
// of a model. It's defined in a scope in a Context.
//
// During graph building, a variable is fed to each graph as a parameter node, named after the
// variable full path (see ParameterName). Its materialized value (see Value) is only created
// when requested, either by the initializer or by loading it from a checkpoint.
type Variable struct {
	name, scope string

	// Trainable indicates whether variable is trainable. Non-trainable variables hold
	// statistics, like the moving mean and variance of batch normalization.
	Trainable bool

	shape       shapes.Shape
	initializer VariableInitializer
	value       *tensors.Tensor

	// graphToNodes maps graph ids in which this variable was used to its parameter Node.
	graphToNodes map[uuid.UUID]*Node
}

// Name of the variable within the scope.
func (v *Variable) Name() string {
	v.AssertValid()
	return v.name
}

// String implements stringer.
func (v *Variable) String() string {
	if v == nil || !v.Shape().Ok() {
		return "INVALID (NIL) VARIABLE"
	}
	return fmt.Sprintf("%s%s", v.ScopeAndName(), v.shape)
}

// AssertValid panics if the variable is in an invalid state: if it's nil or it's shape is not yet set.
func (v *Variable) AssertValid() {
	if v == nil {
		exceptions.Panicf("context.Variable is nil")
	}
	if !v.shape.Ok() {
		exceptions.Panicf("context.Variable has no shape")
	}
}

// Scope where the variable was created.
func (v *Variable) Scope() string {
	v.AssertValid()
	return v.scope
}

// ScopeAndName returns the full path of the variable, e.g. "/stem_1_conv/kernel".
func (v *Variable) ScopeAndName() string {
	if v.scope == ScopeSeparator {
		return ScopeSeparator + v.name
	}
	return v.scope + ScopeSeparator + v.name
}

// ParameterName used when creating a parameter node in a Graph to access the variable: it is the
// full path without the leading separator, which is also how Keras names its weights
// (without the ":0" suffix). E.g. "stem_1_conv/kernel".
func (v *Variable) ParameterName() string {
	v.AssertValid()
	return strings.TrimPrefix(v.ScopeAndName(), ScopeSeparator)
}

// Shape returns the variable shape.
func (v *Variable) Shape() shapes.Shape {
	if v == nil {
		return shapes.Invalid()
	}
	return v.shape
}

// Initializer used to create the value of the variable, if it was not loaded.
func (v *Variable) Initializer() VariableInitializer {
	return v.initializer
}

// HasValue returns whether the value of the variable was already materialized, either loaded or initialized.
func (v *Variable) HasValue() bool {
	return v.value != nil
}

// Value returns the tensor holding the variable value. If the variable has no value yet, it is
// created with the variable initializer.
func (v *Variable) Value() *tensors.Tensor {
	v.AssertValid()
	if v.value == nil {
		if v.initializer == nil {
			exceptions.Panicf("variable %s has no value and no initializer", v)
		}
		v.value = v.initializer.Initialize(v.shape)
	}
	return v.value
}

// SetValue updates the tensor holding the variable value. The dtype is converted if needed, but
// the dimensions must match exactly.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	v.AssertValid()
	if value == nil {
		return errors.Errorf("variable %s: SetValue(nil)", v)
	}
	if !value.Shape().EqualDimensions(v.shape) {
		return errors.Errorf("variable %s: value has incompatible shape %s", v, value.Shape())
	}
	if value.DType() != v.shape.DType {
		converted, err := value.ConvertDType(v.shape.DType)
		if err != nil {
			return errors.WithMessagef(err, "variable %s", v)
		}
		value = converted
	}
	v.value = value
	return nil
}

// SetTrainable sets the variable trainable status. Returns itself, so calls can be cascaded.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.AssertValid()
	v.Trainable = trainable
	return v
}

// InUseByGraph returns whether the variable is currently in use by the given graph.
func (v *Variable) InUseByGraph(g *Graph) bool {
	v.AssertValid()
	_, found := v.graphToNodes[g.Id()]
	return found
}

// ValueGraph returns the Node of the Graph that holds the value of the variable: a parameter
// node created in the graph on first use.
func (v *Variable) ValueGraph(g *Graph) *Node {
	v.AssertValid()
	g.AssertValid()
	node, found := v.graphToNodes[g.Id()]
	if !found {
		node = graph.Parameter(g, v.ParameterName(), v.shape)
		v.graphToNodes[g.Id()] = node
	}
	return node
}
