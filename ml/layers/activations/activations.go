// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the activations used by the models, and includes a generic Apply
// method to apply an activation by its type.
//
// There is also FromName to convert an activation name (string) to its type, accepting the Keras
// aliases (e.g. "gelu/app" for the tanh approximation of GELU), and ApplyFromContext that applies
// an activation based on the hyperparameter ParamActivation defined in a context.
package activations

import (
	"strings"

	. "github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

const (
	// ParamActivation context hyperparameter defines the activation to use, for models using ApplyFromContext.
	// The default is "gelu/app".
	ParamActivation = "activation"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeGeluApprox -> "gelu_approx"), and FromName also
// accepts the Keras names.
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSigmoid
	TypeTanh
	TypeSwish

	// TypeSilu is an alias to TypeSwish
	TypeSilu

	// TypeGelu is the exact GELU, using the error function.
	TypeGelu

	// TypeGeluApprox is the tanh approximation of GELU, named "gelu/app" in Keras models.
	TypeGeluApprox

	// TypeSoftmax normalizes over the last axis.
	TypeSoftmax
)

//go:generate go tool enumer -type=Type -trimprefix=Type -transform=snake -values -text -output=gen_type_enumer.go activations.go

// aliases maps the Keras activation names not covered by the enum names.
var aliases = map[string]Type{
	"gelu/app": TypeGeluApprox,
	"linear":   TypeNone,
}

// FromName converts the name of an activation to its type.
// An empty string is converted to TypeNone.
func FromName(activationName string) (Type, error) {
	if activationName == "" {
		return TypeNone, nil
	}
	if activation, found := aliases[strings.ToLower(activationName)]; found {
		return activation, nil
	}
	activation, err := TypeString(activationName)
	if err != nil {
		return TypeNone, errors.Errorf("unknown activation %q: options are %v or one of %v",
			activationName, TypeStrings(), []string{"gelu/app", "linear"})
	}
	return activation, nil
}

// MustFromName is like FromName, but panics on an unknown activation name.
func MustFromName(activationName string) Type {
	activation, err := FromName(activationName)
	if err != nil {
		panic(err)
	}
	return activation
}

// ApplyFromContext picks an activation function from the context using [ParamActivation] parameter,
// and applies it to x.
func ApplyFromContext(ctx *context.Context, x *Node) *Node {
	activationName := context.GetParamOr(ctx, ParamActivation, "gelu/app")
	return Apply(MustFromName(activationName), x)
}

// Apply the given activation type.
// The TypeNone activation is a no-op.
func Apply(activation Type, x *Node) *Node {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeSigmoid:
		return Sigmoid(x)
	case TypeTanh:
		return Tanh(x)
	case TypeSwish, TypeSilu:
		return Swish(x)
	case TypeGelu:
		return Gelu(x, true)
	case TypeGeluApprox:
		return Gelu(x, false)
	case TypeSoftmax:
		return Softmax(x, -1)
	default:
		Panicf("Apply got invalid activation value %q: options are %v", activation, TypeValues())
	}
	return nil
}
