// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations

import (
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	_ "github.com/avber/keras-cv-attention-models/backends/symbolic"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	for name, want := range map[string]Type{
		"":            TypeNone,
		"linear":      TypeNone,
		"none":        TypeNone,
		"relu":        TypeRelu,
		"sigmoid":     TypeSigmoid,
		"tanh":        TypeTanh,
		"swish":       TypeSwish,
		"silu":        TypeSilu,
		"gelu":        TypeGelu,
		"gelu/app":    TypeGeluApprox,
		"GELU/app":    TypeGeluApprox,
		"gelu_approx": TypeGeluApprox,
		"softmax":     TypeSoftmax,
	} {
		got, err := FromName(name)
		require.NoError(t, err, "activation %q", name)
		assert.Equal(t, want, got, "activation %q", name)
	}
	_, err := FromName("hard_swish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard_swish")
	require.Panics(t, func() { MustFromName("mish") })
}

func TestApply(t *testing.T) {
	g := graph.NewGraph(backends.NewWithConfig("symbolic"), "activations")
	x := graph.Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 5))
	assert.Equal(t, x, Apply(TypeNone, x))
	for _, activation := range TypeValues() {
		y := Apply(activation, x)
		assert.True(t, y.Shape().Equal(x.Shape()), "activation %s", activation)
	}
	assert.Equal(t, backends.OpTypeFusedGelu, Apply(TypeGeluApprox, x).Type())
	assert.Equal(t, backends.OpTypeFusedSoftmax, Apply(TypeSoftmax, x).Type())
	require.Panics(t, func() { Apply(Type(100), x) })

	ctx := context.New()
	ctx.SetParam(ParamActivation, "tanh")
	assert.Equal(t, backends.OpTypeTanh, ApplyFromContext(ctx, x).Type())
	assert.Equal(t, backends.OpTypeFusedGelu, ApplyFromContext(context.New(), x).Type())
}
