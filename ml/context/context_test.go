// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context_test

import (
	"testing"

	"github.com/avber/keras-cv-attention-models/backends"
	_ "github.com/avber/keras-cv-attention-models/backends/symbolic"
	"github.com/avber/keras-cv-attention-models/graph"
	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextScopes(t *testing.T) {
	ctx := context.New()
	assert.Equal(t, "/", ctx.Scope())
	ctx2 := ctx.In("a").In("b")
	assert.Equal(t, "/a/b", ctx2.Scope())
	assert.Equal(t, "/", ctx.Scope(), "original context is unchanged")
	assert.Equal(t, "/a/b/c/d", ctx2.InPath("c/d/").Scope())
	require.Panics(t, func() { ctx.In("a/b") })
	require.Panics(t, func() { ctx.In("") })
	require.Panics(t, func() { ctx.InAbsPath("a") })
	assert.Equal(t, "a_b", context.EscapeScopeName("a/b"))
}

func TestParams(t *testing.T) {
	ctx := context.New()
	ctx.SetParam("x", 10)
	ctx.SetParam("y", 20.0)
	ctxA := ctx.In("a")
	ctxA.SetParam("y", 30.0)
	ctxAB := ctxA.In("b")
	ctxAB.SetParam("x", 100)

	assert.Equal(t, 100, context.GetParamOr(ctxAB, "x", 0))
	assert.Equal(t, 30.0, context.GetParamOr(ctxAB, "y", 0.0))
	assert.Equal(t, 20.0, context.GetParamOr(ctx.In("c"), "y", 0.0))
	assert.Equal(t, "default", context.GetParamOr(ctxAB, "w", "default"))

	// Conversion from int to float64.
	assert.Equal(t, 10.0, context.GetParamOr(ctx, "x", 0.0))
	// Failed conversion returns the default.
	assert.Equal(t, true, context.GetParamOr(ctx, "x", true))

	var keys []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		keys = append(keys, scope+":"+key)
	})
	assert.Equal(t, []string{"/:x", "/:y", "/a:y", "/a/b:x"}, keys)
}

func TestVariables(t *testing.T) {
	ctx := context.New()
	convCtx := ctx.InPath("stem_1_conv")
	kernel := convCtx.VariableWithShape("kernel", shapes.Make(dtypes.Float32, 3, 3, 3, 64))
	bias := convCtx.WithInitializer(initializers.Zero).VariableWithShape("bias", shapes.Make(dtypes.Float32, 64))
	bnCtx := ctx.In("stem_1_bn")
	mean := bnCtx.WithInitializer(initializers.Zero).VariableWithShape("moving_mean", shapes.Make(dtypes.Float32, 64)).SetTrainable(false)

	assert.Equal(t, "/stem_1_conv/kernel", kernel.ScopeAndName())
	assert.Equal(t, "stem_1_conv/kernel", kernel.ParameterName())
	assert.Equal(t, 3, ctx.NumVariables())
	assert.Equal(t, 3*3*3*64+64+64, ctx.NumParameters())
	assert.Equal(t, 3*3*3*64+64, ctx.NumTrainableParameters())
	assert.Equal(t, int64(4*(3*3*3*64+64+64)), ctx.Memory())
	assert.Equal(t, mean, ctx.InspectVariable("/stem_1_bn", "moving_mean"))
	assert.Equal(t, bias, ctx.InspectVariableByPath("stem_1_conv/bias"))
	assert.Nil(t, ctx.InspectVariableByPath("stem_1_conv/nope"))

	// Reuse rules.
	require.Panics(t, func() { convCtx.VariableWithShape("kernel", kernel.Shape()) })
	assert.Equal(t, kernel, convCtx.Reuse().VariableWithShape("kernel", kernel.Shape()))
	require.Panics(t, func() { convCtx.Reuse().VariableWithShape("kernel", shapes.Make(dtypes.Float32, 1)) })
	require.Panics(t, func() { convCtx.Reuse().VariableWithShape("other", shapes.Make(dtypes.Float32, 1)) })
	require.Panics(t, func() { convCtx.VariableWithShape("a/b", shapes.Make(dtypes.Float32, 1)) })

	// Lazy initialization.
	assert.False(t, bias.HasValue())
	values := must.M1(tensors.Value[float32](bias.Value()))
	assert.Equal(t, make([]float32, 64), values)
	assert.True(t, bias.HasValue())
}

func TestValueGraph(t *testing.T) {
	ctx := context.New()
	v := ctx.In("dense").VariableWithShape("kernel", shapes.Make(dtypes.Float32, 4, 2))
	backend := backends.NewWithConfig("symbolic")
	g1 := graph.NewGraph(backend, "g1")
	g2 := graph.NewGraph(backend, "g2")
	n1 := v.ValueGraph(g1)
	assert.Equal(t, n1, v.ValueGraph(g1), "one parameter node per graph")
	assert.Equal(t, "dense/kernel", n1.Name())
	assert.True(t, v.InUseByGraph(g1))
	assert.False(t, v.InUseByGraph(g2))
	assert.NotEqual(t, n1, v.ValueGraph(g2))
}

type mapLoader map[string]*tensors.Tensor

func (l mapLoader) LoadVariable(_ *context.Context, v *context.Variable) (*tensors.Tensor, bool) {
	value, found := l[v.ParameterName()]
	return value, found
}

func TestLoader(t *testing.T) {
	ctx := context.New()
	ctx.SetLoader(mapLoader{
		"layer/weight": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3),
		"layer/bias":   tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2),
	})
	weight := ctx.In("layer").VariableWithShape("weight", shapes.Make(dtypes.Float32, 3))
	require.True(t, weight.HasValue())
	assert.Equal(t, []float32{1, 2, 3}, must.M1(tensors.Value[float32](weight.Value())))
	// Shape mismatch is skipped, and the initializer is used instead.
	bias := ctx.In("layer").VariableWithShape("bias", shapes.Make(dtypes.Float32, 4))
	assert.False(t, bias.HasValue())
}

func TestLoadValues(t *testing.T) {
	ctx := context.New()
	w := ctx.In("a").VariableWithShape("w", shapes.Make(dtypes.Float16, 2))
	ctx.In("a").VariableWithShape("b", shapes.Make(dtypes.Float32, 2))
	loaded, skipped := ctx.LoadValues(map[string]*tensors.Tensor{
		"/a/w":    tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2),
		"a/b":     tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3),
		"unknown": tensors.FromFlatDataAndDimensions([]float32{1}, 1),
	})
	assert.Equal(t, []string{"/a/w"}, loaded)
	assert.ElementsMatch(t, []string{"a/b", "unknown"}, skipped)
	assert.Equal(t, dtypes.Float16, w.Value().DType())
	assert.Equal(t, []float64{1, 2}, must.M1(w.Value().Float64s()))
}
