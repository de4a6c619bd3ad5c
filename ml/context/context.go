// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes variables
// and hyperparameters in scopes, shared by the functions that build a model.
package context

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/avber/keras-cv-attention-models/ml/context/initializers"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Context organizes information shared in a model: its variables (weights) and its
// (hyper-)parameters.
//
// Both are organized in "scopes". The Context object is actually a thin wrapper that
// contains the current scope (similar to a current directory) and a link to the actual data. One can change
// scopes by using Context.In("new_scope"): it returns a new Context with the new scope set, but still pointing
// (sharing) all the data with the previous Context. E.g:
//
//	func main() {
//		ctx := context.New()
//		ctx.SetParam("activation", "gelu")  // Default activation for all layers.
//		...
//	}
//
//	func ModelGraph(ctx *context.Context, x *Node) *Node {
//		...
//		{
//			ctx := ctx.In("output_layer")  // Enter "output_layer" scope, same data, different scope.
//			ctx.SetParam("activation", "tanh")  // Only for the "output_layer".
//			logits = layers.Dense(ctx, logits, true, numClasses)
//		}
//	}
type Context struct {
	// scope for currently created variables and registration.
	scope string

	// reuse of variables, if set to true.
	reuse bool

	// checked access to variables: whether to check for reuse if variable is new or not. If set
	// to false it makes reuse irrelevant.
	checked bool

	// initializer is used for new variables created without one.
	initializer VariableInitializer

	// data is shared among all Context references.
	data *contextData
}

// scopedVariableMap name to variable within a scope.
type scopedVariableMap map[string]*Variable

// contextData stores all context information and is shared among various Context, which
// serve only as scoped references.
type contextData struct {
	// params holds a model's building (hyper)parameters, interpreted by the various model
	// components independently.
	params *ScopedParams

	// variablesMap for this context organized per scope.
	variablesMap map[string]scopedVariableMap

	// variables is a plain list of all variables, in creation order.
	variables []*Variable

	// loader, if set, is called to check whether there is a previous value of the variable to use.
	loader Loader
}

// Loader can be implemented by any library providing loading of variables for
// Context. Loader implementations need to provide values on demand -- as variables are created,
// even if they load everything up-front.
type Loader interface {
	// LoadVariable tries to load the variable v, usually specified by its scope and name.
	// If it's not found, returns false, and initialization continues as usual.
	LoadVariable(ctx *Context, v *Variable) (value *tensors.Tensor, found bool)
}

// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
const ScopeSeparator = "/"

// New constructs a new and empty context.
func New() *Context {
	return &Context{
		scope:       ScopeSeparator,
		checked:     true,
		initializer: initializers.GlorotUniform(initializers.NoSeed),
		data: &contextData{
			params:       NewScopedParams(),
			variablesMap: make(map[string]scopedVariableMap),
		},
	}
}

// copy creates a copy of the Context, but sharing the same "data" component.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// EscapeScopeName replaces ScopeSeparator in the string and replaces them by "_".
func EscapeScopeName(scopeName string) string {
	return strings.ReplaceAll(scopeName, ScopeSeparator, "_")
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope, see InPath for that.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	if ctx.scope == ScopeSeparator {
		return ctx.InAbsPath(ScopeSeparator + scope)
	}
	return ctx.InAbsPath(ctx.scope + ScopeSeparator + scope)
}

// InPath returns a new reference to the Context with the relative path appended to the current
// scope: it is split by ScopeSeparator and each element is entered with In. Trailing separators
// are ignored, so "block/" is the same as "block".
//
// This is convenient to use layer names with hierarchies (e.g. "mbconv/expand_conv") as scopes.
func (ctx *Context) InPath(path string) *Context {
	path = strings.Trim(path, ScopeSeparator)
	if path == "" {
		exceptions.Panicf("cannot use empty path for Context.InPath()")
	}
	for _, part := range strings.Split(path, ScopeSeparator) {
		ctx = ctx.In(part)
	}
	return ctx
}

// InAbsPath returns a new reference to the Context with the extra given scope. It should start and have each element
// separated by ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// Reuse returns a new reference to the Context set to reuse of variables, if it is not already in reuse mode.
// Otherwise, returns itself.
func (ctx *Context) Reuse() *Context {
	if ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = true
	return ctx2
}

// IsReuse returns whether Context is marked for reuse. This is irrelevant if IsChecked is false.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a new context with the checked flag set accordingly.
// If checked is true checks for reuse/uniqueness are checked according to IsReuse().
// If checked is false Variables are dynamically reused or created when needed, without any checks.
func (ctx *Context) Checked(checked bool) *Context {
	if ctx.checked == checked {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.checked = checked
	return ctx2
}

// IsChecked returns whether context is checking reuse rules.
func (ctx *Context) IsChecked() bool { return ctx.checked }

// WithInitializer returns a new reference to the Context, with the initializer set.
func (ctx *Context) WithInitializer(initializer VariableInitializer) *Context {
	if initializer == nil {
		exceptions.Panicf("Context.WithInitializer passed a nil initializer")
	}
	ctx2 := ctx.copy()
	ctx2.initializer = initializer
	return ctx2
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// E.g: if current scope is "/a/b", it will search for the key in "/a/b" scope, then
// in "/a" and finally in "/", and return the first result found.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.SetParam(key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes calls fn with their values.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found, returns the given default value.
//
// If the value is set, but it cannot be converted to T, it logs a warning and returns the default.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueI, found := ctx.GetParam(key)
	if !found {
		return defaultValue
	}
	value, ok := valueI.(T)
	if ok {
		return value
	}

	// Try converting, for instance, a float32 could be converted to float64.
	v := reflect.ValueOf(valueI)
	typeOfT := reflect.TypeOf(defaultValue)
	if typeOfT == nil || !v.CanConvert(typeOfT) {
		klog.Warningf("tried to read hyperparameter %q as %T, but failed because it was type %T", key, defaultValue, valueI)
		return defaultValue
	}
	return v.Convert(typeOfT).Interface().(T)
}

func (ctx *Context) findVariableInScope(name string) *Variable {
	scopeVars, ok := ctx.data.variablesMap[ctx.scope]
	if !ok {
		return nil
	}
	return scopeVars[name]
}

// InspectVariable returns the variable with the given name in the given scope, or nil if not found.
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	scopeVars, ok := ctx.data.variablesMap[scope]
	if !ok {
		return nil
	}
	return scopeVars[name]
}

// InspectVariableByPath returns the variable by its full path ("<scope>/<name>"), with or without
// the leading separator, or nil if not found.
func (ctx *Context) InspectVariableByPath(path string) *Variable {
	path = strings.TrimPrefix(path, ScopeSeparator)
	idx := strings.LastIndex(path, ScopeSeparator)
	if idx < 0 {
		return ctx.InspectVariable(ScopeSeparator, path)
	}
	return ctx.InspectVariable(ScopeSeparator+path[:idx], path[idx+1:])
}

func (ctx *Context) setVariableInScope(name string, v *Variable) {
	vSet, found := ctx.data.variablesMap[ctx.scope]
	if !found {
		vSet = make(scopedVariableMap)
		ctx.data.variablesMap[ctx.scope] = vSet
	}
	vSet[name] = v
	ctx.data.variables = append(ctx.data.variables, v)
}

// VariableWithShape creates or returns an existing variable with the given shape in the current scope.
// It is initialized with the current variable initializer set for the context.
// By default, variables are marked as trainable.
//
// If a Loader is configured (see SetLoader), and the value is available to load, it will override
// the initial value.
//
// It panics if the variable already exists and the context is not set to Reuse, or if it doesn't
// exist and the context is set to Reuse, or if reused with a different shape.
func (ctx *Context) VariableWithShape(name string, shape shapes.Shape) *Variable {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		exceptions.Panicf("invalid variable name %q in scope %q", name, ctx.scope)
	}
	if !shape.Ok() {
		exceptions.Panicf("invalid shape %s for variable %q in scope %q", shape, name, ctx.scope)
	}
	v := ctx.findVariableInScope(name)
	if v == nil && ctx.checked && ctx.reuse {
		exceptions.Panicf("requested variable %q in scope %q with Context.Reuse set, but variable does not exist", name, ctx.scope)
	}
	if v != nil && ctx.checked && !ctx.reuse {
		exceptions.Panicf("variable %q for scope %q already exists -- if this was deliberate, use Context.Reuse() or Context.Checked(false)", name, ctx.scope)
	}
	if v != nil {
		if !shape.Equal(v.shape) {
			exceptions.Panicf("requested to reuse variable %q in scope %q, but with different shape from original: previous shape=%s, requested shape=%s",
				name, ctx.scope, v.shape, shape)
		}
		return v
	}

	v = &Variable{
		name:         name,
		scope:        ctx.scope,
		shape:        shape,
		Trainable:    true,
		initializer:  ctx.initializer,
		graphToNodes: make(map[uuid.UUID]*Node),
	}
	ctx.setVariableInScope(name, v)
	ctx.tryToLoad(v)
	return v
}

// tryToLoad tries to load the variable from the loader. It returns true if it succeeded.
// A value with a different shape is skipped with a warning.
func (ctx *Context) tryToLoad(v *Variable) bool {
	loader := ctx.data.loader
	if loader == nil {
		return false
	}
	value, found := loader.LoadVariable(ctx, v)
	if !found {
		return false
	}
	if !value.Shape().Equal(v.shape) {
		klog.Warningf("loading of variable %q returned shape %s, but variable was created with shape %s: skipped",
			v.ScopeAndName(), value.Shape(), v.shape)
		return false
	}
	v.value = value
	return true
}

// EnumerateVariables will call fn for each variable in the context, in creation order.
func (ctx *Context) EnumerateVariables(fn func(v *Variable)) {
	for _, v := range ctx.data.variables {
		fn(v)
	}
}

// Variables returns all variables in creation order. The returned slice shouldn't be changed.
func (ctx *Context) Variables() []*Variable {
	return ctx.data.variables
}

// NumVariables return the number of variables in this Context.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters returns the summed-up number of all variables, trainable or not.
// It ignores the `DType`, so a `float64` will count as much as a `uint8`.
func (ctx *Context) NumParameters() int {
	total := 0
	ctx.EnumerateVariables(func(v *Variable) {
		total += v.Shape().Size()
	})
	return total
}

// NumTrainableParameters returns the summed-up number of all trainable variables.
func (ctx *Context) NumTrainableParameters() int {
	total := 0
	ctx.EnumerateVariables(func(v *Variable) {
		if v.Trainable {
			total += v.Shape().Size()
		}
	})
	return total
}

// Memory returns the total number of bytes summed across all variables.
func (ctx *Context) Memory() int64 {
	total := int64(0)
	ctx.EnumerateVariables(func(v *Variable) {
		total += int64(v.Shape().Memory())
	})
	return total
}

// Loader returns the current configured Loader for this context. See SetLoader for details on how the
// Loader is used.
func (ctx *Context) Loader() Loader {
	return ctx.data.loader
}

// SetLoader configures given loader to be used as the default Loader for this Context.
//
// Loader is used just after any new variable is created, either with VariableWithValue or VariableWithShape.
// If the Loader has a value of the variable created, it will override the value given
// in VariableWithValue, or skip the initializer for VariableWithShape.
func (ctx *Context) SetLoader(loader Loader) {
	ctx.data.loader = loader
}

// LoadValues sets the values of existing variables, matched by their full path (see Variable.ScopeAndName,
// the leading "/" is optional). It is a partial load: values whose name is not found or whose
// shape doesn't match are skipped, and returned in skipped.
func (ctx *Context) LoadValues(values map[string]*tensors.Tensor) (loaded, skipped []string) {
	for path, value := range values {
		v := ctx.InspectVariableByPath(path)
		if v == nil {
			skipped = append(skipped, path)
			continue
		}
		if err := v.SetValue(value); err != nil {
			klog.Warningf("skipping value for %q: %v", path, err)
			skipped = append(skipped, path)
			continue
		}
		loaded = append(loaded, path)
	}
	return
}

// String implements fmt.Stringer.
func (ctx *Context) String() string {
	return fmt.Sprintf("Context(scope=%q, %d variables)", ctx.scope, ctx.NumVariables())
}
