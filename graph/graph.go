// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is used to describe computation graphs: a DAG of Node objects, each the result of
// one operation ("op" for short), with a fixed shape known at graph building time.
//
// The package only builds the graph: every op is forwarded to a backends.Builder, which validates
// it and returns an opaque handle. With the default symbolic backend nothing is ever computed,
// which is enough to validate models, count their parameters and list their layers.
//
// ## Error Handling
//
// Graph building functions panic (with github.com/gomlx/exceptions, which carries a stack trace)
// on any error, so the user doesn't need to check for errors at every op, which severely impacts
// readability. Public entry points that build whole models recover those panics with
// exceptions.TryCatch and return them as errors.
//
// ## Node Names
//
// Every node has a name unique within its Graph. Nodes are automatically named
// "<scope>/<op_type>_<n>", where scope is the current name scope (see Graph.PushNameScope), and
// they can be given explicit (absolute) names with Node.SetName before they are used as inputs to
// other nodes. Model builders use explicit names for the output node of each layer, which is how
// checkpoints are matched back to the graph.
package graph

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// NodeId is a unique NodeId within a Graph.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

// Graph with the operations and dependencies of a computation.
//
// A Graph is not safe for concurrent use: it is built by a single goroutine, in one pass.
type Graph struct {
	id      uuid.UUID
	name    string
	backend backends.Backend
	builder backends.Builder

	nodes      []*Node
	parameters []*Node

	nameToNode map[string]*Node
	nameScopes []string
	// autoNameCounters holds the next suffix to try for each automatic name prefix.
	autoNameCounters map[string]int
}

// NewGraph creates an empty Graph with the given name, using a new Builder from backend.
func NewGraph(backend backends.Backend, name string) *Graph {
	if backend == nil {
		exceptions.Panicf("NewGraph(%q): backend cannot be nil", name)
	}
	g := &Graph{
		id:               uuid.New(),
		name:             name,
		backend:          backend,
		builder:          backend.Builder(name),
		nameToNode:       make(map[string]*Node),
		autoNameCounters: make(map[string]int),
	}
	klog.V(2).Infof("graph %q (%s): created with backend %q", name, g.id, backend.Name())
	return g
}

// Id is a unique identifier of the graph, different for every graph created.
func (g *Graph) Id() uuid.UUID { return g.id }

// Name of the graph, given at creation.
func (g *Graph) Name() string { return g.name }

// Backend used by the graph.
func (g *Graph) Backend() backends.Backend { return g.backend }

// Builder returns the backend builder where the graph ops are recorded.
func (g *Graph) Builder() backends.Builder { return g.builder }

// AssertValid panics if graph is nil.
func (g *Graph) AssertValid() {
	if g == nil || g.builder == nil {
		exceptions.Panicf("the Graph is nil or was not created with NewGraph")
	}
}

// NumNodes returns the number of nodes created so far.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns all nodes in order of creation. The returned slice shouldn't be changed.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeById returns the node with the given id, or nil if it doesn't exist.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeByName returns the node with the given name, or nil if not found.
func (g *Graph) NodeByName(name string) *Node {
	return g.nameToNode[name]
}

// NodeNames returns the names of all nodes, in order of creation.
func (g *Graph) NodeNames() []string {
	names := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		names = append(names, node.name)
	}
	return names
}

// Parameters returns the parameter nodes (the graph inputs) in order of creation.
func (g *Graph) Parameters() []*Node { return g.parameters }

// PushNameScope adds a sub-scope to the automatic names of the nodes created from now on,
// until the corresponding PopNameScope.
//
// Scopes are joined with "/". A scope may itself contain "/", and trailing "/" are trimmed.
func (g *Graph) PushNameScope(scope string) {
	scope = strings.TrimRight(scope, "/")
	if scope == "" {
		exceptions.Panicf("Graph(%q).PushNameScope: empty scope", g.name)
	}
	g.nameScopes = append(g.nameScopes, scope)
}

// PopNameScope removes the last scope pushed with PushNameScope.
func (g *Graph) PopNameScope() {
	if len(g.nameScopes) == 0 {
		exceptions.Panicf("Graph(%q).PopNameScope: no scope to pop", g.name)
	}
	g.nameScopes = g.nameScopes[:len(g.nameScopes)-1]
}

// NameScope returns the current name scope, "" for the root.
func (g *Graph) NameScope() string {
	return strings.Join(g.nameScopes, "/")
}

// WithNameScope runs fn with scope pushed, and pops it afterwards, even if fn panics.
func (g *Graph) WithNameScope(scope string, fn func()) {
	g.PushNameScope(scope)
	defer g.PopNameScope()
	fn()
}

// autoName returns a new unique name for a node of the given op type in the current scope.
func (g *Graph) autoName(opType backends.OpType) string {
	prefix := snakeCase(opType.String())
	if scope := g.NameScope(); scope != "" {
		prefix = scope + "/" + prefix
	}
	for {
		n := g.autoNameCounters[prefix]
		g.autoNameCounters[prefix] = n + 1
		name := fmt.Sprintf("%s_%d", prefix, n)
		if _, found := g.nameToNode[name]; !found {
			return name
		}
	}
}

// snakeCase converts a CamelCase op type name to snake_case, e.g. "ConvGeneral" -> "conv_general".
func snakeCase(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for ii, r := range runes {
		if unicode.IsUpper(r) {
			if ii > 0 && (unicode.IsLower(runes[ii-1]) || (ii+1 < len(runes) && unicode.IsLower(runes[ii+1]) && unicode.IsUpper(runes[ii-1]))) {
				sb.WriteRune('_')
			}
			r = unicode.ToLower(r)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// registerNode assigns an id and an automatic name to the node, and appends it to the graph.
func (g *Graph) registerNode(node *Node) {
	node.id = NodeId(len(g.nodes))
	node.name = g.autoName(node.opType)
	g.nameToNode[node.name] = node
	g.nodes = append(g.nodes, node)
	for _, input := range node.inputs {
		input.numConsumers++
	}
}

// String implements fmt.Stringer.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)"
	}
	return fmt.Sprintf("Graph(%q, %d nodes)", g.name, len(g.nodes))
}

// validateBuildingGraphFromInputs checks that all inputs are valid and belong to the same graph,
// and returns that graph.
func validateBuildingGraphFromInputs(inputs ...*Node) (g *Graph) {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes provided, at least one is required")
	}
	for ii, n := range inputs {
		if n == nil {
			exceptions.Panicf("input node #%d is nil", ii)
		}
		if g == nil {
			g = n.Graph()
			g.AssertValid()
		} else if n.Graph() != g {
			exceptions.Panicf("combining nodes from different graphs not allowed: input node #%d is part of graph %q, "+
				"but input node #0 is part of graph %q", ii, n.Graph().Name(), g.Name())
		}
	}
	return
}

// shapeOrPanic queries the backend for the shape of the op.
func (g *Graph) shapeOrPanic(op backends.Op) shapes.Shape {
	shape, err := g.builder.OpShape(op)
	if err != nil {
		panic(err)
	}
	return shape
}
