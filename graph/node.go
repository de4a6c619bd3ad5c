// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/avber/keras-cv-attention-models/backends"
	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Node is the result of one operation in a Graph. Its shape is fixed at creation.
//
// The only mutable attribute of a Node is its name, and only until it is used as input to
// another node.
type Node struct {
	graph  *Graph
	id     NodeId
	opType backends.OpType
	op     backends.Op
	shape  shapes.Shape
	name   string

	// inputs are the edges of the computation graph.
	inputs       []*Node
	numConsumers int
}

// newNode records the backend op into a new Node of the graph.
func newNode(g *Graph, opType backends.OpType, op backends.Op, inputs ...*Node) *Node {
	node := &Node{
		graph:  g,
		opType: opType,
		op:     op,
		shape:  g.shapeOrPanic(op),
		inputs: inputs,
	}
	g.registerNode(node)
	return node
}

// Type identify the operation performed by the node.
func (n *Node) Type() backends.OpType {
	if n == nil {
		return backends.OpTypeInvalid
	}
	return n.opType
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Shape of the Node's output.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Invalid()
	}
	return n.shape
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.shape.DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.shape.Rank()
}

// IsScalar returns whether the node's shape is a scalar.
func (n *Node) IsScalar() bool {
	return n.shape.IsScalar()
}

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId {
	return n.id
}

// Name of the node, unique within the graph.
func (n *Node) Name() string {
	return n.name
}

// BackendOp returns the opaque handle returned by the backend builder for this node.
func (n *Node) BackendOp() backends.Op {
	return n.op
}

// Inputs are the other nodes that are direct inputs to the node.
// This doesn't include static inputs (like axes) that are not given by other nodes.
func (n *Node) Inputs() []*Node { return n.inputs }

// NumConsumers returns how many nodes use this node as input.
func (n *Node) NumConsumers() int { return n.numConsumers }

// AssertValid panics if `n` is nil, or if its graph is invalid.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	n.graph.AssertValid()
}

// SetName changes the name of the node to the given absolute name, and returns the node itself
// for convenience.
//
// It panics if the node was already used as input to another node, or if the name is already
// taken by another node of the graph.
func (n *Node) SetName(name string) *Node {
	n.AssertValid()
	if name == n.name {
		return n
	}
	if name == "" {
		exceptions.Panicf("SetName: node %s can't be given an empty name", n)
	}
	if n.numConsumers > 0 {
		exceptions.Panicf("SetName(%q): node %s is already used as input by %d other node(s), it can't be renamed",
			name, n, n.numConsumers)
	}
	if other, found := n.graph.nameToNode[name]; found {
		exceptions.Panicf("SetName(%q): name already used by node %s in graph %q", name, other, n.graph.name)
	}
	delete(n.graph.nameToNode, n.name)
	n.name = name
	n.graph.nameToNode[name] = n
	return n
}

// String implements the `fmt.Stringer` interface.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	if n.graph == nil {
		return "Node(invalid)"
	}
	parts := make([]string, 0, len(n.inputs))
	for _, input := range n.inputs {
		parts = append(parts, fmt.Sprintf("#%d", input.id))
	}
	return fmt.Sprintf("#%d %q: %s(%s) -> %s", n.id, n.name, n.opType, strings.Join(parts, ", "), n.shape)
}
