// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package maxvit

import (
	"fmt"
	"strings"

	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/dustin/go-humanize"
)

// NumParameters returns the total number of parameters, trainable and non-trainable (the moving
// statistics of the batch normalizations), as Keras reports it.
func (m *Model) NumParameters() int {
	return m.Context.NumParameters()
}

// NumTrainableParameters returns the number of trainable parameters.
func (m *Model) NumTrainableParameters() int {
	return m.Context.NumTrainableParameters()
}

// NumNonTrainableParameters returns the number of non-trainable parameters.
func (m *Model) NumNonTrainableParameters() int {
	return m.NumParameters() - m.NumTrainableParameters()
}

// Variables of the model, in order of creation.
func (m *Model) Variables() []*context.Variable {
	return m.Context.Variables()
}

// NodeNames returns the names of all the nodes of the graph, in order of creation.
func (m *Model) NodeNames() []string {
	return m.Graph.NodeNames()
}

// StageParameters returns the number of parameters per stage: index 0 is the stem, 1 to NumStages the
// stages, and the last one the head.
func (m *Model) StageParameters() []int {
	counts := make([]int, NumStages+2)
	for _, v := range m.Variables() {
		counts[stageOfPath(v.ScopeAndName())] += v.Shape().Size()
	}
	return counts
}

// stageOfPath returns the StageParameters index of a variable path.
func stageOfPath(path string) int {
	path = strings.TrimPrefix(path, context.ScopeSeparator)
	if strings.HasPrefix(path, "stem_") {
		return 0
	}
	var stage, block int
	if _, err := fmt.Sscanf(path, "stack_%d_block_%d", &stage, &block); err == nil && stage >= 1 && stage <= NumStages {
		return stage
	}
	return NumStages + 1
}

// Summary returns a short description of the model, with its input and output shapes and the parameter counts.
func (m *Model) Summary() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Model: %q\n", m.Name)
	_, _ = fmt.Fprintf(&sb, "Input: %s\n", m.Input.Shape())
	_, _ = fmt.Fprintf(&sb, "Output: %s\n", m.Output.Shape())
	_, _ = fmt.Fprintf(&sb, "Nodes: %s, variables: %s\n",
		humanize.Comma(int64(m.Graph.NumNodes())), humanize.Comma(int64(m.Context.NumVariables())))
	_, _ = fmt.Fprintf(&sb, "Total params: %s (%s)\n",
		humanize.Comma(int64(m.NumParameters())), humanize.IBytes(uint64(m.Context.Memory())))
	_, _ = fmt.Fprintf(&sb, "Trainable params: %s\n", humanize.Comma(int64(m.NumTrainableParameters())))
	_, _ = fmt.Fprintf(&sb, "Non-trainable params: %s\n", humanize.Comma(int64(m.NumNonTrainableParameters())))
	return sb.String()
}
