// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/avber/keras-cv-attention-models/models/maxvit"
	"github.com/go-gota/gota/dataframe"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromFlags(t *testing.T) {
	*flagModel = "small"
	*flagSize = 64
	*flagLayerScale = 1e-6
	defer func() {
		*flagModel = "tiny"
		*flagSize = 224
		*flagLayerScale = -1
	}()
	cfg, err := configFromFlags()
	require.NoError(t, err)
	assert.Equal(t, "maxvit_small", cfg.Name)
	assert.Equal(t, [3]int{64, 64, 3}, cfg.InputShape)
	require.NotNil(t, cfg.LayerScale)
	assert.Equal(t, 1e-6, *cfg.LayerScale)

	*flagModel = "medium"
	_, err = configFromFlags()
	require.Error(t, err)
}

func TestVariablesReports(t *testing.T) {
	model := must.M1(maxvit.Build(maxvit.Tiny(maxvit.WithInputShape(64, 64, 3), maxvit.WithNumClasses(10))))
	rows := collectVariables(model, regexp.MustCompile(`^/stem_`))
	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		paths = append(paths, row.Path)
	}
	assert.Equal(t, []string{
		"/stem_1_bn/beta", "/stem_1_bn/gamma", "/stem_1_bn/moving_mean", "/stem_1_bn/moving_variance",
		"/stem_1_conv/bias", "/stem_1_conv/kernel",
		"/stem_2_conv/bias", "/stem_2_conv/kernel",
	}, paths)

	csvPath := filepath.Join(t.TempDir(), "vars.csv")
	require.NoError(t, writeVariablesCSV(rows, csvPath))
	df := dataframe.ReadCSV(strings.NewReader(string(must.M1(os.ReadFile(csvPath)))))
	require.NoError(t, df.Err)
	assert.Equal(t, len(rows), df.Nrow())
	assert.Equal(t, "/stem_1_bn/beta", df.Col("path").Elem(0).String())
	assert.Equal(t, 3*3*3*64, must.M1(df.Filter(dataframe.F{Colname: "path", Comparator: "==", Comparando: "/stem_1_conv/kernel"}).Col("size").Int())[0])

	plotPath := filepath.Join(t.TempDir(), "stages.png")
	require.NoError(t, plotStageParameters(model, plotPath))
	info, err := os.Stat(plotPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
