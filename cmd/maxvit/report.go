// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/avber/keras-cv-attention-models/models/maxvit"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// variableRow describes one variable of the model, in the -vars table and the -csv file.
type variableRow struct {
	Path      string `dataframe:"path"`
	Shape     string `dataframe:"shape"`
	DType     string `dataframe:"dtype"`
	Size      int    `dataframe:"size"`
	Bytes     int    `dataframe:"bytes"`
	Trainable bool   `dataframe:"trainable"`
	Loaded    bool   `dataframe:"loaded"`
}

// collectVariables of the model whose path match filter (if not nil), sorted by path.
func collectVariables(model *maxvit.Model, filter *regexp.Regexp) []variableRow {
	var rows []variableRow
	for _, v := range model.Variables() {
		varPath := v.ScopeAndName()
		if filter != nil && !filter.MatchString(varPath) {
			continue
		}
		shape := v.Shape()
		rows = append(rows, variableRow{
			Path:      varPath,
			Shape:     fmt.Sprintf("%v", shape.Dimensions),
			DType:     shape.DType.String(),
			Size:      shape.Size(),
			Bytes:     int(shape.Memory()),
			Trainable: v.Trainable,
			Loaded:    v.HasValue(),
		})
	}
	slices.SortFunc(rows, func(a, b variableRow) int { return strings.Compare(a.Path, b.Path) })
	return rows
}

func printSummary(model *maxvit.Model) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Model %q", model.Name)))
	table := newTable(lipgloss.Right, lipgloss.Left)
	table.Row(false, "input", model.Input.Shape().String())
	table.Row(false, "output", model.Output.Shape().String())
	table.Row(false, "# nodes", humanize.Comma(int64(model.Graph.NumNodes())))
	table.Row(false, "# variables", humanize.Comma(int64(len(model.Variables()))))
	table.Row(true, "# parameters", humanize.Comma(int64(model.NumParameters())))
	table.Row(false, "# trainable", humanize.Comma(int64(model.NumTrainableParameters())))
	table.Row(false, "# non-trainable", humanize.Comma(int64(model.NumNonTrainableParameters())))
	table.Row(false, "# bytes", humanize.IBytes(uint64(model.Context.Memory())))
	fmt.Println(table.Table.Render())

	fmt.Println(titleStyle.Render("Stages"))
	table = newTable(lipgloss.Right)
	table.Table.Headers("Stage", "Blocks", "Channels", "Heads", "Feature map", "Parameters")
	stageParams := model.StageParameters()
	height, width := model.Plan.OutputShape(-1)
	table.Row(false, "stem", "", humanize.Comma(int64(model.Config.StemWidth)), "",
		fmt.Sprintf("%dx%d", height, width), humanize.Comma(int64(stageParams[0])))
	for ii, stage := range model.Plan.Stages {
		height, width = model.Plan.OutputShape(ii)
		table.Row(false, fmt.Sprintf("stack_%d", ii+1), humanize.Comma(int64(stage.NumBlocks)),
			humanize.Comma(int64(stage.OutChannels)), humanize.Comma(int64(stage.NumHeads)),
			fmt.Sprintf("%dx%d", height, width), humanize.Comma(int64(stageParams[ii+1])))
	}
	table.Row(false, "head", "", "", "", "", humanize.Comma(int64(stageParams[len(stageParams)-1])))
	fmt.Println(table.Table.Render())
}

func printVariables(rows []variableRow) {
	fmt.Println(titleStyle.Render("Variables"))
	table := newTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Table.Headers("Path", "Shape", "DType", "Size", "Bytes")
	for _, row := range rows {
		// Non-trainable variables are highlighted.
		table.Row(!row.Trainable, row.Path, row.Shape, row.DType,
			humanize.Comma(int64(row.Size)), humanize.IBytes(uint64(row.Bytes)))
	}
	fmt.Println(table.Table.Render())
}

// writeVariablesCSV writes the rows as a CSV file with a header.
func writeVariablesCSV(rows []variableRow, filePath string) error {
	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return errors.Wrapf(df.Err, "failed to convert variables to a dataframe")
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

// plotStageParameters saves a bar chart of the number of parameters (in millions) of the stem, stages and head.
func plotStageParameters(model *maxvit.Model, filePath string) error {
	stageParams := model.StageParameters()
	values := make(plotter.Values, len(stageParams))
	labels := make([]string, len(stageParams))
	for ii, count := range stageParams {
		values[ii] = float64(count) / 1e6
		switch {
		case ii == 0:
			labels[ii] = "stem"
		case ii == len(stageParams)-1:
			labels[ii] = "head"
		default:
			labels[ii] = fmt.Sprintf("stack_%d", ii)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s parameters", model.Name, humanize.Comma(int64(model.NumParameters())))
	p.Y.Label.Text = "parameters (millions)"
	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return errors.Wrapf(err, "failed to create bar chart")
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotter.DefaultLineStyle.Color
	p.Add(bars)
	p.NominalX(labels...)
	if err = p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save chart to %q", filePath)
	}
	return nil
}
