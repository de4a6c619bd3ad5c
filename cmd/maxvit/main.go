// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// maxvit builds one of the MaxViT models and reports its layers and parameters. It can also
// download the pretrained weights and check that they load into the model.
//
// Example:
//
//	maxvit -model=small -size=384 -vars -filter='^/stack_1_block_1/' -csv=/tmp/vars.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"regexp"

	"github.com/avber/keras-cv-attention-models/models/maxvit"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagModel       = flag.String("model", "tiny", "MaxViT preset: tiny, small, base, large or xlarge.")
	flagSize        = flag.Int("size", 224, "Input image height and width.")
	flagClasses     = flag.Int("classes", 1000, "Number of classes. Use 0 to build the model without the classification head.")
	flagDropConnect = flag.Float64("drop_connect", 0, "Stochastic depth rate of the last block.")
	flagDropout     = flag.Float64("dropout", 0, "Dropout rate before the classifier.")
	flagTorch       = flag.Bool("torch", false, "Use the PyTorch numeric profile (explicit padding, epsilon 1e-5).")
	flagLayerScale  = flag.Float64("layer_scale", -1, "If >= 0, enables the layer scale of the attention units with this initial value.")
	flagActivation  = flag.String("activation", "gelu/app", "Activation used throughout the model.")
	flagSummary     = flag.Bool("summary", true, "Display a summary of the model.")
	flagVars        = flag.Bool("vars", false, "Lists the variables (matching -filter).")
	flagFilter      = flag.String("filter", "", "Regular expression on the variable paths to include in -vars and -csv.")
	flagCSV         = flag.String("csv", "", "Write the variables (matching -filter) as CSV to the given file.")
	flagPlot        = flag.String("plot", "", "Save a chart of the parameters per stage to the given PNG file.")
	flagWeights     = flag.String("weights", "", "Load the weights of the given Keras \".h5\" file.")
	flagDownload    = flag.String("download", "", "Download the pretrained weights (-pretrained) to the given directory, and load them.")
	flagPretrained  = flag.String("pretrained", "imagenet", "Name of the pretrained weights used with -download.")
	flagForceColor  = flag.Bool("force_color", false, "Force colors in the output, even if not writing to a terminal.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagForceColor {
		lipgloss.SetColorProfile(termenv.ANSI256)
	}

	cfg, err := configFromFlags()
	if err != nil {
		klog.Errorf("Invalid flags: %+v", err)
		os.Exit(1)
	}
	model := must.M1(maxvit.Build(cfg))

	var filter *regexp.Regexp
	if *flagFilter != "" {
		filter = must.M1(regexp.Compile(*flagFilter))
	}

	if *flagDownload != "" {
		loaded, skipped := must.M2(maxvit.LoadPretrained(model, *flagDownload))
		fmt.Printf("Loaded %s weights, skipped %s\n", humanize.Comma(int64(len(loaded))), humanize.Comma(int64(len(skipped))))
	} else if *flagWeights != "" {
		loaded, skipped := must.M2(maxvit.LoadKerasWeights(model, *flagWeights))
		fmt.Printf("Loaded %s weights, skipped %s\n", humanize.Comma(int64(len(loaded))), humanize.Comma(int64(len(skipped))))
	}

	if *flagSummary {
		printSummary(model)
	}
	rows := collectVariables(model, filter)
	if *flagVars {
		printVariables(rows)
	}
	if *flagCSV != "" {
		must.M(writeVariablesCSV(rows, *flagCSV))
		klog.Infof("variables written to %q", *flagCSV)
	}
	if *flagPlot != "" {
		must.M(plotStageParameters(model, *flagPlot))
		klog.Infof("chart saved to %q", *flagPlot)
	}
}

// configFromFlags returns the model configuration selected by the flags.
func configFromFlags() (maxvit.Config, error) {
	preset, err := maxvit.ParsePreset(*flagModel)
	if err != nil {
		return maxvit.Config{}, err
	}
	opts := []maxvit.Option{
		maxvit.WithInputShape(*flagSize, *flagSize, 3),
		maxvit.WithNumClasses(*flagClasses),
		maxvit.WithDropConnectRate(*flagDropConnect),
		maxvit.WithDropout(*flagDropout),
		maxvit.WithTorchMode(*flagTorch),
		maxvit.WithActivation(*flagActivation),
	}
	if *flagLayerScale >= 0 {
		opts = append(opts, maxvit.WithLayerScale(*flagLayerScale))
	}
	if *flagDownload != "" {
		opts = append(opts, maxvit.WithPretrained(*flagPretrained))
	}
	return maxvit.NewConfig(preset, opts...)
}
