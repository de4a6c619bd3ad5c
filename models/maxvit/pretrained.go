// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package maxvit

import (
	"fmt"
	"maps"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/avber/keras-cv-attention-models/ml/context"
	"github.com/avber/keras-cv-attention-models/ml/data/downloader"
	"github.com/avber/keras-cv-attention-models/ml/data/hdf5"
	"github.com/avber/keras-cv-attention-models/ml/layers"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PretrainedURLFormat is the URL of the published weights, formatted with the model name, the
// resolution and the name of the pretrained weights.
const PretrainedURLFormat = "https://github.com/leondgarse/keras_cv_attention_models/releases/download/maxvit/%s_%d_%s.h5"

// PretrainedWeights maps model name, pretrained weights name and input resolution to the md5 hash
// of the published ".h5" file.
var PretrainedWeights = map[string]map[string]map[int]string{
	"maxvit_tiny":  {"imagenet": {224: "e5cfd6a6bd4dea939860b6d8a29a911a"}},
	"maxvit_small": {"imagenet": {224: "6bbaff1c6316486c3ac29b607d9ebb13"}},
	"maxvit_base":  {"imagenet": {224: "00c833043b87ef2861ecf79820d827e0"}},
	"maxvit_large": {"imagenet": {224: "93d079fa8171986cc272f6fb4e9b0255"}},
}

// PretrainedFile describes one published weights file.
type PretrainedFile struct {
	URL, FileName, MD5 string
	Resolution         int
}

// FindPretrained returns the weights file for the model name, the pretrained weights name and the
// input resolution. If the resolution is not available, the closest one is returned, with a warning.
func FindPretrained(modelName, pretrained string, resolution int) (PretrainedFile, error) {
	byPretrained, found := PretrainedWeights[modelName]
	if !found {
		return PretrainedFile{}, errors.Errorf("no pretrained weights for model %q, available models are %v",
			modelName, slices.Sorted(maps.Keys(PretrainedWeights)))
	}
	byResolution, found := byPretrained[pretrained]
	if !found {
		return PretrainedFile{}, errors.Errorf("no pretrained weights %q for model %q, available are %v",
			pretrained, modelName, slices.Sorted(maps.Keys(byPretrained)))
	}
	best := -1
	for res := range byResolution {
		if best == -1 || absInt(res-resolution) < absInt(best-resolution) ||
			(absInt(res-resolution) == absInt(best-resolution) && res < best) {
			best = res
		}
	}
	if best != resolution {
		klog.Warningf("no pretrained weights %q for %q at resolution %d, using the closest resolution %d",
			pretrained, modelName, resolution, best)
	}
	fileName := fmt.Sprintf("%s_%d_%s.h5", modelName, best, pretrained)
	return PretrainedFile{
		URL:        fmt.Sprintf(PretrainedURLFormat, modelName, best, pretrained),
		FileName:   fileName,
		MD5:        byResolution[best],
		Resolution: best,
	}, nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// LoadPretrained downloads (if not yet in dir) the weights configured in model.Config.Pretrained,
// and loads them into the model variables with LoadKerasWeights.
//
// It returns the loaded and skipped variable paths.
func LoadPretrained(model *Model, dir string) (loaded, skipped []string, err error) {
	pretrained := model.Config.Pretrained
	if pretrained == "" {
		return nil, nil, errors.Errorf("model %q has no pretrained weights configured, see WithPretrained", model.Name)
	}
	file, err := FindPretrained(model.Name, pretrained, model.Config.InputShape[0])
	if err != nil {
		return nil, nil, err
	}
	filePath := path.Join(downloader.ReplaceTildeInDir(dir), file.FileName)
	if err = downloader.DownloadIfMissing(file.URL, filePath, file.MD5, true); err != nil {
		return nil, nil, errors.WithMessagef(err, "pretrained weights for %q", model.Name)
	}
	return LoadKerasWeights(model, filePath)
}

// LoadKerasWeights loads the weights of a Keras ".h5" checkpoint into the model variables, with LoadWeights.
func LoadKerasWeights(model *Model, h5Path string) (loaded, skipped []string, err error) {
	values, err := hdf5.ReadTensors(h5Path, false)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading Keras weights for %q", model.Name)
	}
	loaded, skipped = LoadWeights(model, values)
	klog.V(1).Infof("%q: loaded %d weights from %q", model.Name, len(loaded), h5Path)
	return loaded, skipped, nil
}

// LoadWeights loads the datasets of a Keras checkpoint, keyed by their ".h5" path, into the model
// variables matched by name (see KerasWeightPath).
//
// Position embeddings of a checkpoint trained with another window size are resized to the model's.
// Other weights not found in the model, or whose shape doesn't match (e.g. the classifier of a different
// number of classes), are logged and skipped. Model variables not found in the checkpoint keep their
// initial values.
func LoadWeights(model *Model, datasets map[string]*tensors.Tensor) (loaded, skipped []string) {
	byPath := make(map[string]*tensors.Tensor, len(datasets))
	for key, value := range datasets {
		varPath, ok := KerasWeightPath(key)
		if !ok {
			continue
		}
		byPath[varPath] = value
	}
	resizePositionEmbeddings(model, byPath)
	loaded, skipped = model.Context.LoadValues(byPath)
	slices.Sort(loaded)
	slices.Sort(skipped)
	if len(skipped) > 0 {
		klog.Warningf("%q: %d weights skipped (not found or shape mismatch), e.g. %q",
			model.Name, len(skipped), skipped[0])
	}
	var missing int
	for _, v := range model.Variables() {
		if !v.HasValue() {
			missing++
		}
	}
	if missing > 0 {
		klog.Warningf("%q: %d variables not set by the checkpoint", model.Name, missing)
	}
	return loaded, skipped
}

// resizePositionEmbeddings replaces, in values, the position embeddings whose grid doesn't match the
// window size of the model. Checkpoint grids are square.
func resizePositionEmbeddings(model *Model, values map[string]*tensors.Tensor) {
	suffix := context.ScopeSeparator + layers.PositionalEmbeddingName
	for varPath, value := range values {
		if !strings.HasSuffix(varPath, suffix) {
			continue
		}
		v := model.Context.InspectVariableByPath(varPath)
		if v == nil || value.Shape().EqualDimensions(v.Shape()) || value.Shape().Rank() != 2 ||
			value.Shape().Dim(0) != v.Shape().Dim(0) {
			continue
		}
		stage := stageOfPath(varPath)
		if stage < 1 || stage > NumStages {
			continue
		}
		height, width := model.Plan.OutputShape(stage - 1)
		windowHeight, windowWidth := layers.ClampWindow(height, width, model.Plan.WindowSize)
		targetHeight, targetWidth := 2*windowHeight-1, 2*windowWidth-1
		sourceSize := int(math.Round(math.Sqrt(float64(value.Shape().Dim(1)))))
		if sourceSize*sourceSize != value.Shape().Dim(1) || targetHeight*targetWidth != v.Shape().Dim(1) {
			klog.Warningf("%q: can't resize %q shaped %s to %s", model.Name, varPath, value.Shape(), v.Shape())
			continue
		}
		resized, err := layers.ResizeRelativePositionEmbedding(value, sourceSize, sourceSize, targetHeight, targetWidth)
		if err != nil {
			klog.Warningf("%q: can't resize %q: %v", model.Name, varPath, err)
			continue
		}
		klog.V(1).Infof("%q: resized %q from a %dx%d to a %dx%d grid", model.Name, varPath,
			sourceSize, sourceSize, targetHeight, targetWidth)
		values[varPath] = resized
	}
}

// KerasWeightPath converts the path of a dataset in a Keras ".h5" file to the path of the
// corresponding variable, e.g. "/model_weights/stem_1_conv/stem_1_conv/kernel:0" to "/stem_1_conv/kernel".
//
// It returns false for datasets that are not weights (e.g. optimizer state).
func KerasWeightPath(datasetPath string) (string, bool) {
	datasetPath = strings.TrimPrefix(datasetPath, context.ScopeSeparator)
	if strings.HasPrefix(datasetPath, "optimizer_weights/") {
		return "", false
	}
	datasetPath = strings.TrimPrefix(datasetPath, "model_weights/")
	datasetPath = strings.TrimSuffix(datasetPath, ":0")
	parts := strings.Split(datasetPath, context.ScopeSeparator)
	if len(parts) < 2 {
		return "", false
	}
	// Keras stores weights in the group of the layer, and the weight names are themselves prefixed
	// by the layer name: "<layer>/<layer>/<weight>".
	for n := (len(parts) - 1) / 2; n >= 1; n-- {
		if slices.Equal(parts[:n], parts[n:2*n]) {
			parts = parts[n:]
			break
		}
	}
	return context.ScopeSeparator + strings.Join(parts, context.ScopeSeparator), true
}
