// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hdf5 provides a trivial API to access HDF5 file contents, enough to read Keras ".h5" checkpoints.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more specifically the
// `h5dump` binary.
//
// It is basic but provides the necessary functionality to list the contents and extract
// the binary contents as tensors.
package hdf5

import (
	"bytes"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/avber/keras-cv-attention-models/types/shapes"
	"github.com/avber/keras-cv-attention-models/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Contents is a map of all the datasets present in the HDF5 file. The key is the path
// built from the concatenation of the "group" (how HDF5 calls directories or folders) with
// the dataset name, separated by a "/" character.
type Contents map[string]*Dataset

// Dataset has (some of) the metadata about a dataset (but not the data itself). The
// dataset "DATATYPE" and "DATASPACE" fields are converted to the equivalent shapes.Shape.
//
// If the data type or the data space are not supported, Shape is invalid (see shapes.Shape.Ok).
type Dataset struct {
	FilePath, GroupPath, RawHeader string
	Shape                          shapes.Shape
}

// H5DumpBinary is the name of the binary used to read the HDF5 files.
const H5DumpBinary = "h5dump"

// ParseFile in filePath as an HDF5 file and returns map of contents.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more specifically the
// `h5dump` binary.
func ParseFile(filePath string) (contents Contents, err error) {
	_, err = os.Stat(filePath)
	if err != nil {
		err = errors.Wrapf(err, "cannot access HDF5 file in path %q", filePath)
		return
	}

	contentsBytes, err := execH5Dump("--contents", filePath)
	if err != nil {
		return
	}
	matches := regexpH5Datasets.FindAllStringSubmatch(string(contentsBytes), -1)
	contents = make(Contents, len(matches))
	for _, match := range matches {
		contents[match[1]] = &Dataset{
			FilePath:  filePath,
			GroupPath: match[1],
			Shape:     shapes.Invalid(),
		}
	}
	if len(contents) == 0 {
		return
	}

	// Read header for datasets.
	headerArgs := make([]string, 0, len(contents)+2)
	headerArgs = append(headerArgs, "--header")
	for key := range contents {
		headerArgs = append(headerArgs, "--dataset="+key)
	}
	headerArgs = append(headerArgs, filePath)
	headerBytes, err := execH5Dump(headerArgs...)
	if err != nil {
		return
	}
	rawDatasetHeaders := strings.Split(string(headerBytes), "DATASET")
	if len(rawDatasetHeaders)-1 != len(contents) {
		err = errors.Errorf("failed to parse dataset headers for %q: expected %d DATASET, got %d",
			filePath, len(contents), len(rawDatasetHeaders)-1)
		return
	}
	for _, part := range rawDatasetHeaders[1:] {
		matches := regexpH5DatasetHeaderName.FindStringSubmatch(part)
		if len(matches) != 2 {
			err = errors.Errorf("failed to parse dataset headers for %q: got %q", filePath, part)
			return
		}
		ds, found := contents[matches[1]]
		if !found {
			err = errors.Errorf("unknown headers for %q: got %q", filePath, part)
			return
		}
		ds.RawHeader = "DATASET" + part
		ds.Shape = parseHeaderShape(part)
		if !ds.Shape.Ok() {
			klog.V(1).Infof("hdf5: dataset %q in %q has an unsupported data type or space", ds.GroupPath, filePath)
		}
	}
	return
}

var (
	regexpH5Datasets               = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	regexpH5DatasetHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpH5DatasetHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpH5DatasetHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// parseHeaderShape parses the DATATYPE and DATASPACE of a dataset header. It returns an invalid shape if
// either is not supported.
func parseHeaderShape(header string) shapes.Shape {
	matches := regexpH5DatasetHeaderDataType.FindStringSubmatch(header)
	if len(matches) != 2 {
		return shapes.Invalid()
	}
	dtype := DTypeForH5T(matches[1])
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid()
	}

	matches = regexpH5DatasetHeaderDataSpace.FindStringSubmatch(header)
	if len(matches) != 4 {
		return shapes.Invalid()
	}
	switch matches[1] {
	case "SCALAR":
		return shapes.Make(dtype)
	case "SIMPLE":
		dimsParts := strings.Split(matches[3], ",")
		dims := make([]int, 0, len(dimsParts))
		for _, dimStr := range dimsParts {
			dim, err := strconv.Atoi(strings.TrimSpace(dimStr))
			if err != nil {
				return shapes.Invalid()
			}
			dims = append(dims, dim)
		}
		return shapes.Make(dtype, dims...)
	}
	return shapes.Invalid()
}

// DTypeForH5T returns the DType corresponding to known HDF5 types. If not known/supported, returns
// dtypes.InvalidDType.
func DTypeForH5T(h5type string) dtypes.DType {
	switch strings.TrimSpace(h5type) {
	case "H5T_IEEE_F16LE", "H5T_IEEE_F16BE":
		return dtypes.Float16
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	case "H5T_STD_U8LE", "H5T_STD_U8BE":
		return dtypes.Uint8
	}
	return dtypes.InvalidDType
}

// execH5Dump executes `h5dump`, and handles errors.
func execH5Dump(args ...string) (output []byte, err error) {
	binPath, err := findBinPath()
	if err != nil {
		return
	}
	cmd := exec.Command(binPath, args...)
	if cmd.Err != nil {
		err = errors.Wrapf(cmd.Err, "cannot execute %q required to access HDF5 file", cmd)
		return
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	err = cmd.Run()
	if err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		err = errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
		return
	}
	output = stdoutBuf.Bytes()
	return
}

func findBinPath() (binPath string, err error) {
	binPath, err = exec.LookPath(H5DumpBinary)
	if err != nil {
		err = errors.Wrapf(err, "cannot find `h5dump` binary in PATH, needed to parse HDF5 "+
			"format files (extension \".h5\") -- please install package hdf5-tools, which usually "+
			"holds `h5dump`")
		return
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	return
}

// Load the raw contents of the dataset, in the native byte order.
func (ds *Dataset) Load() (rawContent []byte, err error) {
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
		return
	}
	defer func() {
		if newErr := os.Remove(tmpFile.Name()); newErr != nil {
			klog.Warningf("Failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), newErr)
		}
	}()
	_, err = execH5Dump("--dataset="+ds.GroupPath, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath)
	if err != nil {
		return
	}
	rawContent, err = os.ReadFile(tmpFile.Name())
	if err != nil {
		err = errors.Wrapf(err, "failed to read from temporary file %q to extract HDF5 dataset", tmpFile.Name())
	}
	return
}

// ToTensor loads the dataset into a tensor.
// It fails if the dataset has an unsupported data type or space.
func (ds *Dataset) ToTensor() (*tensors.Tensor, error) {
	if !ds.Shape.Ok() {
		return nil, errors.Errorf("dataset %q of %q has an unsupported data type or space", ds.GroupPath, ds.FilePath)
	}
	raw, err := ds.Load()
	if err != nil {
		return nil, err
	}
	t, err := tensors.FromRaw(ds.Shape, raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q of %q", ds.GroupPath, ds.FilePath)
	}
	return t, nil
}

// ReadTensors reads all the supported datasets of the HDF5 file as tensors, keyed by their path.
// Datasets with unsupported types are skipped.
func ReadTensors(filePath string, showProgressBar bool) (map[string]*tensors.Tensor, error) {
	contents, err := ParseFile(filePath)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(contents))
	for key := range contents {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	var bar *progressbar.ProgressBar
	if showProgressBar {
		bar = progressbar.NewOptions(len(keys),
			progressbar.OptionSetDescription("reading "+filePath),
			progressbar.OptionShowCount(),
			progressbar.OptionUseANSICodes(true),
		)
	}
	values := make(map[string]*tensors.Tensor, len(keys))
	for _, key := range keys {
		ds := contents[key]
		if bar != nil {
			_ = bar.Add(1)
		}
		if !ds.Shape.Ok() {
			continue
		}
		t, err := ds.ToTensor()
		if err != nil {
			return nil, err
		}
		values[key] = t
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return values, nil
}
