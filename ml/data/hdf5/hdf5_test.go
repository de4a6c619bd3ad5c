// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hdf5

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHeader = ` "/stem_1_conv/stem_1_conv/kernel:0" {
      DATATYPE  H5T_IEEE_F32LE
      DATASPACE  SIMPLE { ( 3, 3, 3, 64 ) / ( 3, 3, 3, 64 ) }
   }
`

func TestParseHeaderShape(t *testing.T) {
	shape := parseHeaderShape(sampleHeader)
	require.True(t, shape.Ok())
	assert.Equal(t, dtypes.Float32, shape.DType)
	assert.Equal(t, []int{3, 3, 3, 64}, shape.Dimensions)

	scalar := parseHeaderShape(` "/step" {
      DATATYPE  H5T_STD_I64LE
      DATASPACE  SCALAR
   }
`)
	require.True(t, scalar.Ok())
	assert.Equal(t, 0, scalar.Rank())
	assert.Equal(t, dtypes.Int64, scalar.DType)

	unsupported := parseHeaderShape(` "/name" {
      DATATYPE  H5T_STRING {
      DATASPACE  SCALAR
   }
`)
	assert.False(t, unsupported.Ok())
}

func TestDTypeForH5T(t *testing.T) {
	assert.Equal(t, dtypes.Float16, DTypeForH5T("H5T_IEEE_F16LE"))
	assert.Equal(t, dtypes.Float64, DTypeForH5T("H5T_IEEE_F64BE"))
	assert.Equal(t, dtypes.InvalidDType, DTypeForH5T("H5T_STRING"))
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "missing.h5"))
	require.Error(t, err)
	if _, lookErr := exec.LookPath(H5DumpBinary); lookErr != nil {
		t.Logf("%s not installed, only the missing file case is tested", H5DumpBinary)
	}
}
