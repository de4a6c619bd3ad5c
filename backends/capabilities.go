// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Capabilities holds mappings of what is supported by a backend.
type Capabilities struct {
	// Operations supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[OpType]bool

	// DTypes list the data types supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[OpType]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// Supports returns an error wrapping ErrNotImplemented if the operation or dtype is not supported.
func (c Capabilities) Supports(opType OpType, dtype dtypes.DType) error {
	if !c.Operations[opType] {
		return errors.Wrapf(ErrNotImplemented, "operation %s", opType)
	}
	if dtype != dtypes.InvalidDType && !c.DTypes[dtype] {
		return errors.Wrapf(ErrNotImplemented, "operation %s for dtype %s", opType, dtype)
	}
	return nil
}
