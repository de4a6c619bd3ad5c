// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a graph building system needs to implement to be used
// by the model builders in this module.
//
// The builders only describe graph topology: they never execute. A Backend hands out Builders,
// and the Builder receives one call per operation, returning an opaque Op handle. The default
// backend (package backends/symbolic) only tracks shapes, which is enough to validate a model,
// count its parameters and list its layers.
//
// A backend that doesn't implement every operation can simply return an error wrapping
// ErrNotImplemented for those, and it would still work for models that don't require them.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Backend is the API that needs to be implemented by a graph building backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "symbolic".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities reports the operations and data types supported.
	Capabilities() Capabilities

	// Builder creates a new builder used to define a new named computation.
	Builder(name string) Builder
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "KCAM_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment KCAM_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered, or if the backend fails to be created.
func New() Backend {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "symbolic") and
// "<backend_configuration>" is backend specific. A config without ":" is taken as a backend name.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- maybe import the default one with import _ "github.com/avber/keras-cv-attention-models/backends/symbolic"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given, registered backends: %v", backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		panic(err)
	}
	return backend
}
