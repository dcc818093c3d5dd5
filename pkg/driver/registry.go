// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package driver

import (
	"fmt"
	"sync"
)

// Factory creates a fresh plugin instance for one node.
type Factory func() (Plugin, error)

type registration struct {
	module  Module
	factory Factory
}

var (
	registryMu sync.Mutex
	registry   = map[string]registration{}
)

// Register adds a statically linked plugin to the process-wide registry
// under its module name. Plugins call this from their package init; a
// duplicate name panics there, at program start, rather than surfacing as
// a runtime lookup surprise.
func Register(module Module, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[module.Name]; ok {
		panic(fmt.Sprintf("driver: plugin %q registered twice", module.Name))
	}
	registry[module.Name] = registration{module: module, factory: factory}
}

// Lookup resolves a registered plugin by module name and instantiates it.
func Lookup(name string) (Plugin, Module, error) {
	registryMu.Lock()
	reg, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, Module{}, fmt.Errorf("driver: plugin %q not registered", name)
	}
	p, err := reg.factory()
	if err != nil {
		return nil, Module{}, fmt.Errorf("driver: instantiate plugin %q: %w", name, err)
	}
	return p, reg.module, nil
}

// Modules lists the registered plugin modules, for the node-types control
// surface.
func Modules() []Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Module, 0, len(registry))
	for _, reg := range registry {
		out = append(out, reg.module)
	}
	return out
}
