// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PassFunction transforms a graph into a new one. Failures are fatal: it panics (with exceptions.Panicf).
type PassFunction func(g *Graph) *Graph

// PassReg is the registration of a pass, see RegisterPass.
type PassReg struct {
	Name        string
	Description string
	Body        PassFunction

	// ChangeGraph indicates the pass changes the structure of the graph (and not only its attributes).
	ChangeGraph bool

	// GraphAttrDependency lists the graph attributes that must be set before the pass runs.
	GraphAttrDependency []string

	// GraphAttrProvided lists the graph attributes the pass sets.
	GraphAttrProvided []string
}

var (
	passesMu       sync.RWMutex
	passesRegistry = make(map[string]*PassReg)
)

// RegisterPass registers a new pass with the given name, and returns it to be configured. Example:
//
//	var _ = graph.RegisterPass("Fusion").
//		Describe("fuse chains of elementwise operators").
//		SetBody(Fusion).
//		SetChangeGraph(true).
//		DependGraphAttr("shape").
//		ProvideGraphAttr("internal_graph")
//
// It panics if a pass with the same name is already registered.
func RegisterPass(name string) *PassReg {
	passesMu.Lock()
	defer passesMu.Unlock()
	if _, found := passesRegistry[name]; found {
		exceptions.Panicf("pass %q registered twice", name)
	}
	p := &PassReg{Name: name}
	passesRegistry[name] = p
	return p
}

// LookupPass returns the registered pass with the given name.
func LookupPass(name string) (p *PassReg, found bool) {
	passesMu.RLock()
	defer passesMu.RUnlock()
	p, found = passesRegistry[name]
	return
}

// Describe sets the description of the pass.
func (p *PassReg) Describe(description string) *PassReg {
	p.Description = description
	return p
}

// SetBody sets the function that implements the pass.
func (p *PassReg) SetBody(body PassFunction) *PassReg {
	p.Body = body
	return p
}

// SetChangeGraph sets whether the pass changes the graph structure.
func (p *PassReg) SetChangeGraph(changeGraph bool) *PassReg {
	p.ChangeGraph = changeGraph
	return p
}

// DependGraphAttr adds graph attributes the pass requires.
func (p *PassReg) DependGraphAttr(keys ...string) *PassReg {
	p.GraphAttrDependency = append(p.GraphAttrDependency, keys...)
	return p
}

// ProvideGraphAttr adds graph attributes the pass provides.
func (p *PassReg) ProvideGraphAttr(keys ...string) *PassReg {
	p.GraphAttrProvided = append(p.GraphAttrProvided, keys...)
	return p
}

// ApplyPasses applies the named passes in order, and returns the resulting graph.
//
// Before each pass, it checks that the attributes the pass depends on are set, and after it
// that the attributes it provides were set. Panics raised by a pass (the fatal errors of the
// compilation) are converted to errors.
func ApplyPasses(g *Graph, names ...string) (*Graph, error) {
	for _, name := range names {
		p, found := LookupPass(name)
		if !found {
			return nil, errors.Errorf("pass %q not registered", name)
		}
		if p.Body == nil {
			return nil, errors.Errorf("pass %q has no body", name)
		}
		for _, key := range p.GraphAttrDependency {
			if !g.HasAttr(key) {
				return nil, errors.Errorf("pass %q depends on graph attribute %q, which is not set", name, key)
			}
		}
		klog.V(1).Infof("applying pass %q", name)
		var result *Graph
		err := exceptions.TryCatch[error](func() { result = p.Body(g) })
		if err != nil {
			return nil, errors.WithMessagef(err, "pass %q failed", name)
		}
		if result == nil {
			return nil, errors.Errorf("pass %q returned a nil graph", name)
		}
		for _, key := range p.GraphAttrProvided {
			if !result.HasAttr(key) {
				return nil, errors.Errorf("pass %q didn't provide graph attribute %q", name, key)
			}
		}
		g = result
	}
	return g, nil
}

// ApplyPass applies a single pass, see ApplyPasses.
func ApplyPass(g *Graph, name string) (*Graph, error) {
	return ApplyPasses(g, name)
}
