// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph defines the computation graph manipulated by the compiler passes: Node, NodeEntry and Graph,
// the operator registry (Op, with typed attributes per operator), and the pass registry.
//
// A Graph is a list of output entries plus a free-form attribute map, where passes store their
// results (e.g.: "shape", "internal_graph", "kernel"). Passes take a Graph and return a new one,
// see ApplyPasses.
package graph

import (
	"iter"
	"maps"

	"github.com/gomlx/exceptions"
)

// GraphAttrShape is the graph attribute with the shape of each node, a `[]shapes.Shape` indexed by the
// node ids of the IndexedGraph.
const GraphAttrShape = "shape"

// Graph is defined by its outputs: all nodes reachable from them are part of the graph.
type Graph struct {
	Outputs []NodeEntry

	// Attrs holds graph-level attributes, usually set by passes.
	Attrs map[string]any
}

// New creates a graph with the given outputs.
func New(outputs ...NodeEntry) *Graph {
	return &Graph{Outputs: outputs, Attrs: make(map[string]any)}
}

// SetAttr sets the graph attribute key.
func (g *Graph) SetAttr(key string, value any) {
	if g.Attrs == nil {
		g.Attrs = make(map[string]any)
	}
	g.Attrs[key] = value
}

// HasAttr returns whether the graph attribute key is set.
func (g *Graph) HasAttr(key string) bool {
	_, found := g.Attrs[key]
	return found
}

// CopyAttrs copies the given attribute keys from src, if they are present.
func (g *Graph) CopyAttrs(src *Graph, keys ...string) {
	for _, key := range keys {
		if value, found := src.Attrs[key]; found {
			g.SetAttr(key, value)
		}
	}
}

// AttrKeys returns an iterator over the set attribute keys.
func (g *Graph) AttrKeys() iter.Seq[string] {
	return maps.Keys(g.Attrs)
}

// LookupAttr returns the graph attribute key, if it is set with type T.
func LookupAttr[T any](g *Graph, key string) (value T, found bool) {
	v, ok := g.Attrs[key]
	if !ok {
		return
	}
	value, found = v.(T)
	return
}

// GetAttr returns the graph attribute key. It panics if it is not set or if it is not of type T.
func GetAttr[T any](g *Graph, key string) T {
	v, found := g.Attrs[key]
	if !found {
		exceptions.Panicf("graph attribute %q not set", key)
	}
	value, ok := v.(T)
	if !ok {
		exceptions.Panicf("graph attribute %q is of type %T, wanted %T", key, v, value)
	}
	return value
}

// Indexed returns an IndexedGraph for g: a numbering of its nodes in topological order.
//
// It is computed at every call, so passes that need it more than once should keep it.
func (g *Graph) Indexed() *IndexedGraph {
	return NewIndexedGraph(g)
}
