// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphyaml loads a graph from a YAML description. Example:
//
//	dtype: float32
//	nodes:
//	  - name: x
//	    shape: [1024]
//	  - name: bias
//	    shape: [1]
//	  - name: sum
//	    op: add
//	    inputs: [x, bias]
//	  - name: y
//	    op: scale
//	    inputs: [sum]
//	    attrs: {scalar: "0.5"}
//	outputs: [y]
//
// Nodes without "op" are variables, and their "shape" gives their dimensions (the dtype is the one of the document).
// Inputs, control dependencies and outputs refer to nodes by name, optionally followed by ":<output index>".
// Nodes can be listed in any order, but the graph must be acyclic.
//
// The operators must be registered (usually by importing package ops) before loading.
package graphyaml

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gopkg.in/yaml.v3"
)

// Document is the YAML representation of a graph.
type Document struct {
	// DType of the variables and of the generated kernels, "float32" if empty.
	DType   string         `yaml:"dtype,omitempty"`
	Nodes   []NodeDocument `yaml:"nodes"`
	Outputs []string       `yaml:"outputs"`
}

// NodeDocument is the YAML representation of one node.
type NodeDocument struct {
	Name        string            `yaml:"name"`
	Op          string            `yaml:"op,omitempty"`
	Shape       []int             `yaml:"shape,omitempty"`
	Inputs      []string          `yaml:"inputs,omitempty"`
	ControlDeps []string          `yaml:"control_deps,omitempty"`
	Attrs       map[string]string `yaml:"attrs,omitempty"`
}

// LoadFile loads the graph described in the YAML file path. See Load.
func LoadFile(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open graph file %q", path)
	}
	defer func() { _ = f.Close() }()
	g, err := Load(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading graph from %q", path)
	}
	return g, nil
}

// Load reads a YAML Document from r and builds its graph.
//
// The dtype of the document is stored in the graph attribute "kernel_dtype".
func Load(r io.Reader) (*graph.Graph, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML graph")
	}
	return doc.Build()
}

// ParseDType parses the name of a dtype, e.g. "float32" or "Float32".
func ParseDType(name string) (dtypes.DType, error) {
	if name == "" {
		return dtypes.Float32, nil
	}
	if dtype, err := dtypes.DTypeString(name); err == nil {
		return dtype, nil
	}
	if dtype, found := dtypes.MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := dtypes.MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Build creates the graph described by the document.
func (doc *Document) Build() (*graph.Graph, error) {
	dtype, err := ParseDType(doc.DType)
	if err != nil {
		return nil, err
	}

	// Create the nodes first, and connect them in a second pass, so nodes can be listed in any order.
	nodes := make([]*graph.Node, len(doc.Nodes))
	byName := make(map[string]int, len(doc.Nodes))
	for i, nodeDoc := range doc.Nodes {
		if nodeDoc.Name == "" {
			return nil, errors.Errorf("node #%d has no name", i)
		}
		if _, found := byName[nodeDoc.Name]; found {
			return nil, errors.Errorf("duplicate node name %q", nodeDoc.Name)
		}
		byName[nodeDoc.Name] = i
		nodes[i], err = nodeDoc.newNode(dtype)
		if err != nil {
			return nil, errors.WithMessagef(err, "node %q", nodeDoc.Name)
		}
	}

	dependencies := simple.NewDirectedGraph()
	for i := range nodes {
		dependencies.AddNode(simple.Node(int64(i)))
	}
	addDependency := func(from, to int) error {
		if from == to {
			return errors.Errorf("node %q depends on itself", doc.Nodes[to].Name)
		}
		dependencies.SetEdge(dependencies.NewEdge(simple.Node(int64(from)), simple.Node(int64(to))))
		return nil
	}

	for i, nodeDoc := range doc.Nodes {
		node := nodes[i]
		if node.IsVariable() && len(nodeDoc.Inputs) > 0 {
			return nil, errors.Errorf("node %q is a variable (no op) and can't have inputs", nodeDoc.Name)
		}
		for _, ref := range nodeDoc.Inputs {
			inputIdx, index, err := parseRef(ref, byName, nodes)
			if err != nil {
				return nil, errors.WithMessagef(err, "input of node %q", nodeDoc.Name)
			}
			if err := addDependency(inputIdx, i); err != nil {
				return nil, err
			}
			node.Inputs = append(node.Inputs, graph.NodeEntry{Node: nodes[inputIdx], Index: index})
		}
		for _, ref := range nodeDoc.ControlDeps {
			depIdx, index, err := parseRef(ref, byName, nodes)
			if err != nil {
				return nil, errors.WithMessagef(err, "control dependency of node %q", nodeDoc.Name)
			}
			if index != 0 {
				return nil, errors.Errorf("control dependency %q of node %q can't refer to an output index", ref, nodeDoc.Name)
			}
			if err := addDependency(depIdx, i); err != nil {
				return nil, err
			}
			node.ControlDeps = append(node.ControlDeps, nodes[depIdx])
		}
	}
	if _, err := topo.Sort(dependencies); err != nil {
		var unorderable topo.Unorderable
		if errors.As(err, &unorderable) && len(unorderable) > 0 {
			names := make([]string, 0, len(unorderable[0]))
			for _, n := range unorderable[0] {
				names = append(names, doc.Nodes[n.ID()].Name)
			}
			return nil, errors.Errorf("graph has a cycle through nodes %s", strings.Join(names, ", "))
		}
		return nil, errors.Wrap(err, "graph has a cycle")
	}

	if len(doc.Outputs) == 0 {
		return nil, errors.New("graph has no outputs")
	}
	g := graph.New()
	for _, ref := range doc.Outputs {
		outputIdx, index, err := parseRef(ref, byName, nodes)
		if err != nil {
			return nil, errors.WithMessage(err, "graph output")
		}
		g.Outputs = append(g.Outputs, graph.NodeEntry{Node: nodes[outputIdx], Index: index})
	}
	g.SetAttr(fusion.GraphAttrKernelDType, dtype)
	return g, nil
}

// newNode creates the node, without inputs.
func (nodeDoc *NodeDocument) newNode(dtype dtypes.DType) (*graph.Node, error) {
	if nodeDoc.Op == "" {
		if len(nodeDoc.Attrs) > 0 {
			return nil, errors.New("variables (no op) can't have attributes")
		}
		shape := shapes.Unknown()
		if len(nodeDoc.Shape) > 0 {
			for _, dim := range nodeDoc.Shape {
				if dim <= 0 {
					return nil, errors.Errorf("invalid shape %v", nodeDoc.Shape)
				}
			}
			shape = shapes.Make(dtype, nodeDoc.Shape...)
		}
		return graph.NewVariable(nodeDoc.Name, shape), nil
	}
	op, found := graph.LookupOp(nodeDoc.Op)
	if !found {
		return nil, errors.Errorf("unknown operator %q", nodeDoc.Op)
	}
	if len(nodeDoc.Shape) > 0 {
		return nil, errors.New("only variables (no op) can have a shape")
	}
	node := graph.NewNode(op, nodeDoc.Name)
	if len(nodeDoc.Attrs) > 0 {
		node.Attrs.Dict = make(map[string]string, len(nodeDoc.Attrs))
		for k, v := range nodeDoc.Attrs {
			node.Attrs.Dict[k] = v
		}
	}
	return node, nil
}

// parseRef parses a reference "name" or "name:index" to the output of a node.
func parseRef(ref string, byName map[string]int, nodes []*graph.Node) (nodeIdx int, index uint32, err error) {
	name := ref
	if pos := strings.LastIndexByte(ref, ':'); pos >= 0 {
		name = ref[:pos]
		var index64 uint64
		index64, err = strconv.ParseUint(ref[pos+1:], 10, 32)
		if err != nil {
			err = errors.Wrapf(err, "invalid output index in reference %q", ref)
			return
		}
		index = uint32(index64)
	}
	nodeIdx, found := byName[name]
	if !found {
		err = errors.Errorf("reference %q to unknown node %q", ref, name)
		return
	}
	if numOutputs := nodes[nodeIdx].NumOutputs(); int(index) >= numOutputs {
		err = errors.Errorf("reference %q to output #%d, but node %q has %d outputs", ref, index, name, numOutputs)
		return
	}
	return
}

// Marshal returns the YAML description of g. Nodes are listed in topological order.
//
// It's the inverse of Load, except that nodes with the same name are disambiguated with a suffix, and
// the dtype is taken from the graph attribute "kernel_dtype", if set.
func Marshal(g *graph.Graph) ([]byte, error) {
	idx := g.Indexed()
	names := make(map[*graph.Node]string, idx.NumNodes())
	used := make(map[string]bool, idx.NumNodes())
	doc := &Document{}
	if dtype, found := graph.LookupAttr[dtypes.DType](g, fusion.GraphAttrKernelDType); found {
		doc.DType = strings.ToLower(dtype.String())
	}
	ref := func(e graph.NodeEntry) string {
		if e.Index == 0 {
			return names[e.Node]
		}
		return fmt.Sprintf("%s:%d", names[e.Node], e.Index)
	}
	for _, node := range idx.Nodes() {
		name := node.Name()
		for i := 1; name == "" || used[name]; i++ {
			name = fmt.Sprintf("%s_%d", node.Name(), i)
		}
		used[name] = true
		names[node] = name

		nodeDoc := NodeDocument{Name: name, Attrs: node.Attrs.Dict}
		if node.IsVariable() {
			nodeDoc.Shape = node.VariableShape().Dimensions
		} else {
			nodeDoc.Op = node.Op().Name
		}
		for _, e := range node.Inputs {
			nodeDoc.Inputs = append(nodeDoc.Inputs, ref(e))
		}
		for _, dep := range node.ControlDeps {
			nodeDoc.ControlDeps = append(nodeDoc.ControlDeps, names[dep])
		}
		doc.Nodes = append(doc.Nodes, nodeDoc)
	}
	for _, e := range g.Outputs {
		doc.Outputs = append(doc.Outputs, ref(e))
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal graph to YAML")
	}
	return data, nil
}
