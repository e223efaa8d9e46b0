// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphyaml_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/graph/graphyaml"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	_ "github.com/gomlx/kernelfusion/pkg/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

const testGraph = `
dtype: float64
nodes:
  - name: y
    op: scale
    inputs: [sum]
    attrs: {scalar: "0.5"}
    control_deps: [bias]
  - name: sum
    op: add
    inputs: [x, bias]
  - name: x
    shape: [2, 3]
  - name: bias
    shape: [1]
outputs: [y, sum]
`

func TestLoad(t *testing.T) {
	g, err := graphyaml.Load(strings.NewReader(testGraph))
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, graph.GetAttr[dtypes.DType](g, fusion.GraphAttrKernelDType))
	require.Len(t, g.Outputs, 2)

	y := g.Outputs[0].Node
	assert.Equal(t, "y", y.Name())
	assert.Equal(t, "scale", y.Op().Name)
	assert.Equal(t, "0.5", y.Attrs.Dict["scalar"])
	require.Len(t, y.Inputs, 1)
	sum := y.Inputs[0].Node
	assert.Same(t, sum, g.Outputs[1].Node)
	require.Len(t, y.ControlDeps, 1)
	assert.Equal(t, "bias", y.ControlDeps[0].Name())

	require.Len(t, sum.Inputs, 2)
	x, bias := sum.Inputs[0].Node, sum.Inputs[1].Node
	assert.True(t, x.IsVariable())
	assert.True(t, x.VariableShape().Equal(shapes.Make(dtypes.Float64, 2, 3)))
	assert.True(t, bias.VariableShape().IsUnitBroadcast())
	assert.Same(t, bias, y.ControlDeps[0])
}

func TestLoadErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown op": `
nodes:
  - {name: x, shape: [2]}
  - {name: a, op: not_an_op, inputs: [x]}
outputs: [a]`,
		"duplicate name": `
nodes:
  - {name: x, shape: [2]}
  - {name: x, shape: [2]}
outputs: [x]`,
		"unknown reference": `
nodes:
  - {name: x, shape: [2]}
  - {name: a, op: exp, inputs: [z]}
outputs: [a]`,
		"bad output index": `
nodes:
  - {name: x, shape: [2]}
  - {name: a, op: exp, inputs: ["x:1"]}
outputs: [a]`,
		"cycle": `
nodes:
  - {name: x, shape: [2]}
  - {name: a, op: add, inputs: [x, b]}
  - {name: b, op: exp, inputs: [a]}
outputs: [b]`,
		"self reference": `
nodes:
  - {name: a, op: exp, inputs: [a]}
outputs: [a]`,
		"variable with inputs": `
nodes:
  - {name: x, shape: [2]}
  - {name: y, shape: [2], inputs: [x]}
outputs: [y]`,
		"unknown dtype": `
dtype: float7
nodes:
  - {name: x, shape: [2]}
outputs: [x]`,
		"unknown field": `
nodes:
  - {name: x, shape: [2], colour: blue}
outputs: [x]`,
		"no outputs": `
nodes:
  - {name: x, shape: [2]}`,
		"invalid shape": `
nodes:
  - {name: x, shape: [0]}
outputs: [x]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := graphyaml.Load(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCycleMessage(t *testing.T) {
	_, err := graphyaml.Load(strings.NewReader(`
nodes:
  - {name: x, shape: [2]}
  - {name: a, op: add, inputs: [x, b]}
  - {name: b, op: exp, inputs: [a]}
outputs: [b]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestParseDType(t *testing.T) {
	for name, want := range map[string]dtypes.DType{
		"":        dtypes.Float32,
		"float32": dtypes.Float32,
		"Float64": dtypes.Float64,
		"float16": dtypes.Float16,
	} {
		got, err := graphyaml.ParseDType(name)
		require.NoErrorf(t, err, "dtype %q", name)
		assert.Equalf(t, want, got, "dtype %q", name)
	}
	_, err := graphyaml.ParseDType("float7")
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	g, err := graphyaml.Load(strings.NewReader(testGraph))
	require.NoError(t, err)
	data, err := graphyaml.Marshal(g)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	g2, err := graphyaml.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, dtypes.Float64, graph.GetAttr[dtypes.DType](g2, fusion.GraphAttrKernelDType))
	nodes, nodes2 := g.Indexed().Nodes(), g2.Indexed().Nodes()
	require.Len(t, nodes2, len(nodes))
	for i := range nodes {
		assert.Equal(t, nodes[i].String(), nodes2[i].String())
		assert.Equal(t, nodes[i].Attrs.Dict, nodes2[i].Attrs.Dict)
		assert.Equal(t, len(nodes[i].ControlDeps), len(nodes2[i].ControlDeps))
	}

	_, err = graphyaml.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
