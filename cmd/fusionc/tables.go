package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/graph/shapeinference"
	"github.com/gomlx/kernelfusion/pkg/core/shapes"
	"github.com/gomlx/kernelfusion/pkg/fusion"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// summary prints the summary of the compilation: src is the graph before fusion (with shapes), compiled the
// graph after code generation.
func summary(graphPath string, src, compiled *graph.Graph) {
	srcIdx := src.Indexed()
	nodeShapes := graph.GetAttr[[]shapes.Shape](src, graph.GraphAttrShape)
	numUnknown := graph.GetAttr[int](src, shapeinference.GraphAttrNumUnknownNodes)
	compiledIdx := compiled.Indexed()
	kernels := graph.GetAttr[fusion.KernelMap](compiled, fusion.GraphAttrKernel)
	internalGraphs := graph.GetAttr[fusion.InternalGraphMap](compiled, fusion.GraphAttrInternalGraph)

	var inputsMemory uintptr
	for _, id := range srcIdx.InputNodes() {
		inputsMemory += nodeShapes[id].Memory()
	}

	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("graph", graphPath)
	table.Row("# nodes", humanize.Comma(int64(srcIdx.NumNodes())))
	table.Row("# variables", humanize.Comma(int64(len(srcIdx.InputNodes()))))
	table.Row("# unknown shapes", humanize.Comma(int64(numUnknown)))
	table.Row("inputs memory", humanize.Bytes(uint64(inputsMemory)))
	table.Row("# nodes after fusion", humanize.Comma(int64(compiledIdx.NumNodes())))
	table.Row("# kernels", humanize.Comma(int64(len(kernels))))
	fmt.Println(table.Render())

	if len(kernels) == 0 {
		return
	}
	fmt.Println(titleStyle.Render("Kernels"))
	table = newPlainTable(true)
	table.Row("Node", "Kernel", "# Inputs", "# Fused", "Source")
	for _, id := range sortedKernels(kernels) {
		node := compiledIdx.Node(id)
		internalIdx := internalGraphs[node].Indexed()
		numFused := internalIdx.NumNodes() - len(internalIdx.InputNodes())
		table.Row(
			humanize.Comma(int64(id)),
			kernels[id].Name,
			humanize.Comma(int64(len(internalIdx.InputNodes()))),
			humanize.Comma(int64(numFused)),
			humanize.Bytes(uint64(len(kernels[id].Source))),
		)
	}
	fmt.Println(table.Render())
}
