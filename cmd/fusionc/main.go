// fusionc compiles a graph described in YAML (see package graphyaml): it infers the shapes, fuses the chains
// of elementwise operators and generates the source of one kernel per fused node.
//
// Usage:
//
//	fusionc [flags] graph.yaml
//
// The kernels are written to the file given by -output (or $FUSIONC_OUTPUT), or to the standard output.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelfusion/pkg/core/graph"
	"github.com/gomlx/kernelfusion/pkg/core/graph/graphyaml"
	"github.com/gomlx/kernelfusion/pkg/fusion"
	_ "github.com/gomlx/kernelfusion/pkg/ops"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
	"k8s.io/klog/v2"
)

var (
	flagOutput = flag.String("output", env.Str("FUSIONC_OUTPUT"),
		"File where to write the generated kernels. If empty, they are written to the standard output. "+
			"Default can be set with $FUSIONC_OUTPUT.")
	flagDType = flag.String("dtype", env.Str("FUSIONC_DTYPE"),
		"DType of the kernels (float32, float64 or float16), overrides the one in the graph file. "+
			"Default can be set with $FUSIONC_DTYPE.")
	flagSummary = flag.Bool("summary", env.Bool("FUSIONC_SUMMARY"),
		"Display a summary of the graph and of the fused nodes. Default can be set with $FUSIONC_SUMMARY.")
	flagDump  = flag.Bool("dump", false, "Dump the internal graph of each fused node.")
	flagFused = flag.String("fused", "", "If set, the fused graph is written, in YAML, to the given file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing graph file to compile. See 'fusionc -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'fusionc -help'.")
		os.Exit(1)
	}
	if err := compile(args[0]); err != nil {
		klog.Fatalf("Failed to compile %q: %+v", args[0], err)
	}
}

// compile loads the graph, applies the passes and writes the kernels.
func compile(graphPath string) error {
	src, err := graphyaml.LoadFile(graphPath)
	if err != nil {
		return err
	}
	if *flagDType != "" {
		dtype, err := graphyaml.ParseDType(*flagDType)
		if err != nil {
			return errors.WithMessage(err, "invalid -dtype")
		}
		src.SetAttr(fusion.GraphAttrKernelDType, dtype)
	}

	// The graph with the shapes of the original nodes is kept for the summary.
	withShapes, err := graph.ApplyPass(src, "InferShape")
	if err != nil {
		return err
	}
	compiled, err := graph.ApplyPasses(withShapes, "Fusion", "CodeGen")
	if err != nil {
		return err
	}
	kernels := graph.GetAttr[fusion.KernelMap](compiled, fusion.GraphAttrKernel)
	klog.V(1).Infof("%d kernels generated for %q", len(kernels), graphPath)

	if err := writeKernels(kernels); err != nil {
		return err
	}
	if *flagFused != "" {
		data, err := graphyaml.Marshal(compiled)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*flagFused, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write fused graph to %q", *flagFused)
		}
	}
	if *flagDump {
		dumpInternalGraphs(os.Stdout, compiled)
	}
	if *flagSummary {
		return exceptions.TryCatch[error](func() { summary(graphPath, withShapes, compiled) })
	}
	return nil
}

// sortedKernels returns the kernels ordered by node id.
func sortedKernels(kernels fusion.KernelMap) (ids []uint32) {
	for id := range kernels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return
}

func writeKernels(kernels fusion.KernelMap) error {
	var sb strings.Builder
	for _, id := range sortedKernels(kernels) {
		sb.WriteString(kernels[id].Source)
		sb.WriteString("\n\n")
	}
	if *flagOutput == "" {
		_, err := io.WriteString(os.Stdout, sb.String())
		return errors.Wrap(err, "failed to write kernels")
	}
	f := must.M1(os.Create(*flagOutput))
	defer func() { must.M(f.Close()) }()
	if _, err := io.WriteString(f, sb.String()); err != nil {
		return errors.Wrapf(err, "failed to write kernels to %q", *flagOutput)
	}
	klog.Infof("%d kernels written to %q", len(kernels), *flagOutput)
	return nil
}

// dumpInternalGraphs prints the internal graph of each fused node of g.
func dumpInternalGraphs(w io.Writer, g *graph.Graph) {
	internalGraphs := graph.GetAttr[fusion.InternalGraphMap](g, fusion.GraphAttrInternalGraph)
	for _, node := range g.Indexed().Nodes() {
		internalGraph, found := internalGraphs[node]
		if !found {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:\n", node.Name())
		fusion.PrintInternal(w, internalGraph)
		_, _ = fmt.Fprintln(w)
	}
}
