// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"io"
	"strings"
)

// FprintTree writes the tree of nodes rooted at n, one node name per line, each input indented
// under its consumer. Shared nodes are printed once per use.
//
// Example, for `exp(x) + y`:
//
//	add
//	  | exp
//	    | x
//	  | y
func FprintTree(w io.Writer, n *Node) {
	fprintTree(w, n, 0)
}

func fprintTree(w io.Writer, n *Node, indent int) {
	prefix := strings.Repeat("  ", indent)
	if indent > 0 {
		prefix += "| "
	}
	if n == nil {
		_, _ = fmt.Fprintf(w, "%snil\n", prefix)
		return
	}
	_, _ = fmt.Fprintf(w, "%s%s\n", prefix, n.Attrs.Name)
	for _, input := range n.Inputs {
		fprintTree(w, input.Node, indent+1)
	}
}

// TreeString returns the output of FprintTree as a string.
func TreeString(n *Node) string {
	var sb strings.Builder
	FprintTree(&sb, n)
	return sb.String()
}
