// ABOUTME: Help display for the massgen CLI.
package main

import (
	"fmt"
	"io"
)

// printHelp writes a formatted usage message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "massgen %s — multi-agent coordination over a shared task\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  massgen [flags] <prompt...>")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -agents <ids>              Comma-separated agent ids (default: a1,a2,a3)")
	fmt.Fprintln(w, "  -voting-sensitivity <lvl>  lenient, balanced, strict (default: lenient)")
	fmt.Fprintln(w, "  -novelty <lvl>             lenient, balanced, strict (default: lenient)")
	fmt.Fprintln(w, "  -context-paths <list>      Comma-separated shared dirs, each optionally :rw or :ro (default: :ro)")
	fmt.Fprintln(w, "  -planning-mode             Defer write_file calls until the winner presents")
	fmt.Fprintln(w, "  -max-restarts <n>          Orchestration restarts allowed after self-evaluation")
	fmt.Fprintln(w, "  -agent-timeout <sec>       Per-agent wall-clock budget (default: 300)")
	fmt.Fprintln(w, "  -agent-tokens <n>          Per-agent token budget (default: 50000)")
	fmt.Fprintln(w, "  -global-timeout <sec>      Whole-task wall-clock budget (default: 1800)")
	fmt.Fprintln(w, "  -global-tokens <n>         Whole-task token budget (default: 200000)")
	fmt.Fprintln(w, "  -data-dir <dir>            Workspace/snapshot root (default: $XDG_DATA_HOME/massgen)")
	fmt.Fprintln(w, "  -verbose                   Print every chunk as it streams off the bus")
	fmt.Fprintln(w, "  -version                   Print version and exit")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "This build runs every agent against a deterministic stub backend; wire a")
	fmt.Fprintln(w, "real backend.Port implementation in place of newStubBackend to talk to an")
	fmt.Fprintln(w, "actual provider.")
}
