// ABOUTME: CLI entrypoint for running one coordination task across N agents.
// ABOUTME: Wires Task/Config, per-agent workspaces, path permissions, the control registry, and the event bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/control"
	"github.com/2389-research/massgen/coordination"
	"github.com/2389-research/massgen/permission"
	"github.com/2389-research/massgen/state"
	"github.com/2389-research/massgen/workspace"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional arguments.
type config struct {
	agentIDs           string
	dataDir            string
	votingSensitivity  string
	novelty            string
	contextPaths       string
	planningMode       bool
	maxRestarts        int
	agentTimeoutSecs   int
	agentMaxTokens     int
	globalTimeoutSecs  int
	globalMaxTokens    int
	verbose            bool
	showVersion        bool
	prompt             string
}

func main() {
	loadDotEnvAuto()

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("massgen %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("massgen", flag.ContinueOnError)
	fs.StringVar(&cfg.agentIDs, "agents", "a1,a2,a3", "Comma-separated agent ids to run")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Data directory for workspaces and snapshots (default: $XDG_DATA_HOME/massgen)")
	fs.StringVar(&cfg.votingSensitivity, "voting-sensitivity", "lenient", "Voting bar injected into each agent's prompt: lenient, balanced, strict")
	fs.StringVar(&cfg.novelty, "novelty", "lenient", "Answer novelty requirement: lenient, balanced, strict")
	fs.StringVar(&cfg.contextPaths, "context-paths", "", "Comma-separated shared directories agents may read (and the winner may write during Presenting, if suffixed :rw), e.g. /repo:rw,/docs:ro")
	fs.BoolVar(&cfg.planningMode, "planning-mode", false, "Defer write_file calls until the winner presents")
	fs.IntVar(&cfg.maxRestarts, "max-restarts", 0, "Maximum orchestration restarts after a self-evaluation request")
	fs.IntVar(&cfg.agentTimeoutSecs, "agent-timeout", 300, "Per-agent wall-clock budget, in seconds")
	fs.IntVar(&cfg.agentMaxTokens, "agent-tokens", 50_000, "Per-agent token budget")
	fs.IntVar(&cfg.globalTimeoutSecs, "global-timeout", 1800, "Whole-task wall-clock budget, in seconds")
	fs.IntVar(&cfg.globalMaxTokens, "global-tokens", 200_000, "Whole-task token budget")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print every chunk as it streams off the bus")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg.prompt = strings.Join(fs.Args(), " ")

	return cfg
}

// run builds the engine from cfg and drives one task to completion.
// Returns an exit code: 0 for success, 1 for failure.
func run(cliCfg config) int {
	if cliCfg.prompt == "" {
		printHelp(os.Stderr, version)
		return 0
	}

	roster := strings.Split(cliCfg.agentIDs, ",")
	for i, id := range roster {
		roster[i] = strings.TrimSpace(id)
	}
	if len(roster) < 2 {
		fmt.Fprintln(os.Stderr, "error: at least two agents are required for a vote to be meaningful")
		return 1
	}

	dataDir, err := resolveDataDir(cliCfg.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve data dir: %v\n", err)
	}
	workspacesRoot := filepath.Join(dataDir, "workspaces")
	snapshotsRoot := filepath.Join(dataDir, "snapshots")

	cfg := buildTaskConfig(cliCfg)

	perm := permission.NewManager(nil)
	ws := workspace.NewManager(workspacesRoot, snapshotsRoot)
	registry := control.NewRegistry()
	if err := registry.RegisterCaller(coordination.NewWriteFileTool(perm)); err != nil {
		fmt.Fprintf(os.Stderr, "error: register write_file tool: %v\n", err)
		return 1
	}
	if err := registry.RegisterCaller(coordination.NewReadPeerWorkspaceTool(ws)); err != nil {
		fmt.Fprintf(os.Stderr, "error: register read_peer_workspace tool: %v\n", err)
		return 1
	}

	agents := make([]coordination.AgentConfig, 0, len(roster))
	for _, id := range roster {
		workspaceDir, err := ws.Ensure(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: create workspace for %s: %v\n", id, err)
			return 1
		}
		perm.RegisterWorkspace(id, workspaceDir)

		agents = append(agents, coordination.AgentConfig{
			Spec:    state.AgentSpec{ID: id, BackendRef: "stub"},
			Backend: newStubBackend(id, cliCfg.prompt, roster),
		})
	}

	task := state.Task{
		ID:           "cli-" + strconv.FormatInt(int64(os.Getpid()), 10),
		Prompt:       cliCfg.prompt,
		ContextPaths: parseContextPaths(cliCfg.contextPaths),
		Config:       cfg,
	}

	bus := state.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	if cliCfg.verbose {
		sub := bus.Subscribe()
		go streamEvents(sub)
		defer bus.Unsubscribe(sub)
	}

	engine := coordination.NewEngine(task, agents, perm, ws, registry, bus)

	history, err := engine.RunTask(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return reportOutcome(history)
}

// buildTaskConfig translates CLI flags into a state.Config, starting from
// the recognized defaults and overriding only what the user set.
func buildTaskConfig(cliCfg config) state.Config {
	cfg := state.DefaultConfig()
	cfg.EnablePlanningMode = cliCfg.planningMode
	cfg.MaxOrchestrationRestarts = cliCfg.maxRestarts
	cfg.VotingSensitivity = state.VotingSensitivity(cliCfg.votingSensitivity)
	cfg.AnswerNoveltyRequirement = state.NoveltyRequirement(cliCfg.novelty)
	cfg.AgentTimeoutSeconds = cliCfg.agentTimeoutSecs
	cfg.AgentMaxTokens = cliCfg.agentMaxTokens
	cfg.OrchestratorTimeoutSeconds = cliCfg.globalTimeoutSecs
	cfg.OrchestratorMaxTokens = cliCfg.globalMaxTokens
	return cfg
}

// parseContextPaths parses "-context-paths" into orchestrator.context_paths:
// a comma-separated list of directories, each optionally suffixed ":rw" or
// ":ro" (default :ro). These become permission.ManagedPath entries once the
// engine is constructed.
func parseContextPaths(raw string) []state.ContextPath {
	if raw == "" {
		return nil
	}
	var paths []state.ContextPath
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		path := entry
		writable := false
		if idx := strings.LastIndex(entry, ":"); idx != -1 {
			switch entry[idx+1:] {
			case "rw":
				path, writable = entry[:idx], true
			case "ro":
				path = entry[:idx]
			}
		}
		paths = append(paths, state.ContextPath{Path: path, Writable: writable})
	}
	return paths
}

// resolveDataDir returns the data directory to use, preferring an explicit
// override and falling back to the XDG-based default.
func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return defaultDataDir()
}

// reportOutcome prints every attempt taken and the final winner, returning
// the CLI's exit code.
func reportOutcome(history []state.OrchestrationAttempt) int {
	for _, attempt := range history {
		fmt.Fprintf(os.Stderr, "[attempt %d] outcome=%s\n", attempt.AttemptNumber, attempt.Outcome)
	}

	if len(history) == 0 {
		fmt.Fprintln(os.Stderr, "error: no attempt was recorded")
		return 1
	}

	last := history[len(history)-1]
	switch last.Outcome {
	case state.OutcomeDone:
		fmt.Printf("winner: %s\n\n%s\n", last.Winner, last.FinalAnswer)
		return 0
	default:
		fmt.Fprintln(os.Stderr, "task did not reach a decision")
		return 1
	}
}

// streamEvents prints every chunk and engine-level event as it crosses the
// bus, attributed to its agent.
func streamEvents(sub chan state.Event) {
	for ev := range sub {
		if ev.Engine != nil {
			fmt.Fprintf(os.Stderr, "[engine] %s %s %s\n", ev.Engine.Kind, ev.Engine.AgentID, ev.Engine.Detail)
			continue
		}
		switch c := ev.Chunk.(type) {
		case backend.ContentChunk:
			fmt.Fprintf(os.Stderr, "[%s] %s", ev.AgentID, c.Text)
		case backend.ToolCallChunk:
			fmt.Fprintf(os.Stderr, "[%s] tool_call %s\n", ev.AgentID, c.Name)
		case backend.ToolResultChunk:
			fmt.Fprintf(os.Stderr, "[%s] tool_result ok=%v %s\n", ev.AgentID, c.OK, c.Payload)
		case backend.ErrorChunk:
			fmt.Fprintf(os.Stderr, "[%s] error %s: %s\n", ev.AgentID, c.Kind, c.Message)
		case backend.EndChunk:
			fmt.Fprintf(os.Stderr, "[%s] end %s\n", ev.AgentID, c.Reason)
		}
	}
}
