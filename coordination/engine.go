// Package coordination implements the CoordinationEngine: the Setup →
// Running → Deciding → Presenting → {Done|Restart|Failed} state machine that
// drives every configured agent to a vote, selects a winner by the fixed
// tie-break order, and produces one Task's final answer.
//
// The shape is an actor-orchestration loop coordinating multiple agent
// actors against one shared event log, with per-turn budget checks,
// generalized to "N agents converging on one voted answer" rather than N
// agents converging on file edits.
package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/control"
	"github.com/2389-research/massgen/novelty"
	"github.com/2389-research/massgen/permission"
	"github.com/2389-research/massgen/prompts"
	"github.com/2389-research/massgen/runner"
	"github.com/2389-research/massgen/state"
	"github.com/2389-research/massgen/timeout"
	"github.com/2389-research/massgen/workspace"
)

// AgentConfig pairs one configured agent with the backend.Port it runs on.
type AgentConfig struct {
	Spec    state.AgentSpec
	Backend backend.Port
}

type plannedCall struct {
	ToolName string
	ArgsJSON string
}

// Engine owns one Task's coordination across every attempt it takes.
type Engine struct {
	Task       state.Task
	Agents     []AgentConfig
	Perm       *permission.Manager
	Workspaces *workspace.Manager
	Registry   *control.Registry
	Bus        *state.Bus

	mu           sync.Mutex
	planned      map[string][]plannedCall
	restartsUsed int
	table        *state.Table
}

// NewEngine constructs an Engine ready to run Task across agents.
func NewEngine(task state.Task, agents []AgentConfig, perm *permission.Manager, ws *workspace.Manager, registry *control.Registry, bus *state.Bus) *Engine {
	e := &Engine{Task: task, Agents: agents, Perm: perm, Workspaces: ws, Registry: registry, Bus: bus}
	e.registerContextPaths()
	return e
}

// registerContextPaths converts Task.ContextPaths (orchestrator.context_paths
// in the config) into managed paths on Perm, once, so a context path's Write
// permission is subject to the same deepest-match and Presenting-gate rules
// as any other managed path.
func (e *Engine) registerContextPaths() {
	if len(e.Task.ContextPaths) == 0 || e.Perm == nil {
		return
	}
	paths := make([]permission.ManagedPath, 0, len(e.Task.ContextPaths))
	for _, cp := range e.Task.ContextPaths {
		perm := permission.Read
		if cp.Writable {
			perm = permission.Write
		}
		paths = append(paths, permission.ManagedPath{
			AbsolutePath:      cp.Path,
			Permission:        perm,
			ProtectedSubpaths: cp.ProtectedSubpaths,
		})
	}
	e.Perm.AddManagedPaths(paths...)
}

// Table returns the AgentState table for the most recently run attempt.
func (e *Engine) Table() *state.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// RunTask drives the Task through attempts until one ends Done or Failed, or
// max_orchestration_restarts is exhausted. It returns every attempt taken, in
// order.
func (e *Engine) RunTask(ctx context.Context) ([]state.OrchestrationAttempt, error) {
	var history []state.OrchestrationAttempt
	restartReason := ""

	for attemptNumber := 1; ; attemptNumber++ {
		attempt, nextReason, restart, err := e.runAttempt(ctx, attemptNumber, restartReason)
		if err != nil {
			return history, err
		}
		history = append(history, attempt)
		if !restart {
			return history, nil
		}
		restartReason = nextReason
	}
}

func (e *Engine) declarationOrder() []string {
	ids := make([]string, 0, len(e.Agents))
	for _, a := range e.Agents {
		ids = append(ids, a.Spec.ID)
	}
	return ids
}

func (e *Engine) runAttempt(ctx context.Context, attemptNumber int, restartReason string) (state.OrchestrationAttempt, string, bool, error) {
	cfg := e.Task.Config
	declOrder := e.declarationOrder()

	table := state.NewTable(declOrder)
	e.mu.Lock()
	e.table = table
	e.planned = make(map[string][]plannedCall)
	e.mu.Unlock()
	e.Perm.SetWinner("", false)

	for _, a := range e.Agents {
		if dir, err := e.Workspaces.Ensure(a.Spec.ID); err == nil {
			e.Perm.RegisterWorkspace(a.Spec.ID, dir)
		}
	}

	globalBudget := timeout.Budget{Duration: time.Duration(cfg.OrchestratorTimeoutSeconds) * time.Second, MaxTokens: cfg.OrchestratorMaxTokens}
	agentBudget := timeout.Budget{Duration: time.Duration(cfg.AgentTimeoutSeconds) * time.Second, MaxTokens: cfg.AgentMaxTokens}

	attemptCtx, governor := timeout.NewGovernor(ctx, globalBudget)
	defer governor.Cancel()

	var g errgroup.Group
	for _, ac := range e.Agents {
		ac := ac
		agentCtx, tracker := timeout.NewAgentTracker(attemptCtx, ac.Spec.ID, agentBudget)
		ar := &runner.AgentRunner{
			AgentID:  ac.Spec.ID,
			Backend:  ac.Backend,
			Tools:    e.toolSpecs(),
			Dispatch: e.buildDispatcher(ac.Spec.ID, cfg),
			Bus:      e.Bus,
			Attempt:  attemptNumber,
			Governor: governor,
		}
		g.Go(func() error {
			e.runAgentLoop(agentCtx, table, ac.Spec, ar, tracker, restartReason, cfg)
			return nil
		})
	}
	_ = g.Wait()

	rows := table.Snapshot()
	winnerID, useFallback, failed := e.decide(table, rows, cfg)

	if failed {
		return state.OrchestrationAttempt{AttemptNumber: attemptNumber, Outcome: state.OutcomeFailed, FinalAnswer: "no answers available"}, "", false, nil
	}

	var finalAnswer string
	switch {
	case cfg.DebugFinalAnswer != "":
		finalAnswer = cfg.DebugFinalAnswer
	case useFallback:
		finalAnswer = fallbackSynthesis(rows, declOrder)
	default:
		e.Perm.SetWinner(winnerID, true)
		fa, err := e.present(attemptCtx, table, winnerID, rows, cfg)
		if err != nil {
			return state.OrchestrationAttempt{AttemptNumber: attemptNumber, Outcome: state.OutcomeFailed}, "", false, err
		}
		finalAnswer = fa
	}

	if winnerID != "" && !useFallback && e.restartsUsed < cfg.MaxOrchestrationRestarts {
		restart, reason := e.selfEval(attemptCtx, e.backendFor(winnerID), finalAnswer, cfg.MaxOrchestrationRestarts-e.restartsUsed)
		if restart {
			e.restartsUsed++
			return state.OrchestrationAttempt{AttemptNumber: attemptNumber, Outcome: state.OutcomeRestart, Winner: winnerID, FinalAnswer: finalAnswer}, reason, true, nil
		}
	}

	return state.OrchestrationAttempt{AttemptNumber: attemptNumber, Outcome: state.OutcomeDone, Winner: winnerID, FinalAnswer: finalAnswer}, "", false, nil
}

func (e *Engine) backendFor(agentID string) backend.Port {
	for _, a := range e.Agents {
		if a.Spec.ID == agentID {
			return a.Backend
		}
	}
	return nil
}

// runAgentLoop re-prompts agentID with the latest peer state until every
// active agent has voted, it is killed, or ctx is cancelled (agent or global
// budget exceeded). A voted agent waits; if its vote is invalidated by the
// target's next new_answer, it is re-prompted.
func (e *Engine) runAgentLoop(ctx context.Context, table *state.Table, spec state.AgentSpec, ar *runner.AgentRunner, tracker *timeout.AgentTracker, restartReason string, cfg state.Config) {
	for {
		row, ok := table.Get(spec.ID)
		if !ok || row.Status == state.StatusKilled {
			return
		}
		if row.Status == state.StatusVoted {
			if table.HasConsensus() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = table.Kill(spec.ID, state.KillTimeout)
			return
		}
		_ = table.SetStreaming(spec.ID)

		messages := e.buildMessages(table, spec, restartReason, cfg)
		outcome := ar.Run(ctx, tracker, messages)
		if outcome.Err != nil {
			reason := state.KillBackendFailure
			if ctx.Err() != nil {
				reason = state.KillTimeout
			}
			_ = table.Kill(spec.ID, reason)
			return
		}
	}
}

func (e *Engine) buildMessages(table *state.Table, spec state.AgentSpec, restartReason string, cfg state.Config) []backend.Message {
	rows := table.Snapshot()
	peers := make([]prompts.PeerAnswer, 0, len(rows))
	for _, r := range rows {
		peers = append(peers, prompts.PeerAnswer{AgentID: r.ID, Answer: r.Answer, AnswerVersion: r.AnswerVersion, Killed: r.Status == state.StatusKilled})
	}

	prompt := prompts.BuildAgentPrompt(prompts.RoundContext{
		Task:              e.Task.Prompt,
		RestartReason:     restartReason,
		SelfAgentID:       spec.ID,
		Peers:             peers,
		VotingSensitivity: cfg.VotingSensitivity,
		Phase:             prompts.PhaseRunning,
		PlanningMode:      cfg.EnablePlanningMode,
	})

	var messages []backend.Message
	if spec.SystemMessage != "" {
		messages = append(messages, backend.Message{Role: backend.RoleSystem, Text: spec.SystemMessage})
	}
	messages = append(messages, backend.Message{Role: backend.RoleUser, Text: prompt})
	return messages
}

func (e *Engine) toolSpecs() []backend.ToolSpec {
	specs := []backend.ToolSpec{control.NewAnswerSpec(), control.VoteSpec()}
	if e.Registry != nil {
		specs = append(specs, e.Registry.Specs()...)
	}
	return specs
}

// buildDispatcher returns the runner.Dispatcher for one agent: new_answer and
// vote mutate the shared AgentState table directly; every other tool call is
// routed through the registry, gated by planning mode when it writes.
func (e *Engine) buildDispatcher(agentID string, cfg state.Config) runner.Dispatcher {
	return func(ctx context.Context, call backend.ToolCall) (string, bool, bool) {
		switch call.Name {
		case "new_answer":
			return e.dispatchNewAnswer(agentID, call, cfg)
		case "vote":
			return e.dispatchVote(agentID, call)
		default:
			return e.dispatchTool(ctx, agentID, call, cfg)
		}
	}
}

func (e *Engine) dispatchNewAnswer(agentID string, call backend.ToolCall, cfg state.Config) (string, bool, bool) {
	var args control.NewAnswerArgs
	if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
		return fmt.Sprintf("invalid new_answer arguments: %v", err), true, false
	}

	table := e.Table()
	prev, _ := table.Get(agentID)
	if cfg.MaxNewAnswersPerAgent > 0 && prev.AnswerCount >= cfg.MaxNewAnswersPerAgent {
		return "you have reached the maximum number of new_answer calls allowed for this attempt", true, false
	}

	level := novelty.Level(cfg.AnswerNoveltyRequirement)
	if !novelty.Accepts(level, prev.Answer, args.Content) {
		e.broadcastEngineEvent(state.EngineNoveltyRejected, agentID, "new answer too similar to your previous answer")
		return "rejected: this answer is not sufficiently different from your previous one", true, false
	}

	result, err := table.ApplyNewAnswer(agentID, args.Content, time.Now())
	if err != nil {
		return err.Error(), true, false
	}
	if e.Workspaces != nil {
		_, _ = e.Workspaces.Snapshot(agentID, result.AnswerVersion)
	}
	for _, invalidated := range result.InvalidatedVoters {
		e.broadcastEngineEvent(state.EngineVoteInvalidated, invalidated, fmt.Sprintf("vote for %s invalidated by a new answer", agentID))
	}
	return fmt.Sprintf("accepted as answer_version %d", result.AnswerVersion), false, false
}

func (e *Engine) dispatchVote(agentID string, call backend.ToolCall) (string, bool, bool) {
	var args control.VoteArgs
	if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
		return fmt.Sprintf("invalid vote arguments: %v", err), true, false
	}
	table := e.Table()
	if err := table.ApplyVote(agentID, args.TargetAgentID, args.Reason); err != nil {
		return err.Error(), true, false
	}
	return fmt.Sprintf("vote recorded for %s", args.TargetAgentID), false, true
}

func (e *Engine) dispatchTool(ctx context.Context, agentID string, call backend.ToolCall, cfg state.Config) (string, bool, bool) {
	if e.Registry == nil || !e.Registry.Has(call.Name) {
		return fmt.Sprintf("unknown tool %q", call.Name), true, false
	}

	if cfg.EnablePlanningMode && call.Name == WriteFileToolName {
		e.mu.Lock()
		e.planned[agentID] = append(e.planned[agentID], plannedCall{ToolName: call.Name, ArgsJSON: call.ArgumentsJSON})
		e.mu.Unlock()
		return "recorded as a planned action; it will execute only if you are selected as the winner", false, false
	}

	return e.execTool(ctx, agentID, call)
}

func (e *Engine) execTool(ctx context.Context, agentID string, call backend.ToolCall) (string, bool, bool) {
	tool := e.Registry.Get(call.Name)
	var args map[string]any
	if call.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
			return fmt.Sprintf("invalid arguments: %v", err), true, false
		}
	}
	payload, err := tool.Execute(ctx, agentID, args)
	if err != nil {
		return err.Error(), true, false
	}
	return payload, false, false
}

func (e *Engine) broadcastEngineEvent(kind state.EngineEventKind, agentID, detail string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Broadcast(state.Event{AgentID: agentID, Engine: &state.EngineEvent{Kind: kind, AgentID: agentID, Detail: detail}})
}

// decide implements the §7 global-timeout branches and the normal tie-break
// path, which turn out to be the same selection rule: pick the best answer
// among non-killed agents that have one. winnerID is empty and useFallback is
// true only when every remaining answer came from a killed agent and
// cfg.EnableTimeoutFallback is set; failed is true when no agent produced any
// answer at all, or when only killed agents did and the fallback is disabled.
func (e *Engine) decide(table *state.Table, rows []state.AgentState, cfg state.Config) (winnerID string, useFallback bool, failed bool) {
	var activeWithAnswer []state.AgentState
	anyAnswer := false
	for _, r := range rows {
		if r.HasAnswer {
			anyAnswer = true
		}
		if r.Status != state.StatusKilled && r.HasAnswer {
			activeWithAnswer = append(activeWithAnswer, r)
		}
	}

	if len(activeWithAnswer) > 0 {
		return e.selectWinner(table, activeWithAnswer), false, false
	}
	if !anyAnswer {
		return "", false, true
	}
	if !cfg.EnableTimeoutFallback {
		return "", false, true
	}
	return "", true, false
}

// selectWinner applies the fixed tie-break: plurality of votes, then highest
// answer_version, then earliest first-published time, then declaration
// order. Never randomness.
func (e *Engine) selectWinner(table *state.Table, candidates []state.AgentState) string {
	ledger := table.VoteLedger()
	eligible := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		eligible[c.ID] = true
	}
	counts := make(map[string]int, len(candidates))
	for _, target := range ledger {
		if eligible[target] {
			counts[target]++
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if counts[ci.ID] != counts[cj.ID] {
			return counts[ci.ID] > counts[cj.ID]
		}
		if ci.AnswerVersion != cj.AnswerVersion {
			return ci.AnswerVersion > cj.AnswerVersion
		}
		ti, tj := ci.FirstPublished[ci.AnswerVersion], cj.FirstPublished[cj.AnswerVersion]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		pi, _ := table.DeclarationPosition(ci.ID)
		pj, _ := table.DeclarationPosition(cj.ID)
		return pi < pj
	})
	return candidates[0].ID
}

// present replays winnerID's planning-mode-recorded actions for real, then
// collects its final-presentation content stream.
func (e *Engine) present(ctx context.Context, table *state.Table, winnerID string, rows []state.AgentState, cfg state.Config) (string, error) {
	e.mu.Lock()
	calls := append([]plannedCall(nil), e.planned[winnerID]...)
	e.mu.Unlock()
	for _, pc := range calls {
		// Replay failures do not abort Presenting; the winner's final text
		// still stands even if a planned write could not be replayed.
		call := backend.ToolCall{Name: pc.ToolName, ArgumentsJSON: pc.ArgsJSON}
		_, _, _ = e.execTool(ctx, winnerID, call)
	}

	peers := make([]prompts.PeerAnswer, 0, len(rows))
	for _, r := range rows {
		peers = append(peers, prompts.PeerAnswer{AgentID: r.ID, Answer: r.Answer, AnswerVersion: r.AnswerVersion, Killed: r.Status == state.StatusKilled})
	}
	prompt := prompts.BuildPresentationPrompt(prompts.RoundContext{
		Task:         e.Task.Prompt,
		Peers:        peers,
		Phase:        prompts.PhasePresenting,
		PlanningMode: cfg.EnablePlanningMode,
		VoteSummary:  voteSummary(table),
	})

	backendPort := e.backendFor(winnerID)
	if backendPort == nil {
		return "", fmt.Errorf("coordination: no backend registered for winner %s", winnerID)
	}
	// Presenting's tools are unfiltered: the winner keeps full tool access,
	// the same set it had during Running, not none.
	chunks, err := backendPort.Stream(ctx, []backend.Message{{Role: backend.RoleUser, Text: prompt}}, e.toolSpecs())
	if err != nil {
		return "", fmt.Errorf("coordination: presentation stream: %w", err)
	}
	var sb strings.Builder
	for c := range chunks {
		if content, ok := c.(backend.ContentChunk); ok {
			sb.WriteString(content.Text)
		}
	}

	e.finalizeWinnerToContextPaths(winnerID)

	return sb.String(), nil
}

// finalizeWinnerToContextPaths delivers winnerID's workspace contents into
// every Write-permitted context path. This is the only way a winner's files
// count as delivered: contents left in an agent's own workspace, however they
// got there (direct writes, a backend with native filesystem support), are
// never visible outside that workspace except through this copy-out.
func (e *Engine) finalizeWinnerToContextPaths(winnerID string) {
	if e.Workspaces == nil {
		return
	}
	for _, cp := range e.Task.ContextPaths {
		if !cp.Writable {
			continue
		}
		protected := cp.ProtectedSubpaths
		err := e.Workspaces.Finalize(winnerID, []string{cp.Path}, func(rel string) bool {
			for _, p := range protected {
				if rel == filepath.Clean(p) || strings.HasPrefix(rel, filepath.Clean(p)+string(filepath.Separator)) {
					return true
				}
			}
			return false
		})
		if err != nil {
			e.broadcastEngineEvent(state.EngineFinalizeFailed, winnerID, err.Error())
		}
	}
}

func voteSummary(table *state.Table) string {
	ledger := table.VoteLedger()
	if len(ledger) == 0 {
		return ""
	}
	var lines []string
	for voter, target := range ledger {
		lines = append(lines, fmt.Sprintf("  - %s voted for %s", voter, target))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// selfEval asks the winner to self-evaluate the final answer; it returns
// true and a restart reason when the winner calls restart, false when it
// calls submit or the stream ends without a recognized tool call.
func (e *Engine) selfEval(ctx context.Context, backendPort backend.Port, finalAnswer string, restartsRemaining int) (bool, string) {
	if backendPort == nil {
		return false, ""
	}
	prompt := prompts.BuildSelfEvalPrompt(finalAnswer, restartsRemaining)
	tools := []backend.ToolSpec{
		{Name: "submit", Description: "Accept the final answer as-is."},
		{Name: "restart", Description: "Request another attempt with an improvement instruction.", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"reason": map[string]any{"type": "string"}},
			"required":   []string{"reason"},
		}},
	}
	chunks, err := backendPort.Stream(ctx, []backend.Message{{Role: backend.RoleUser, Text: prompt}}, tools)
	if err != nil {
		return false, ""
	}
	for c := range chunks {
		if tc, ok := c.(backend.ToolCallChunk); ok && tc.Name == "restart" {
			var args struct {
				Reason string `json:"reason"`
			}
			_ = json.Unmarshal([]byte(tc.ArgumentsJSON), &args)
			return true, args.Reason
		}
	}
	return false, ""
}

// fallbackSynthesis deterministically composes a labeled, orchestrator-
// generated summary from every agent's latest answer, in declaration order.
func fallbackSynthesis(rows []state.AgentState, declOrder []string) string {
	byID := make(map[string]state.AgentState, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	var sb strings.Builder
	sb.WriteString("[orchestrator-generated fallback summary: no agent reached consensus before the global timeout]\n")
	for _, id := range declOrder {
		row, ok := byID[id]
		if !ok || !row.HasAnswer {
			continue
		}
		answer := row.Answer
		const maxLen = 500
		if len(answer) > maxLen {
			answer = answer[:maxLen] + "..."
		}
		sb.WriteString(fmt.Sprintf("\n- %s: %s", id, answer))
	}
	return sb.String()
}
