package coordination

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/backend/backendtest"
	"github.com/2389-research/massgen/control"
	"github.com/2389-research/massgen/permission"
	"github.com/2389-research/massgen/state"
	"github.com/2389-research/massgen/workspace"
)

func newAnswerArgsJSON(t *testing.T, content string) string {
	t.Helper()
	raw, err := json.Marshal(control.NewAnswerArgs{Content: content})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func voteArgsJSON(t *testing.T, target, reason string) string {
	t.Helper()
	raw, err := json.Marshal(control.VoteArgs{TargetAgentID: target, Reason: reason})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

// TestDispatchNewAnswerInvalidatesPeerVoteAndBroadcasts proves the engine's
// own wiring for vote invalidation: updating a target's answer clears a
// pending voter's vote in the shared table and broadcasts an engine event
// naming that voter, driven directly through dispatchNewAnswer/dispatchVote
// in a fixed sequence so the assertion does not depend on goroutine timing.
func TestDispatchNewAnswerInvalidatesPeerVoteAndBroadcasts(t *testing.T) {
	e := &Engine{
		Task: state.Task{ID: "t", Prompt: "p", Config: state.DefaultConfig()},
		Bus:  state.NewBus(),
	}
	e.table = state.NewTable([]string{"a1", "a2"})
	cfg := e.Task.Config

	sub := e.Bus.Subscribe()
	defer e.Bus.Unsubscribe(sub)

	if payload, isErr, _ := e.dispatchNewAnswer("a2", backend.ToolCall{Name: "new_answer", ArgumentsJSON: newAnswerArgsJSON(t, "a2's first answer")}, cfg); isErr {
		t.Fatalf("a2 new_answer rejected: %s", payload)
	}
	if payload, isErr, stop := e.dispatchVote("a1", backend.ToolCall{Name: "vote", ArgumentsJSON: voteArgsJSON(t, "a2", "looks right")}); isErr || !stop {
		t.Fatalf("a1 vote for a2 rejected or did not stop: %s isErr=%v stop=%v", payload, isErr, stop)
	}

	row, _ := e.Table().Get("a1")
	if row.Status != state.StatusVoted || row.Vote == nil || row.Vote.Target != "a2" {
		t.Fatalf("a1 row after voting = %+v, want Voted for a2", row)
	}

	if payload, isErr, _ := e.dispatchNewAnswer("a2", backend.ToolCall{Name: "new_answer", ArgumentsJSON: newAnswerArgsJSON(t, "a2's revised, quite different answer about something else entirely")}, cfg); isErr {
		t.Fatalf("a2 revised new_answer rejected: %s", payload)
	}

	row, _ = e.Table().Get("a1")
	if row.Vote != nil {
		t.Fatalf("a1's vote = %+v, want nil after a2 updated its answer", row.Vote)
	}
	if row.Status == state.StatusVoted {
		t.Fatalf("a1 status = %v, want it no longer Voted after invalidation", row.Status)
	}

	found := false
	for {
		select {
		case ev := <-sub:
			if ev.Engine != nil && ev.Engine.Kind == state.EngineVoteInvalidated && ev.Engine.AgentID == "a1" {
				found = true
			}
			continue
		default:
		}
		break
	}
	if !found {
		t.Fatalf("expected an EngineVoteInvalidated event naming a1 on the bus")
	}
}

// TestDispatchToolDefersPlanningModeWriteUntilPresentReplaysIt proves planning
// mode's gate directly: a write_file call made while planning mode is active
// is recorded rather than touching disk, and only takes effect once present
// replays it for the selected winner.
func TestDispatchToolDefersPlanningModeWriteUntilPresentReplaysIt(t *testing.T) {
	perm := permission.NewManager(nil)
	workspacesRoot := t.TempDir()
	ws := workspace.NewManager(workspacesRoot, t.TempDir())
	registry := control.NewRegistry()
	if err := registry.RegisterCaller(NewWriteFileTool(perm)); err != nil {
		t.Fatalf("RegisterCaller: %v", err)
	}

	if _, err := ws.Ensure("a1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	perm.RegisterWorkspace("a1", filepath.Join(workspacesRoot, "a1"))

	backendPort := backendtest.New("a1", backendtest.Turn{Chunks: []backend.Chunk{backend.ContentChunk{Text: "presented"}}})
	e := &Engine{
		Task:       state.Task{ID: "t", Prompt: "p", Config: state.DefaultConfig()},
		Agents:     []AgentConfig{{Spec: state.AgentSpec{ID: "a1"}, Backend: backendPort}},
		Perm:       perm,
		Workspaces: ws,
		Registry:   registry,
	}
	e.table = state.NewTable([]string{"a1"})
	e.planned = make(map[string][]plannedCall)
	cfg := e.Task.Config
	cfg.EnablePlanningMode = true

	notePath := filepath.Join(workspacesRoot, "a1", "notes.txt")
	argsJSON, err := json.Marshal(map[string]string{"path": notePath, "content": "deferred write"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	call := backend.ToolCall{Name: WriteFileToolName, ArgumentsJSON: string(argsJSON)}

	payload, isErr, stop := e.dispatchTool(context.Background(), "a1", call, cfg)
	if isErr || stop {
		t.Fatalf("dispatchTool during planning mode: payload=%q isErr=%v stop=%v", payload, isErr, stop)
	}
	if _, err := os.Stat(notePath); !os.IsNotExist(err) {
		t.Fatalf("expected %s not to exist yet, stat err = %v", notePath, err)
	}

	e.Perm.SetWinner("a1", true)
	finalAnswer, err := e.present(context.Background(), e.table, "a1", e.table.Snapshot(), cfg)
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	if finalAnswer != "presented" {
		t.Fatalf("finalAnswer = %q, want %q", finalAnswer, "presented")
	}

	data, err := os.ReadFile(notePath)
	if err != nil {
		t.Fatalf("expected present to have replayed the write: %v", err)
	}
	if string(data) != "deferred write" {
		t.Fatalf("note contents = %q, want %q", data, "deferred write")
	}
}
