package runner_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/backend/backendtest"
	"github.com/2389-research/massgen/control"
	"github.com/2389-research/massgen/runner"
	"github.com/2389-research/massgen/state"
)

func fastRetry() runner.RetryPolicy {
	return runner.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 1.5}
}

// votingDispatcher simulates the engine: new_answer always succeeds and
// continues the stream; vote always succeeds and stops the runner.
func votingDispatcher(calls *[]string) runner.Dispatcher {
	return func(_ context.Context, call backend.ToolCall) (string, bool, bool) {
		*calls = append(*calls, call.Name)
		switch call.Name {
		case "new_answer":
			var args control.NewAnswerArgs
			_ = json.Unmarshal([]byte(call.ArgumentsJSON), &args)
			return "accepted", false, false
		case "vote":
			return "recorded", false, true
		default:
			return "unknown tool", true, false
		}
	}
}

func TestRunDrivesToolCallsToCompletion(t *testing.T) {
	backendPort := backendtest.New("scripted",
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ToolCallChunk{ID: "1", Name: "new_answer", ArgumentsJSON: `{"content":"42"}`},
			backend.EndChunk{Reason: backend.EndTool},
		}},
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ToolCallChunk{ID: "2", Name: "vote", ArgumentsJSON: `{"target_agent_id":"a2","reason":"clearer"}`},
		}},
	)

	var calls []string
	r := &runner.AgentRunner{
		AgentID:  "a1",
		Backend:  backendPort,
		Dispatch: votingDispatcher(&calls),
		Attempt:  1,
		Retry:    fastRetry(),
	}

	outcome := r.Run(context.Background(), nil, []backend.Message{{Role: backend.RoleUser, Text: "go"}})
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Reason != backend.EndTool {
		t.Fatalf("Reason = %q, want %q", outcome.Reason, backend.EndTool)
	}
	if len(calls) != 2 || calls[0] != "new_answer" || calls[1] != "vote" {
		t.Fatalf("calls = %v, want [new_answer vote]", calls)
	}
}

func TestRunRetriesTransientErrorThenSucceeds(t *testing.T) {
	backendPort := backendtest.New("flaky",
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ErrorChunk{Kind: "transient", Message: "rate limited"},
		}},
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ContentChunk{Text: "recovered"},
			backend.EndChunk{Reason: backend.EndStop},
		}},
	)

	r := &runner.AgentRunner{
		AgentID: "a1",
		Backend: backendPort,
		Dispatch: func(context.Context, backend.ToolCall) (string, bool, bool) {
			t.Fatal("no tool calls expected")
			return "", false, false
		},
		Retry: fastRetry(),
	}

	outcome := r.Run(context.Background(), nil, nil)
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Reason != backend.EndStop {
		t.Fatalf("Reason = %q, want %q", outcome.Reason, backend.EndStop)
	}
}

func TestRunReturnsErrorOnFatalBackendFailure(t *testing.T) {
	backendPort := backendtest.New("broken",
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ErrorChunk{Kind: "backend_fatal", Message: "invalid api key"},
		}},
	)

	r := &runner.AgentRunner{AgentID: "a1", Backend: backendPort, Retry: fastRetry()}

	outcome := r.Run(context.Background(), nil, nil)
	if outcome.Reason != backend.EndError {
		t.Fatalf("Reason = %q, want %q", outcome.Reason, backend.EndError)
	}
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "invalid api key") {
		t.Fatalf("Err = %v, want it to mention the backend message", outcome.Err)
	}
}

func TestRunEmitsChunksAttributedToAgentAndAttempt(t *testing.T) {
	backendPort := backendtest.New("scripted",
		backendtest.Turn{Chunks: []backend.Chunk{
			backend.ContentChunk{Text: "hi"},
			backend.EndChunk{Reason: backend.EndStop},
		}},
	)

	bus := state.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	r := &runner.AgentRunner{AgentID: "a1", Backend: backendPort, Bus: bus, Attempt: 3, Retry: fastRetry()}
	if outcome := r.Run(context.Background(), nil, nil); outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}

	var got []state.Event
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for bus events, got %d", len(got))
		}
	}
	for _, ev := range got {
		if ev.AgentID != "a1" || ev.AttemptNumber != 3 {
			t.Fatalf("event misattributed: %+v", ev)
		}
	}
}

func TestRunCancellationStopsPromptly(t *testing.T) {
	backendPort := backendtest.New("blocked", backendtest.Turn{Block: true})

	r := &runner.AgentRunner{AgentID: "a1", Backend: backendPort, Retry: fastRetry()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := r.Run(ctx, nil, nil)
	if outcome.Reason != backend.EndError {
		t.Fatalf("Reason = %q, want %q", outcome.Reason, backend.EndError)
	}
}
