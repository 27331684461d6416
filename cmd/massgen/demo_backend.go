// ABOUTME: A deterministic stand-in backend.Port for the massgen demo CLI.
// ABOUTME: Real provider adapters are an external concern; this is the stub swapped in when none is wired.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389-research/massgen/backend"
)

// stubBackend answers once with a canned perspective on the task prompt, then
// votes for the first peer in its roster that isn't itself. It never calls
// out to a real LLM; it exists so `massgen` can demonstrate the coordination
// engine's round/vote/present flow without an API key configured. A real
// deployment supplies its own backend.Port (an HTTP/SDK client for a
// provider) in place of this one.
//
// It records the prompt and returns a canned answer and vote instead of
// placing a real API call.
type stubBackend struct {
	agentID string
	prompt  string
	roster  []string

	calls int
}

func newStubBackend(agentID, prompt string, roster []string) *stubBackend {
	return &stubBackend{agentID: agentID, prompt: prompt, roster: roster}
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) FilesystemSupport() backend.FilesystemSupport {
	return backend.FilesystemNone
}

func (s *stubBackend) Stream(ctx context.Context, messages []backend.Message, tools []backend.ToolSpec) (<-chan backend.Chunk, error) {
	ch := make(chan backend.Chunk, 4)

	var chunks []backend.Chunk
	switch s.calls {
	case 0:
		chunks = s.answerChunks()
	default:
		chunks = s.voteChunks()
	}
	s.calls++

	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (s *stubBackend) answerChunks() []backend.Chunk {
	content := fmt.Sprintf("[%s] A candidate answer to: %s", s.agentID, s.prompt)
	args, _ := json.Marshal(map[string]string{"content": content})
	return []backend.Chunk{
		backend.ContentChunk{Text: "thinking it over...\n"},
		backend.UsageChunk{InputTokens: 20, OutputTokens: 20},
		backend.ToolCallChunk{ID: s.agentID + "-answer", Name: "new_answer", ArgumentsJSON: string(args)},
		backend.EndChunk{Reason: backend.EndTool},
	}
}

func (s *stubBackend) voteChunks() []backend.Chunk {
	target := s.votingTarget()
	args, _ := json.Marshal(map[string]string{"target_agent_id": target, "reason": "most complete candidate answer"})
	return []backend.Chunk{
		backend.ContentChunk{Text: "comparing peer answers...\n"},
		backend.UsageChunk{InputTokens: 15, OutputTokens: 10},
		backend.ToolCallChunk{ID: s.agentID + "-vote", Name: "vote", ArgumentsJSON: string(args)},
		backend.EndChunk{Reason: backend.EndTool},
	}
}

// votingTarget picks the first roster member that isn't this agent, since
// self-voting is forbidden.
func (s *stubBackend) votingTarget() string {
	for _, id := range s.roster {
		if id != s.agentID {
			return id
		}
	}
	return s.agentID
}
