package prompts_test

import (
	"strings"
	"testing"

	"github.com/2389-research/massgen/prompts"
	"github.com/2389-research/massgen/state"
)

func TestBuildAgentPromptIncludesPeerAnswersExcludingSelf(t *testing.T) {
	ctx := prompts.RoundContext{
		Task:        "write a haiku",
		SelfAgentID: "a1",
		Peers: []prompts.PeerAnswer{
			{AgentID: "a1", Answer: "mine", AnswerVersion: 1},
			{AgentID: "a2", Answer: "peer answer", AnswerVersion: 1},
		},
		VotingSensitivity: state.SensitivityBalanced,
	}
	got := prompts.BuildAgentPrompt(ctx)
	if strings.Contains(got, "mine") {
		t.Fatalf("prompt included the agent's own answer, want excluded")
	}
	if !strings.Contains(got, "peer answer") {
		t.Fatalf("prompt missing peer answer")
	}
}

func TestBuildPresentationPromptIncludesKilledPeers(t *testing.T) {
	ctx := prompts.RoundContext{
		Task: "task",
		Peers: []prompts.PeerAnswer{
			{AgentID: "a1", Answer: "killed agent's answer", AnswerVersion: 1, Killed: true},
		},
	}
	got := prompts.BuildPresentationPrompt(ctx)
	if !strings.Contains(got, "killed agent's answer") {
		t.Fatalf("presentation prompt omitted a killed agent's answer, want included per spec")
	}
}

func TestBuildAgentPromptSurfacesNoveltyFeedback(t *testing.T) {
	ctx := prompts.RoundContext{Task: "t", NoveltyFeedback: "too similar to your previous answer"}
	got := prompts.BuildAgentPrompt(ctx)
	if !strings.Contains(got, "too similar to your previous answer") {
		t.Fatalf("prompt missing novelty rejection feedback")
	}
}
