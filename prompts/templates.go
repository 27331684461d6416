// Package prompts implements MessageTemplates: a pure function from (task,
// peer answers, vote state, phase) to the next prompt for a given agent.
//
// Built from a section-assembly style: a fixed set of named sections
// (round state, peer answers, vote tally, phase instructions) concatenated
// into one prompt string, plus a per-role constant-prompt idiom for the
// fixed system-prompt building blocks below.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2389-research/massgen/state"
)

// PeerAnswer is one agent's current answer as seen from another agent's
// prompt, including whether that agent has since been killed (a killed
// agent's answer remains visible to the eventual winner).
type PeerAnswer struct {
	AgentID       string
	Answer        string
	AnswerVersion int
	Killed        bool
}

// Phase identifies which round phase a prompt is being built for.
type Phase string

const (
	PhaseRunning     Phase = "running"
	PhasePresenting  Phase = "presenting"
	PhaseSelfEval    Phase = "self_eval"
)

// RoundContext is everything MessageTemplates needs to build one agent's next
// prompt.
type RoundContext struct {
	Task              string
	RestartReason     string // appended when this attempt followed a restart
	SelfAgentID       string
	Peers             []PeerAnswer // includes SelfAgentID's own row when present
	VotingSensitivity state.VotingSensitivity
	Phase             Phase
	PlanningMode      bool
	PlanningNotice    string // set when a tool call was intercepted and converted to a planned action
	NoveltyFeedback   string // set when the agent's last new_answer was rejected by the novelty gate
	VoteFeedback      string // set when the agent's last vote call was invalid
	VoteSummary       string // set for Presenting: a rendering of the final vote ledger
}

// BuildAgentPrompt builds the next user-turn prompt for one agent mid-Running:
// task, restart reason, every peer's current answer except the agent's own,
// voting guidance, and the planning and feedback notices that are set. It
// does not render ctx.VoteSummary or ctx.Phase, so the vote ledger is not
// shown to agents during Running.
func BuildAgentPrompt(ctx RoundContext) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Task: %s", ctx.Task))
	if ctx.RestartReason != "" {
		parts = append(parts, fmt.Sprintf("This is a restarted attempt. Prior feedback: %s", ctx.RestartReason))
	}

	if peers := describePeers(ctx.Peers, ctx.SelfAgentID); peers != "" {
		parts = append(parts, fmt.Sprintf("Peer answers so far:\n%s", peers))
	} else {
		parts = append(parts, "No peer answers have been submitted yet.")
	}

	parts = append(parts, votingSensitivityGuidance(ctx.VotingSensitivity))

	if ctx.PlanningMode {
		parts = append(parts, planningModeGuidance())
	}
	if ctx.PlanningNotice != "" {
		parts = append(parts, fmt.Sprintf("Planned action recorded (will execute only if you win): %s", ctx.PlanningNotice))
	}
	if ctx.NoveltyFeedback != "" {
		parts = append(parts, fmt.Sprintf("Your last new_answer was rejected: %s", ctx.NoveltyFeedback))
	}
	if ctx.VoteFeedback != "" {
		parts = append(parts, fmt.Sprintf("Your last vote call was rejected: %s", ctx.VoteFeedback))
	}

	parts = append(parts, "Call new_answer to submit or update your candidate answer, or vote to finalize your participation once you believe another agent's answer should win.")

	return strings.Join(parts, "\n\n")
}

// BuildPresentationPrompt builds the winner's final-presentation prompt: the
// full vote summary and all peer answers, including killed agents'.
func BuildPresentationPrompt(ctx RoundContext) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Task: %s", ctx.Task))
	parts = append(parts, "You were selected as the winner. Produce the final answer for the task.")
	if ctx.VoteSummary != "" {
		parts = append(parts, fmt.Sprintf("Vote summary:\n%s", ctx.VoteSummary))
	}
	if peers := describePeers(ctx.Peers, ""); peers != "" {
		parts = append(parts, fmt.Sprintf("All submitted answers (including any killed agents'):\n%s", peers))
	}
	if !ctx.PlanningMode {
		return strings.Join(parts, "\n\n")
	}
	parts = append(parts, "Planning mode has ended. Any writes you attempted during Running are now unfiltered: repeat them now if they are still appropriate.")
	return strings.Join(parts, "\n\n")
}

// BuildSelfEvalPrompt builds the restart-gate self-evaluation prompt.
func BuildSelfEvalPrompt(finalAnswer string, restartsRemaining int) string {
	return fmt.Sprintf(
		"Your final answer was:\n\n%s\n\nReview it critically. If it fully satisfies the task, call submit. "+
			"If it does not, call restart(reason) with a specific improvement instruction. "+
			"%d restart(s) remain for this task.",
		finalAnswer, restartsRemaining,
	)
}

func describePeers(peers []PeerAnswer, excludeSelf string) string {
	sorted := append([]PeerAnswer(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	var lines []string
	for _, p := range sorted {
		if p.AgentID == excludeSelf {
			continue
		}
		if !hasAnswer(p) {
			continue
		}
		status := ""
		if p.Killed {
			status = " [killed, answer retained as context]"
		}
		lines = append(lines, fmt.Sprintf("  - %s (v%d)%s: %s", p.AgentID, p.AnswerVersion, status, p.Answer))
	}
	return strings.Join(lines, "\n")
}

func hasAnswer(p PeerAnswer) bool {
	return p.Answer != ""
}

func votingSensitivityGuidance(level state.VotingSensitivity) string {
	switch level {
	case state.SensitivityStrict:
		return "Voting guidance: vote only once you are confident a specific answer is clearly best; hold out for real quality differences."
	case state.SensitivityBalanced:
		return "Voting guidance: vote once an answer is solidly correct and complete, without demanding perfection."
	default:
		return "Voting guidance: vote as soon as any answer reasonably satisfies the task."
	}
}

func planningModeGuidance() string {
	return "Planning mode is active: side-effectful tool calls will be recorded as planned actions, not executed, until a winner is selected."
}
