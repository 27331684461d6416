package control

import "github.com/2389-research/massgen/backend"

// NewAnswerSpec is the backend-facing schema for the new_answer control
// tool. No Tool is registered for it: coordination.Engine's dispatcher
// handles new_answer calls itself, since applying a new answer mutates the
// state table the control package does not own.
func NewAnswerSpec() backend.ToolSpec {
	return backend.ToolSpec{
		Name:        "new_answer",
		Description: "Commit a candidate answer to the shared task. Replaces any answer you previously submitted.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The full candidate answer text.",
				},
			},
			"required": []string{"content"},
		},
	}
}

// VoteSpec is the backend-facing schema for the vote control tool.
func VoteSpec() backend.ToolSpec {
	return backend.ToolSpec{
		Name:        "vote",
		Description: "Cast your final vote for the agent whose answer should win. Ends your participation in this attempt.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target_agent_id": map[string]any{
					"type":        "string",
					"description": "The agent_id of the answer you are voting for. Must not be your own.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "A brief justification for this vote.",
				},
			},
			"required": []string{"target_agent_id", "reason"},
		},
	}
}

// NewAnswerArgs is the decoded argument shape for new_answer.
type NewAnswerArgs struct {
	Content string `json:"content"`
}

// VoteArgs is the decoded argument shape for vote.
type VoteArgs struct {
	TargetAgentID string `json:"target_agent_id"`
	Reason        string `json:"reason"`
}
