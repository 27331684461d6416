package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/2389-research/massgen/internal/ordered"
)

// Status is the lifecycle state of one agent within an attempt.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusStreaming       Status = "streaming"
	StatusAnsweredWaiting Status = "answered_waiting"
	StatusVoted           Status = "voted"
	StatusKilled          Status = "killed"
)

// KillReason classifies why an agent was killed.
type KillReason string

const (
	KillBackendFailure KillReason = "backend_failure"
	KillTimeout        KillReason = "timeout"
)

// Vote records one agent's vote.
type Vote struct {
	Target AgentId
	Reason string
}

// AgentId is an opaque string identifying one agent within a Task.
type AgentId = string

// AgentState is one row in the engine's AgentState table.
type AgentState struct {
	ID              AgentId
	Status          Status
	Answer          string
	HasAnswer       bool
	AnswerVersion   int
	AnswerCount     int
	FirstPublished  map[int]time.Time // answer_version -> time it was first set
	Vote            *Vote
	TokensUsed      int
	KilledReason    KillReason
}

// Table is the engine's AgentState table: one row per configured agent,
// indexed by AgentId, with iteration available in stable agent-declaration
// order, matching the tie-break rule's declaration-order fallback.
//
// Adapted from spec/core/state.go's Apply(event)-as-reducer pattern: Table
// does not expose direct field mutation, only named operations that enforce
// its own invariants as they go.
type Table struct {
	mu             sync.Mutex
	rows           map[AgentId]*AgentState
	declarationOrd *ordered.Set[AgentId]
}

// NewTable creates a Table with one Idle row per id in declOrder, in the
// given declaration order.
func NewTable(declOrder []AgentId) *Table {
	t := &Table{
		rows:           make(map[AgentId]*AgentState, len(declOrder)),
		declarationOrd: ordered.NewSet[AgentId](),
	}
	for _, id := range declOrder {
		t.declarationOrd.Add(id)
		t.rows[id] = &AgentState{ID: id, Status: StatusIdle, FirstPublished: make(map[int]time.Time)}
	}
	return t
}

// DeclarationOrder returns every agent id in the order they were declared.
func (t *Table) DeclarationOrder() []AgentId {
	return t.declarationOrd.Keys()
}

// DeclarationPosition returns id's zero-based declaration order index.
func (t *Table) DeclarationPosition(id AgentId) (int, bool) {
	return t.declarationOrd.Position(id)
}

// Get returns a copy of agent id's current state, for prompt construction and
// read-only inspection. Callers must not mutate Vote through the returned
// pointer's aliasing; Get deep-copies Vote.
func (t *Table) Get(id AgentId) (AgentState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return AgentState{}, false
	}
	return cloneRow(row), true
}

// Snapshot returns a copy of every row, in declaration order.
func (t *Table) Snapshot() []AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AgentState, 0, len(t.rows))
	for _, id := range t.declarationOrd.Keys() {
		out = append(out, cloneRow(t.rows[id]))
	}
	return out
}

func cloneRow(row *AgentState) AgentState {
	cp := *row
	if row.Vote != nil {
		v := *row.Vote
		cp.Vote = &v
	}
	cp.FirstPublished = make(map[int]time.Time, len(row.FirstPublished))
	for k, v := range row.FirstPublished {
		cp.FirstPublished[k] = v
	}
	return cp
}

// SetStreaming transitions id to Streaming. No-op validation beyond existence:
// any non-terminal agent may stream.
func (t *Table) SetStreaming(id AgentId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("state: unknown agent %q", id)
	}
	if row.Status == StatusKilled {
		return fmt.Errorf("state: agent %q is killed", id)
	}
	row.Status = StatusStreaming
	return nil
}

// ApplyNewAnswerResult is the set of side effects applying a new_answer
// produces, so coordination.Engine can act on them (re-prompt invalidated
// voters, take a workspace snapshot) without re-deriving them.
type ApplyNewAnswerResult struct {
	AnswerVersion     int
	InvalidatedVoters []AgentId
}

// ApplyNewAnswer records agent id's new answer content: bumps
// answer_version, increments answer_count, sets status to
// AnsweredWaiting, and invalidates any pending vote cast for id by another
// active agent. Novelty gating and the max_new_answers_per_agent cap are
// enforced by the caller (coordination.Engine) before calling ApplyNewAnswer,
// since both require non-state context (the previous answer text, config).
func (t *Table) ApplyNewAnswer(id AgentId, content string, now time.Time) (ApplyNewAnswerResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return ApplyNewAnswerResult{}, fmt.Errorf("state: unknown agent %q", id)
	}
	if row.Status == StatusKilled {
		return ApplyNewAnswerResult{}, fmt.Errorf("state: agent %q is killed", id)
	}

	row.Answer = content
	row.HasAnswer = true
	row.AnswerVersion++
	row.AnswerCount++
	row.FirstPublished[row.AnswerVersion] = now
	row.Status = StatusAnsweredWaiting

	var invalidated []AgentId
	for _, otherID := range t.declarationOrd.Keys() {
		if otherID == id {
			continue
		}
		other := t.rows[otherID]
		if other.Vote != nil && other.Vote.Target == id {
			other.Vote = nil
			if other.Status == StatusVoted {
				other.Status = StatusAnsweredWaiting
				if !other.HasAnswer {
					other.Status = StatusStreaming
				}
			}
			invalidated = append(invalidated, otherID)
		}
	}

	return ApplyNewAnswerResult{AnswerVersion: row.AnswerVersion, InvalidatedVoters: invalidated}, nil
}

// ApplyVote records agent id's vote for target. It validates the vote itself
// (id exists and is not killed; target exists, is not killed, has an answer,
// and is not id) and returns an error, recording nothing, when a check fails;
// the engine returns that error to the agent as a failed tool result.
func (t *Table) ApplyVote(id AgentId, target AgentId, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("state: unknown agent %q", id)
	}
	if row.Status == StatusKilled {
		return fmt.Errorf("state: agent %q is killed", id)
	}
	if id == target {
		return fmt.Errorf("state: agent %q may not vote for itself", id)
	}
	targetRow, ok := t.rows[target]
	if !ok {
		return fmt.Errorf("state: vote target %q does not exist", target)
	}
	if targetRow.Status == StatusKilled {
		return fmt.Errorf("state: vote target %q is killed", target)
	}
	if !targetRow.HasAnswer {
		return fmt.Errorf("state: vote target %q has no answer", target)
	}

	row.Vote = &Vote{Target: target, Reason: reason}
	row.Status = StatusVoted
	return nil
}

// Kill marks id Killed with reason. A killed agent's latest answer remains
// visible as context but is no longer a valid vote target.
func (t *Table) Kill(id AgentId, reason KillReason) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("state: unknown agent %q", id)
	}
	row.Status = StatusKilled
	row.KilledReason = reason
	return nil
}

// AddTokens accumulates tokens_used for id.
func (t *Table) AddTokens(id AgentId, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row, ok := t.rows[id]; ok {
		row.TokensUsed += n
	}
}

// HasConsensus reports whether every non-Killed agent has Voted. An active
// agent that has no legal vote target (for example the only active agent)
// does not count as settled, so HasConsensus stays false while it is active.
func (t *Table) HasConsensus() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.declarationOrd.Keys() {
		row := t.rows[id]
		if row.Status == StatusKilled {
			continue
		}
		if row.Status != StatusVoted {
			return false
		}
	}
	return true
}

// VoteLedger derives the voter->target mapping from active agents' recorded
// votes.
func (t *Table) VoteLedger() map[AgentId]AgentId {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[AgentId]AgentId)
	for _, id := range t.declarationOrd.Keys() {
		row := t.rows[id]
		if row.Vote != nil {
			out[id] = row.Vote.Target
		}
	}
	return out
}
