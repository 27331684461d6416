// Package runner implements AgentRunner: drives one backend Port through a
// sequence of Stream calls to completion, attributing every
// chunk to one agent_id, dispatching non-control tool calls, retrying
// transient backend failures with backoff, and guaranteeing exactly one
// terminal event per Run call.
//
// The core loop follows a "drain a response, execute tool calls, feed
// results back, loop" shape built around a streamed backend.Port.Stream()
// call rather than a single blocking completion, paired with an
// exponential-backoff retry helper narrowed to the one thing AgentRunner
// retries: a failed or transiently-erroring Stream call.
package runner

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/state"
	"github.com/2389-research/massgen/timeout"
)

// Dispatcher routes one tool call dispatched mid-stream to its handler. It
// returns the payload to report back to the backend as a ToolResultChunk,
// whether that payload represents an error, and whether the runner must stop
// driving this agent once the result has been reported (set when a vote call
// commits the agent's participation for this attempt).
//
// Dispatch is supplied by coordination.Engine, not this package: applying
// new_answer/vote requires the engine's state lock, and a runner only ever
// holds an agent id and a handle to the bus, never the lock itself.
type Dispatcher func(ctx context.Context, call backend.ToolCall) (payload string, isError bool, stop bool)

// RetryPolicy configures how Run retries a Stream call that fails outright or
// yields a transient ErrorChunk.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy is a conservative default: 2 retries, 1s base delay,
// 60s cap, 2x backoff multiplier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 2.0}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Outcome is the one terminal result of a Run call.
type Outcome struct {
	Reason backend.EndReason
	Err    error // non-nil only when Reason == EndError
}

// AgentRunner drives one agent's backend through one coordination step.
type AgentRunner struct {
	AgentID       string
	Backend       backend.Port
	Tools         []backend.ToolSpec
	Dispatch      Dispatcher
	Bus           *state.Bus
	Attempt       int
	Retry         RetryPolicy
	MaxToolRounds int // safety cap on tool-call round trips within one Run
	Governor      *timeout.Governor // shared across every agent in the attempt; receives the same token counts as tracker
}

// Run drives messages through r.Backend until a non-tool terminal chunk, a
// stop-triggering tool call (a vote committed via Dispatch), a
// budget cancellation, or retry exhaustion. It emits every chunk to r.Bus,
// attributed to r.AgentID and r.Attempt, before returning.
func (r *AgentRunner) Run(ctx context.Context, tracker *timeout.AgentTracker, messages []backend.Message) Outcome {
	maxRounds := r.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 50
	}

	policy := r.Retry
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}
	transientAttempts := 0

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return r.terminate(backend.EndChunk{Reason: backend.EndError}, err)
		}

		chunks, streamErr := r.streamWithRetry(ctx, messages)
		if streamErr != nil {
			return r.terminate(backend.ErrorChunk{Kind: "backend_fatal", Message: streamErr.Error()}, streamErr)
		}

		outcome, nextMessages, action := r.drain(ctx, tracker, messages, chunks)
		switch action {
		case actionDone:
			return outcome
		case actionContinueTool:
			messages = nextMessages
			transientAttempts = 0
		case actionRetryTransient:
			if transientAttempts >= policy.MaxRetries {
				err := fmt.Errorf("runner: agent %s exhausted transient-error retries", r.AgentID)
				return r.terminate(backend.ErrorChunk{Kind: "backend_fatal", Message: err.Error()}, err)
			}
			select {
			case <-ctx.Done():
				return r.terminate(backend.EndChunk{Reason: backend.EndError}, ctx.Err())
			case <-time.After(policy.delay(transientAttempts)):
			}
			transientAttempts++
			round-- // a retry does not consume a tool-call round
		}
	}

	err := fmt.Errorf("runner: agent %s exceeded %d tool-call rounds in one step", r.AgentID, maxRounds)
	return r.terminate(backend.ErrorChunk{Kind: "tool_loop", Message: err.Error()}, err)
}

type drainAction int

const (
	actionDone drainAction = iota
	actionContinueTool
	actionRetryTransient
)

// drain consumes one Stream call's channel to its terminal chunk, dispatching
// tool calls as they arrive. It reports what Run should do next: stop with a
// final Outcome, re-stream with the extended tool-result history, or retry
// the same messages after a transient backend error.
func (r *AgentRunner) drain(ctx context.Context, tracker *timeout.AgentTracker, messages []backend.Message, chunks <-chan backend.Chunk) (Outcome, []backend.Message, drainAction) {
	for chunk := range chunks {
		r.emit(chunk)

		switch c := chunk.(type) {
		case backend.ContentChunk:
			// forwarded to the bus above; no state to update here.

		case backend.UsageChunk:
			if tracker != nil {
				tracker.AddTokens(c.InputTokens + c.OutputTokens)
			}
			if r.Governor != nil {
				r.Governor.AddTokens(c.InputTokens + c.OutputTokens)
			}

		case backend.ToolCallChunk:
			call := backend.ToolCall{ID: c.ID, Name: c.Name, ArgumentsJSON: c.ArgumentsJSON}
			payload, isErr, stop := r.Dispatch(ctx, call)
			result := backend.ToolResultChunk{ID: c.ID, OK: !isErr, Payload: payload}
			r.emit(result)

			messages = append(messages,
				backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{call}},
				backend.Message{Role: backend.RoleTool, ToolCallID: c.ID, Text: payload},
			)

			if stop {
				reason := backend.EndTool
				r.emit(backend.EndChunk{Reason: reason})
				return Outcome{Reason: reason}, messages, actionDone
			}

		case backend.EndChunk:
			if c.Reason == backend.EndTool {
				// Tool results were appended above; resume with another Stream call.
				return Outcome{}, messages, actionContinueTool
			}
			return Outcome{Reason: c.Reason}, messages, actionDone

		case backend.ErrorChunk:
			if c.Kind == "transient" {
				return Outcome{}, messages, actionRetryTransient
			}
			return Outcome{Reason: backend.EndError, Err: fmt.Errorf("runner: %s: %s", c.Kind, c.Message)}, messages, actionDone
		}

		if ctx.Err() != nil {
			return Outcome{Reason: backend.EndError, Err: ctx.Err()}, messages, actionDone
		}
	}
	// Channel closed without a terminal chunk: backend.Port contract violation,
	// treated as a fatal backend error rather than a silent hang.
	err := fmt.Errorf("runner: agent %s stream closed without a terminal chunk", r.AgentID)
	return Outcome{Reason: backend.EndError, Err: err}, messages, actionDone
}

// streamWithRetry calls r.Backend.Stream, retrying on a Stream-call error up
// to the retry policy's MaxRetries times. Transient ErrorChunks arriving on
// the stream are retried by Run, not here.
func (r *AgentRunner) streamWithRetry(ctx context.Context, messages []backend.Message) (<-chan backend.Chunk, error) {
	policy := r.Retry
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		chunks, err := r.Backend.Stream(ctx, messages, r.Tools)
		if err == nil {
			return chunks, nil
		}
		lastErr = err
		if attempt >= policy.MaxRetries {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
}

func (r *AgentRunner) emit(c backend.Chunk) {
	if r.Bus == nil {
		return
	}
	r.Bus.Broadcast(state.Event{AttemptNumber: r.Attempt, AgentID: r.AgentID, Chunk: c})
}

func (r *AgentRunner) terminate(c backend.Chunk, err error) Outcome {
	r.emit(c)
	reason := backend.EndError
	if ec, ok := c.(backend.EndChunk); ok {
		reason = ec.Reason
	}
	return Outcome{Reason: reason, Err: err}
}
