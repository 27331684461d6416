// Package backend defines the abstract capability MassGen's coordination
// engine speaks to: a streaming LLM call plus tool-call plumbing. Concrete
// provider adapters (HTTP/SDK clients for specific LLM vendors) are external
// collaborators and deliberately not implemented here.
package backend

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation handed to a backend's stream call.
// Adapted from llm.Message (llm/types.go) down to the fields MassGen actually
// needs: the full multi-modal content model (images/audio/documents) belongs
// to the concrete adapters, not the core.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolCallID string // set on RoleTool messages, correlates to a ToolCall.ID
}

// ToolCall is a single invocation emitted by the backend mid-stream.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// ToolSpec describes one tool available to the backend for this call,
// converted from control.Registry's internal representation by the caller.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema, as a decoded document
}

// FilesystemSupport declares how a backend exposes filesystem access, if at
// all. The coordination engine uses this to decide whether PathPermissionManager
// needs to mediate a backend's own native tools or only MassGen's control tools.
type FilesystemSupport string

const (
	// FilesystemNone means the backend has no filesystem access; only
	// MassGen's own registered tools (new_answer, vote, plus any caller-
	// registered read/write tools) ever touch the filesystem for this agent.
	FilesystemNone FilesystemSupport = "none"
	// FilesystemNative means the backend itself can read/write files as
	// part of its provider-side execution (e.g. a hosted code interpreter).
	FilesystemNative FilesystemSupport = "native"
	// FilesystemViaTool means filesystem access happens exclusively through
	// tool calls the runner dispatches and can therefore fully mediate.
	FilesystemViaTool FilesystemSupport = "via_tool"
)

// Usage reports token consumption, accumulated across a stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates other into u and returns u for chaining.
func (u *Usage) Add(other Usage) *Usage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	return u
}

// Total returns the combined input+output token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// EndReason classifies why a stream terminated.
type EndReason string

const (
	EndStop   EndReason = "stop"
	EndLength EndReason = "length"
	EndTool   EndReason = "tool"
	EndError  EndReason = "error"
)
