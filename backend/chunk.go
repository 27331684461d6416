package backend

import (
	"encoding/json"
	"fmt"
)

// Chunk is the tagged union a backend stream yields: Content | ToolCall |
// ToolResult | Usage | End | Error, using a discriminator-plus-seal pattern
// so exhaustive type switches stay in this package.
type Chunk interface {
	ChunkType() string
	chunkSeal()
}

// ContentChunk carries streamed assistant text, forwarded to the bus unchanged.
type ContentChunk struct {
	Text string `json:"text"`
}

func (c ContentChunk) ChunkType() string { return "content" }
func (c ContentChunk) chunkSeal()        {}

// ToolCallChunk carries one tool invocation parsed from the stream.
type ToolCallChunk struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

func (c ToolCallChunk) ChunkType() string { return "tool_call" }
func (c ToolCallChunk) chunkSeal()        {}

// ToolResultChunk carries the outcome of dispatching a ToolCallChunk back to
// the backend.
type ToolResultChunk struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload string `json:"payload"`
}

func (c ToolResultChunk) ChunkType() string { return "tool_result" }
func (c ToolResultChunk) chunkSeal()        {}

// UsageChunk reports incremental token accounting.
type UsageChunk struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (c UsageChunk) ChunkType() string { return "usage" }
func (c UsageChunk) chunkSeal()        {}

// EndChunk is the terminal chunk of one Stream call. A single AgentRunner.Run
// may span several Stream calls (one per tool round) and forwards each of
// their EndChunks; a Run that fails ends with an ErrorChunk instead.
type EndChunk struct {
	Reason EndReason `json:"reason"`
}

func (c EndChunk) ChunkType() string { return "end" }
func (c EndChunk) chunkSeal()        {}

// ErrorChunk reports a stream-level failure. It is distinct from EndChunk so
// subscribers can tell a clean stop from a fatal one without inspecting reason
// strings.
type ErrorChunk struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c ErrorChunk) ChunkType() string { return "error" }
func (c ErrorChunk) chunkSeal()        {}

// MarshalChunk serializes a Chunk with a "type" discriminator.
func MarshalChunk(c Chunk) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil chunk")
	}
	return marshalTagged(c.ChunkType(), c)
}

// UnmarshalChunk deserializes a Chunk from its discriminated JSON form.
func UnmarshalChunk(data []byte) (Chunk, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal chunk type: %w", err)
	}

	switch envelope.Type {
	case "content":
		var c ContentChunk
		return c, json.Unmarshal(data, &c)
	case "tool_call":
		var c ToolCallChunk
		return c, json.Unmarshal(data, &c)
	case "tool_result":
		var c ToolResultChunk
		return c, json.Unmarshal(data, &c)
	case "usage":
		var c UsageChunk
		return c, json.Unmarshal(data, &c)
	case "end":
		var c EndChunk
		return c, json.Unmarshal(data, &c)
	case "error":
		var c ErrorChunk
		return c, json.Unmarshal(data, &c)
	default:
		return nil, fmt.Errorf("unknown chunk type: %q", envelope.Type)
	}
}

// marshalTagged marshals v then splices in a "type" field.
func marshalTagged(typeName string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(typeName)
	m["type"] = typeJSON
	return json.Marshal(m)
}
