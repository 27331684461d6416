package backend

import "context"

// Port is the abstract capability the coordination engine speaks to.
// Concrete implementations (HTTP/SDK clients for specific LLM vendors) live
// outside this module; MassGen depends only on this interface.
//
// Grounded on llm.ProviderAdapter (llm/provider.go), narrowed to a single
// streaming entry point plus the metadata the engine needs to make scheduling
// and permission decisions.
type Port interface {
	// Stream begins one backend call and returns a channel of Chunks. The
	// channel is closed after exactly one terminal chunk (EndChunk or
	// ErrorChunk) has been sent. Stream must stop producing and close the
	// channel promptly after ctx is cancelled, so a budget cancellation
	// bounds how long a caller waits on it.
	Stream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan Chunk, error)

	// FilesystemSupport declares how this backend exposes filesystem access.
	FilesystemSupport() FilesystemSupport

	// Name identifies the backend for logging and transcript attribution.
	Name() string
}
