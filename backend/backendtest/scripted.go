// Package backendtest provides a scripted backend.Port implementation used to
// drive coordination engine tests deterministically, without hitting a real
// LLM.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389-research/massgen/backend"
)

// Turn is one scripted response to a single Stream call.
type Turn struct {
	// Chunks are emitted in order. If the last chunk is not an EndChunk or
	// ErrorChunk, EndChunk{EndStop} is appended automatically.
	Chunks []backend.Chunk
	// Block, if true, holds the stream open after emitting Chunks until the
	// caller's context is cancelled, then emits ErrorChunk{Kind:"cancelled"}.
	// Used to simulate an agent that never completes in time, so the
	// timeout governor's cancellation path can be exercised.
	Block bool
}

// Scripted is a backend.Port that replays a fixed sequence of Turns, one per
// Stream call, in order. Calling Stream more times than there are Turns
// returns an error.
type Scripted struct {
	name    string
	fsKind  backend.FilesystemSupport
	mu      sync.Mutex
	turns   []Turn
	nextIdx int
}

// New creates a Scripted backend named name that will reply with turns in
// order, one per Stream call.
func New(name string, turns ...Turn) *Scripted {
	return &Scripted{name: name, fsKind: backend.FilesystemNone, turns: turns}
}

// WithFilesystemSupport sets the FilesystemSupport this backend declares.
func (s *Scripted) WithFilesystemSupport(kind backend.FilesystemSupport) *Scripted {
	s.fsKind = kind
	return s
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) FilesystemSupport() backend.FilesystemSupport { return s.fsKind }

// Stream implements backend.Port.
func (s *Scripted) Stream(ctx context.Context, _ []backend.Message, _ []backend.ToolSpec) (<-chan backend.Chunk, error) {
	s.mu.Lock()
	if s.nextIdx >= len(s.turns) {
		s.mu.Unlock()
		return nil, fmt.Errorf("backendtest: %s has no more scripted turns", s.name)
	}
	turn := s.turns[s.nextIdx]
	s.nextIdx++
	s.mu.Unlock()

	ch := make(chan backend.Chunk, len(turn.Chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if turn.Block {
			<-ctx.Done()
			select {
			case ch <- backend.ErrorChunk{Kind: "cancelled", Message: ctx.Err().Error()}:
			default:
			}
			return
		}
		if len(turn.Chunks) == 0 || !isTerminal(turn.Chunks[len(turn.Chunks)-1]) {
			select {
			case <-ctx.Done():
			case ch <- backend.EndChunk{Reason: backend.EndStop}:
			}
		}
	}()
	return ch, nil
}

func isTerminal(c backend.Chunk) bool {
	switch c.ChunkType() {
	case "end", "error":
		return true
	default:
		return false
	}
}

// Remaining reports how many scripted turns have not yet been consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.nextIdx
}
