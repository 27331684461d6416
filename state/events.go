package state

import (
	"sync"

	"github.com/2389-research/massgen/backend"
)

// Event is what the EventBus fans out: a backend.Chunk attributed to the
// agent and attempt that produced it, plus any engine-level events (winner
// selected, attempt restarted) that have no natural backend.Chunk shape.
type Event struct {
	AttemptNumber int
	AgentID       AgentId // empty for engine-level events not attributed to one agent
	Chunk         backend.Chunk
	Engine        *EngineEvent // set instead of Chunk for non-stream events
}

// EngineEventKind classifies an engine-level event not carried as a
// backend.Chunk.
type EngineEventKind string

const (
	EngineNoveltyRejected  EngineEventKind = "novelty_rejected"
	EngineVoteInvalidated  EngineEventKind = "vote_invalidated"
	EngineConsensusReached EngineEventKind = "consensus_reached"
	EngineWinnerSelected   EngineEventKind = "winner_selected"
	EngineAttemptRestarted EngineEventKind = "attempt_restarted"
	EngineAttemptFailed    EngineEventKind = "attempt_failed"
	EngineFinalizeFailed   EngineEventKind = "finalize_failed"
)

// EngineEvent carries one engine-level notification.
type EngineEvent struct {
	Kind    EngineEventKind
	AgentID AgentId
	Detail  string
}

// Bus is a non-blocking multi-producer multi-subscriber fan-out of Events:
// bounded per-subscriber buffer, Broadcast drops rather than blocks a slow
// subscriber. Delivery is therefore not drop-free: a subscriber whose buffer
// is full misses every event broadcast until it drains, while producers
// never block on it.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
}

// DefaultBusBufferSize is generous enough that a subscriber falling behind
// for a few chunks never drops an event under normal load.
const DefaultBusBufferSize = 4096

// NewBus creates a Bus with no initial subscribers.
func NewBus() *Bus {
	return &Bus{bufferSize: DefaultBusBufferSize}
}

// Subscribe creates a new buffered channel receiving every future Broadcast.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Broadcast sends ev to every current subscriber. Non-blocking: a full
// subscriber buffer causes that subscriber (and only that one) to drop ev.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently attached.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
