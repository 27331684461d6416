// Package ids centralizes identifier generation so all of MassGen draws
// from the same entropy source and format.
package ids

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewTaskID generates a new ULID for a Task. ULIDs are lexically sortable,
// which keeps session directory listings (sessions/<id>/...) in creation
// order on disk without an extra index.
func NewTaskID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewSnapshotID generates a ULID used to name a snapshot directory
// version component when the caller does not supply an explicit version.
func NewSnapshotID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewAgentID generates an opaque AgentId for callers that don't assign their
// own (most callers should supply a stable, human-meaningful id instead).
func NewAgentID() string {
	return uuid.NewString()
}

// NewEventSeq generates a correlation id for bus events that need one
// independent of monotonically increasing sequence numbers (e.g. cross-attempt
// replay markers).
func NewEventSeq() string {
	return uuid.NewString()
}
