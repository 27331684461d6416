// Package store implements the persisted state layout: per-session task
// metadata, append-only ndjson transcripts, vote records, and an optional
// queryable index, none of which are the live coordination state
// (state.Table) itself — only its durable trail.
//
// Transcripts are an append-only event log with fsync-per-append; task and
// vote files are written atomically via github.com/google/renameio/v2
// instead of a hand-rolled tmp+fsync+rename dance.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Layout computes the on-disk paths for one session:
//
//	sessions/<session_id>/
//	  task.json
//	  transcripts/<attempt>/<agent_id>.ndjson
//	  votes/<attempt>.json
//	  snapshots/<agent_id>/v<version>/…
//	workspaces/<agent_id>/
//	temp_workspaces/<agent_id>/
//	logs/<session_id>/coordination.log
type Layout struct {
	MassgenRoot string // e.g. ".massgen"
	SessionID   string
}

func (l Layout) sessionDir() string {
	return filepath.Join(l.MassgenRoot, "sessions", l.SessionID)
}

// TaskFile is the path to this session's task metadata + config snapshot.
func (l Layout) TaskFile() string {
	return filepath.Join(l.sessionDir(), "task.json")
}

// TranscriptFile is the path to one agent's ndjson chunk log for one attempt.
func (l Layout) TranscriptFile(attempt int, agentID string) string {
	return filepath.Join(l.sessionDir(), "transcripts", fmt.Sprintf("%d", attempt), agentID+".ndjson")
}

// VotesFile is the path to one attempt's recorded vote ledger.
func (l Layout) VotesFile(attempt int) string {
	return filepath.Join(l.sessionDir(), "votes", fmt.Sprintf("%d.json", attempt))
}

// SnapshotsRoot is the root workspace.Manager should use for this session's
// content-addressed snapshots.
func (l Layout) SnapshotsRoot() string {
	return filepath.Join(l.sessionDir(), "snapshots")
}

// WorkspacesRoot is the top-level root workspace.Manager should use for live
// agent workspaces (shared across sessions, as the top-level workspaces/
// tree).
func (l Layout) WorkspacesRoot() string {
	return filepath.Join(l.MassgenRoot, "workspaces")
}

// TempWorkspacesRoot is the top-level root for read-only peer views.
func (l Layout) TempWorkspacesRoot() string {
	return filepath.Join(l.MassgenRoot, "temp_workspaces")
}

// LogFile is the path to this session's coordination log.
func (l Layout) LogFile() string {
	return filepath.Join(l.MassgenRoot, "logs", l.SessionID, "coordination.log")
}

// WriteTaskFile atomically writes task metadata as indented JSON.
func WriteTaskFile(path string, task any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create task dir: %w", err)
	}
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal task: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write task file: %w", err)
	}
	return nil
}

// WriteVotesFile atomically writes one attempt's final vote ledger.
func WriteVotesFile(path string, votes any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create votes dir: %w", err)
	}
	data, err := json.MarshalIndent(votes, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal votes: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write votes file: %w", err)
	}
	return nil
}

// Transcript is an append-only ndjson log of one agent's chunk stream for one
// attempt.
type Transcript struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenTranscript opens (creating parent directories as needed) the ndjson
// transcript file at path for appending.
func OpenTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open transcript: %w", err)
	}
	return &Transcript{path: path, file: f}, nil
}

// Append serializes record as one JSON line and fsyncs it before returning,
// so a crash immediately after Append returns never loses the record.
func (t *Transcript) Append(record any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("store: marshal transcript record: %w", err)
	}
	line := append(data, '\n')
	if _, err := t.file.Write(line); err != nil {
		return fmt.Errorf("store: write transcript line: %w", err)
	}
	return t.file.Sync()
}

// Path returns the underlying ndjson file path.
func (t *Transcript) Path() string {
	return t.path
}

// Close closes the underlying file.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// ReplayTranscript reads every raw JSON line from path, in order, skipping
// blank lines. Callers unmarshal each line into the concrete record type they
// expect (typically a backend.Chunk via backend.UnmarshalChunk).
func ReplayTranscript(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open transcript for replay: %w", err)
	}
	defer f.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan transcript: %w", err)
	}
	return lines, nil
}
