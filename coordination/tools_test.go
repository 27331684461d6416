package coordination_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389-research/massgen/coordination"
	"github.com/2389-research/massgen/workspace"
)

func TestReadPeerWorkspaceToolReturnsLatestSnapshotContent(t *testing.T) {
	ws := workspace.NewManager(t.TempDir(), t.TempDir())
	dirB, err := ws.Ensure("b")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirB, "notes.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("seed v1: %v", err)
	}
	if _, err := ws.Snapshot("b", 1); err != nil {
		t.Fatalf("Snapshot v1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirB, "notes.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("seed v2: %v", err)
	}
	if _, err := ws.Snapshot("b", 2); err != nil {
		t.Fatalf("Snapshot v2: %v", err)
	}

	tool := coordination.NewReadPeerWorkspaceTool(ws)
	payload, err := tool.Execute(context.Background(), "a", map[string]any{"peer_agent_id": "b", "path": "notes.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if payload != "v2" {
		t.Fatalf("payload = %q, want latest snapshot content %q", payload, "v2")
	}
}

func TestReadPeerWorkspaceToolRejectsPathEscape(t *testing.T) {
	ws := workspace.NewManager(t.TempDir(), t.TempDir())
	dirB, err := ws.Ensure("b")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirB, "notes.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ws.Snapshot("b", 1); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	tool := coordination.NewReadPeerWorkspaceTool(ws)
	_, err = tool.Execute(context.Background(), "a", map[string]any{"peer_agent_id": "b", "path": "../../etc/passwd"})
	if err == nil {
		t.Fatalf("expected a path-escape error, got nil")
	}
}
