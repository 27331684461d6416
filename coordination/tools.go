package coordination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/massgen/backend"
	"github.com/2389-research/massgen/control"
	"github.com/2389-research/massgen/permission"
	"github.com/2389-research/massgen/workspace"
)

// WriteFileToolName is the reserved-adjacent (but not reserved) tool name
// every agent is given for writing into a configured context path. It is the
// one tool kind planning mode gates: during Running its calls are recorded,
// not executed; during Presenting the winner's recorded calls are replayed
// for real.
const WriteFileToolName = "write_file"

// NewWriteFileTool builds the write_file control.Tool, permission-checking
// every call against perm before touching disk.
func NewWriteFileTool(perm *permission.Manager) *control.Tool {
	return &control.Tool{
		Spec: backend.ToolSpec{
			Name:        WriteFileToolName,
			Description: "Write content to a file inside a writable context path.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		Execute: func(_ context.Context, agentID string, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("write_file: path is required")
			}
			ok, reason := perm.Check(agentID, permission.OpWrite, path)
			if !ok {
				return "", fmt.Errorf("write_file: permission denied: %s", reason)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write_file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// ReadPeerWorkspaceToolName is the tool every agent is given to observe a
// peer's latest submitted snapshot, never a peer's live (and possibly
// mid-edit) workspace.
const ReadPeerWorkspaceToolName = "read_peer_workspace"

// NewReadPeerWorkspaceTool builds the read_peer_workspace control.Tool,
// resolving peer_agent_id to its latest snapshot via ws.ReadView and reading
// path relative to that snapshot's root.
func NewReadPeerWorkspaceTool(ws *workspace.Manager) *control.Tool {
	return &control.Tool{
		Spec: backend.ToolSpec{
			Name:        ReadPeerWorkspaceToolName,
			Description: "Read a file from a peer agent's latest submitted answer snapshot.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"peer_agent_id": map[string]any{"type": "string"},
					"path":          map[string]any{"type": "string", "description": "path relative to the peer's workspace root"},
				},
				"required": []string{"peer_agent_id", "path"},
			},
		},
		Execute: func(_ context.Context, agentID string, args map[string]any) (string, error) {
			peerID, _ := args["peer_agent_id"].(string)
			rel, _ := args["path"].(string)
			if peerID == "" || rel == "" {
				return "", fmt.Errorf("read_peer_workspace: peer_agent_id and path are required")
			}
			viewDir, err := ws.ReadView(agentID, peerID)
			if err != nil {
				return "", fmt.Errorf("read_peer_workspace: %w", err)
			}
			viewDir = filepath.Clean(viewDir)
			target := filepath.Clean(filepath.Join(viewDir, rel))
			if target != viewDir && !strings.HasPrefix(target, viewDir+string(filepath.Separator)) {
				return "", fmt.Errorf("read_peer_workspace: path escapes the peer's snapshot view")
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("read_peer_workspace: %w", err)
			}
			return string(data), nil
		},
	}
}
