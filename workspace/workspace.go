// Package workspace implements WorkspaceManager: per-agent workspace
// directories, immutable append-only content-addressed snapshots per answer
// version, read-only peer views, and finalize copy-out to Write-permitted
// context paths.
//
// Snapshot commits use github.com/google/renameio/v2 for the tmp-file +
// fsync + rename guarantee instead of hand-rolled os.Create/Sync/Rename.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Manifest lists every file captured in a Snapshot, keyed by the path
// relative to the agent's workspace root, along with a content hash. Two
// snapshots with identical Manifest.Files are considered content-identical
// even if taken at different versions.
type Manifest struct {
	AgentID   string            `json:"agent_id"`
	Version   int               `json:"version"`
	TakenAt   time.Time         `json:"taken_at"`
	Files     map[string]string `json:"files"` // relpath -> sha256 hex
}

// Manager implements the WorkspaceManager contract for one Task.
type Manager struct {
	workspacesRoot string // workspaces/<agent_id>/
	snapshotsRoot  string // sessions/<session_id>/snapshots/<agent_id>/v<version>/

	mu         sync.Mutex
	workspaces map[string]string          // agentID -> absolute workspace dir
	manifests  map[string][]Manifest      // agentID -> manifests in version order
	snapshotAt map[string]map[int]string  // agentID -> version -> snapshot dir
}

// NewManager creates a Manager that allocates live workspaces under
// workspacesRoot and snapshots under snapshotsRoot, keeping the two as
// separate top-level/session-scoped trees in the persisted layout.
func NewManager(workspacesRoot, snapshotsRoot string) *Manager {
	return &Manager{
		workspacesRoot: workspacesRoot,
		snapshotsRoot:  snapshotsRoot,
		workspaces:     make(map[string]string),
		manifests:      make(map[string][]Manifest),
		snapshotAt: make(map[string]map[int]string),
	}
}

// Ensure allocates (or returns the existing) workspace directory for agentID.
func (m *Manager) Ensure(agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir, ok := m.workspaces[agentID]; ok {
		return dir, nil
	}
	dir := filepath.Join(m.workspacesRoot, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: ensure %s: %w", agentID, err)
	}
	m.workspaces[agentID] = dir
	return dir, nil
}

// Snapshot captures the current contents of agentID's workspace as an
// immutable, content-addressed snapshot tagged with version (the agent's
// new answer_version). Returns the snapshot's directory.
func (m *Manager) Snapshot(agentID string, version int) (string, error) {
	m.mu.Lock()
	srcDir, ok := m.workspaces[agentID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("workspace: Snapshot: agent %s has no workspace", agentID)
	}

	dstDir := filepath.Join(m.snapshotsRoot, agentID, fmt.Sprintf("v%d", version))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: snapshot dir: %w", err)
	}

	manifest := Manifest{AgentID: agentID, Version: version, TakenAt: time.Now(), Files: map[string]string{}}

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		manifest.Files[rel] = hex.EncodeToString(sum[:])

		dst := filepath.Join(dstDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return renameio.WriteFile(dst, data, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("workspace: snapshot copy: %w", err)
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("workspace: marshal manifest: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dstDir, "manifest.json"), manifestJSON, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write manifest: %w", err)
	}

	m.mu.Lock()
	m.manifests[agentID] = append(m.manifests[agentID], manifest)
	if m.snapshotAt[agentID] == nil {
		m.snapshotAt[agentID] = make(map[int]string)
	}
	m.snapshotAt[agentID][version] = dstDir
	m.mu.Unlock()

	return dstDir, nil
}

// ReadView returns a read-only view path onto peerID's latest snapshot, for
// agentID to observe. Agents see peers' snapshots, never peers' live
// workspaces. Callers must not write through the
// returned path; this package does not mount an OS-level read-only
// filesystem, it relies on the caller's own tooling (e.g. the execution
// environment) to enforce read-only access, the same way PathPermissionManager
// mediates writes elsewhere.
func (m *Manager) ReadView(agentID, peerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.snapshotAt[peerID]
	if len(versions) == 0 {
		return "", fmt.Errorf("workspace: peer %s has no snapshot yet", peerID)
	}
	latest := -1
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	_ = agentID // view path does not otherwise depend on the requester's identity
	return versions[latest], nil
}

// LatestVersion returns the highest snapshot version recorded for agentID,
// and whether any snapshot exists.
func (m *Manager) LatestVersion(agentID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.snapshotAt[agentID]
	if len(versions) == 0 {
		return 0, false
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return best, true
}

// Finalize copies winnerID's workspace contents into each destination root in
// destRoots, skipping any relative path for which isProtected returns true
// respecting protected subpaths. Finalize performs no permission check of its
// own; coordination.Engine passes only the context paths configured Writable.
func (m *Manager) Finalize(winnerID string, destRoots []string, isProtected func(relPath string) bool) error {
	m.mu.Lock()
	srcDir, ok := m.workspaces[winnerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("workspace: Finalize: winner %s has no workspace", winnerID)
	}

	var relPaths []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("workspace: finalize walk: %w", err)
	}
	sort.Strings(relPaths)

	for _, dest := range destRoots {
		for _, rel := range relPaths {
			if isProtected != nil && isProtected(rel) {
				continue
			}
			if err := copyFile(filepath.Join(srcDir, rel), filepath.Join(dest, rel)); err != nil {
				return fmt.Errorf("workspace: finalize copy %s: %w", rel, err)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dst, data, 0o644)
}
