// Package permission implements PathPermissionManager: path resolution
// against managed paths with Read/Write permission, a hard exclusion list,
// permission downgrade for non-winner agents, and read-before-delete
// tracking.
//
// Uses an allow/deny-list idiom generalized from "filter names by pattern"
// to "filter filesystem paths by glob pattern," using
// github.com/bmatcuk/doublestar/v4 for the glob matching a plain suffix
// check can't express (patterns like "**/.git/**" aren't suffix matches).
package permission

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Op is a filesystem operation subject to permission checks.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// Permission is the access level granted to a ManagedPath.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
)

// ManagedPath is a directory tree the permission manager knows about, along
// with its granted permission and any protected subpaths.
type ManagedPath struct {
	AbsolutePath      string
	Permission        Permission
	ProtectedSubpaths []string // relative to AbsolutePath
}

// DefaultExcludedPatterns always downgrade Write/Delete to Read regardless of
// parent permission, except inside an agent's own workspace root. Patterns
// are doublestar globs matched against the path relative to
// the managed root.
var DefaultExcludedPatterns = []string{
	"**/.git/**",
	"**/.git",
	"**/.env",
	"**/.env.*",
	"**/node_modules/**",
	"**/.massgen/**",
}

// Manager implements the PathPermissionManager contract.
type Manager struct {
	mu               sync.RWMutex
	managed          []ManagedPath // ordered so the deepest match can be found by path length
	excluded         []string
	workspaceRoots   map[string]string // agentID -> absolute workspace root
	readLog          map[string]map[string]bool // agentID -> resolved path -> read succeeded
	winnerAgentID    string // set during Presenting; empty during Running
	presentingActive bool
}

// NewManager creates a Manager seeded with managed paths and the default
// exclusion patterns. Additional exclusion patterns (e.g. caller-specific
// dependency cache directories) may be appended via AddExcludedPatterns.
func NewManager(managed []ManagedPath) *Manager {
	m := &Manager{
		managed:        append([]ManagedPath(nil), managed...),
		excluded:       append([]string(nil), DefaultExcludedPatterns...),
		workspaceRoots: make(map[string]string),
		readLog:        make(map[string]map[string]bool),
	}
	return m
}

// AddExcludedPatterns appends caller-supplied exclusion globs.
func (m *Manager) AddExcludedPatterns(patterns ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.excluded = append(m.excluded, patterns...)
}

// AddManagedPaths registers additional managed paths after construction, e.g.
// a Task's orchestrator-supplied context paths, which are not known until a
// Task is built but must still be subject to the same deepest-match and
// Presenting-gate rules as paths passed to NewManager.
func (m *Manager) AddManagedPaths(paths ...ManagedPath) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managed = append(m.managed, paths...)
}

// RegisterWorkspace records agentID's own workspace root, which always stays
// Write and is exempt from the exclusion downgrade.
func (m *Manager) RegisterWorkspace(agentID, root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaceRoots[agentID] = filepath.Clean(root)
}

// SetWinner marks agentID as the current attempt's winner, regaining Write
// permission on context paths during Presenting. Clear with
// SetWinner("", false) when Presenting ends or a new attempt begins.
func (m *Manager) SetWinner(agentID string, presenting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winnerAgentID = agentID
	m.presentingActive = presenting
}

// Check resolves path and evaluates op against the managed paths.
// callerAgentID identifies the agent performing the
// operation, used for workspace-root exemption, winner-regrant, and
// read-before-delete tracking.
func (m *Manager) Check(callerAgentID string, op Op, path string) (bool, string) {
	resolved, err := resolvePath(path)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve path: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mp, found := m.deepestMatch(resolved)
	if !found {
		return false, "path is not under any managed directory"
	}

	inOwnWorkspace := m.workspaceRoots[callerAgentID] != "" && isUnder(resolved, m.workspaceRoots[callerAgentID])

	effective := mp.Permission
	if op != OpRead && !inOwnWorkspace {
		// Write on a context path is only ever live for the winner, and only
		// during Presenting: every coordination-phase caller (Setup/Running/
		// Deciding, and any non-winner during Presenting) has Write downgraded
		// to Read. This is the single-executor-commit guarantee: exactly one
		// agent's writes land, and only once a winner has been chosen.
		if !(m.presentingActive && callerAgentID == m.winnerAgentID) {
			effective = Read
		}
		if isExcluded(resolved, mp, m.excluded) {
			effective = Read
		}
	}

	switch op {
	case OpRead:
		m.recordRead(callerAgentID, resolved)
		return true, ""
	case OpWrite:
		if effective != Write {
			return false, "write denied: path is read-only for this caller"
		}
		if m.isProtected(resolved, mp) {
			return false, "write denied: path is protected"
		}
		return true, ""
	case OpDelete:
		if effective != Write {
			return false, "delete denied: path is read-only for this caller"
		}
		if m.isProtected(resolved, mp) {
			return false, "delete denied: path is protected"
		}
		if !m.hasReadLocked(callerAgentID, resolved) {
			return false, "delete denied: path was never read by this agent (read-before-delete)"
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unknown operation %q", op)
	}
}

// deepestMatch returns the ManagedPath whose AbsolutePath is the longest
// ancestor of resolved: the deepest managed ancestor wins.
func (m *Manager) deepestMatch(resolved string) (ManagedPath, bool) {
	var best ManagedPath
	bestLen := -1
	found := false
	for _, mp := range m.managed {
		root := filepath.Clean(mp.AbsolutePath)
		if isUnder(resolved, root) && len(root) > bestLen {
			best = mp
			bestLen = len(root)
			found = true
		}
	}
	// An agent's own workspace root is always managed+Write even if the
	// caller never supplied it as a ManagedPath explicitly.
	for agentID, root := range m.workspaceRoots {
		_ = agentID
		if isUnder(resolved, root) && len(root) > bestLen {
			best = ManagedPath{AbsolutePath: root, Permission: Write}
			bestLen = len(root)
			found = true
		}
	}
	return best, found
}

func (m *Manager) isProtected(resolved string, mp ManagedPath) bool {
	rel, err := filepath.Rel(filepath.Clean(mp.AbsolutePath), resolved)
	if err != nil {
		return false
	}
	for _, p := range mp.ProtectedSubpaths {
		if rel == filepath.Clean(p) || strings.HasPrefix(rel, filepath.Clean(p)+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func isExcluded(resolved string, mp ManagedPath, patterns []string) bool {
	rel, err := filepath.Rel(filepath.Clean(mp.AbsolutePath), resolved)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
		// also match against the full resolved path, for patterns meant to
		// catch a directory component anywhere (e.g. "**/.git/**").
		if ok, _ := doublestar.Match(pat, filepath.ToSlash(resolved)); ok {
			return true
		}
	}
	return false
}

func (m *Manager) recordRead(agentID, resolved string) {
	if m.readLog[agentID] == nil {
		m.readLog[agentID] = make(map[string]bool)
	}
	m.readLog[agentID][resolved] = true
}

func (m *Manager) hasReadLocked(agentID, resolved string) bool {
	reads := m.readLog[agentID]
	if reads == nil {
		return false
	}
	return reads[resolved]
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func isUnder(path, root string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
