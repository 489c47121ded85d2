// Package worktree implements C2, the Worktree Manager: per-ticket
// filesystem isolation over the base repository's shared object database
// (spec.md §4.2). Grounded on original_source/src/worktree_manager.py's
// WorktreeManager and the teacher's atomic-JSON state-file conventions in
// internal/engine/state.go.
package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/conveyor-forge/conveyor/internal/errs"
	"github.com/conveyor-forge/conveyor/internal/layout"
	"github.com/conveyor-forge/conveyor/internal/vcs"
)

// Worktree is C2's owned record, keyed by IssueNumber (invariant I2: no
// two live records share IssueNumber, Path, or BranchName).
type Worktree struct {
	IssueNumber int       `json:"issue_number"`
	SessionID   string    `json:"session_id"`
	Path        string    `json:"path"`
	BranchName  string    `json:"branch_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// gitIdentityName/Email are the commit identity configured in every new
// worktree so agent commits never fail with "Author identity unknown".
const (
	gitIdentityName  = "conveyor-agent"
	gitIdentityEmail = "conveyor-agent@localhost"
)

// Manager owns every live Worktree record and the filesystem/VCS state
// backing it. Two worktrees never share a branch or directory (enforced
// by the IssueNumber-keyed path derivation in internal/layout); operations
// on distinct worktrees commute, but the Manager serializes all of its own
// state mutations behind a single mutex.
type Manager struct {
	workspaceRoot string
	baseRepo      *vcs.Repo
	mu            sync.Mutex
	records       map[int]Worktree
}

// NewManager loads any existing worktree records from disk. A missing or
// corrupt state file is treated as empty, with a warning on stderr — the
// manager is self-healing at startup (spec.md §4.2).
func NewManager(workspaceRoot string) (*Manager, error) {
	m := &Manager{
		workspaceRoot: workspaceRoot,
		baseRepo:      vcs.NewRepo(layout.BaseRepoDir(workspaceRoot)),
		records:       make(map[int]Worktree),
	}
	if err := m.load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: worktree state unreadable, starting empty: %s\n", err)
		m.records = make(map[int]Worktree)
	}
	return m, nil
}

func (m *Manager) load() error {
	path := layout.WorktreesStateFile(m.workspaceRoot)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []Worktree
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	records := make(map[int]Worktree, len(list))
	for _, w := range list {
		records[w.IssueNumber] = w
	}
	m.records = records
	return nil
}

// persist must be called with mu held. It writes via temp-file-then-rename
// so a crash mid-write never corrupts the prior state (spec.md §6).
func (m *Manager) persist() error {
	dir := layout.SessionStateDir(m.workspaceRoot)
	if err := layout.EnsureDir(dir); err != nil {
		return err
	}
	list := make([]Worktree, 0, len(m.records))
	for _, w := range m.records {
		list = append(list, w)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].IssueNumber < list[j].IssueNumber })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	path := layout.WorktreesStateFile(m.workspaceRoot)
	tmp, err := os.CreateTemp(dir, ".worktrees-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Create provisions an isolated checkout for issueNumber, sharing the base
// repository's object database. All filesystem and version-control
// mutations happen before the record is persisted, so a crash mid-creation
// never leaves a tracked record without a directory (spec.md §4.2).
func (m *Manager) Create(issueNumber int, sessionID, baseBranch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if baseBranch == "" {
		baseBranch = "main"
	}
	path := layout.WorktreePath(m.workspaceRoot, issueNumber)
	branch := layout.BranchName(issueNumber)

	if _, err := os.Stat(path); err == nil {
		if err := m.cleanupLocked(issueNumber, true); err != nil {
			return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: err}
		}
	}

	if err := m.baseRepo.Fetch("origin"); err != nil {
		return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: err}
	}

	var createErr error
	switch {
	case m.baseRepo.BranchExistsLocal(branch):
		createErr = m.baseRepo.CreateWorktree(path, branch)
	case m.baseRepo.BranchExistsRemote("origin", branch):
		createErr = m.baseRepo.CreateWorktreeNewBranch(path, branch, "origin/"+branch)
	default:
		startPoint := "origin/" + baseBranch
		if !m.baseRepo.BranchExistsRemote("origin", baseBranch) {
			startPoint = baseBranch
		}
		createErr = m.baseRepo.CreateWorktreeNewBranch(path, branch, startPoint)
	}
	if createErr != nil {
		return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: createErr}
	}

	wtRepo := vcs.NewRepo(path)
	wtRepo.EnsureIdentity(gitIdentityName, gitIdentityEmail)

	if err := layout.EnsureDir(layout.SessionStateDir(m.workspaceRoot)); err != nil {
		return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: err}
	}
	mappingPath := layout.SessionMappingFile(m.workspaceRoot, issueNumber)
	if err := os.WriteFile(mappingPath, []byte(sessionID+"\n"), 0644); err != nil {
		return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: err}
	}

	m.records[issueNumber] = Worktree{
		IssueNumber: issueNumber,
		SessionID:   sessionID,
		Path:        path,
		BranchName:  branch,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.persist(); err != nil {
		return "", &errs.WorktreeCreateFailed{IssueNumber: issueNumber, Err: err}
	}
	return path, nil
}

// Cleanup removes a ticket's worktree, session mapping, and record. It is
// best-effort: if the git command fails, it falls back to a recursive
// directory removal (spec.md §4.2).
func (m *Manager) Cleanup(issueNumber int, prune bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.cleanupLocked(issueNumber, prune)
	return err == nil, err
}

func (m *Manager) cleanupLocked(issueNumber int, prune bool) error {
	rec, known := m.records[issueNumber]
	path := layout.WorktreePath(m.workspaceRoot, issueNumber)
	if known {
		path = rec.Path
	}

	if err := m.baseRepo.RemoveWorktree(path, true); err != nil {
		_ = os.RemoveAll(path)
	}
	if prune {
		_ = m.baseRepo.PruneWorktrees()
	}
	_ = os.Remove(layout.SessionMappingFile(m.workspaceRoot, issueNumber))

	delete(m.records, issueNumber)
	return m.persist()
}

// CleanupStale removes every worktree older than maxAge, oldest first
// (boundary behaviour B4).
func (m *Manager) CleanupStale(maxAge time.Duration) error {
	m.mu.Lock()
	cutoff := time.Now().UTC().Add(-maxAge)
	var stale []int
	for n, w := range m.records {
		if w.CreatedAt.Before(cutoff) {
			stale = append(stale, n)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return m.records[stale[i]].CreatedAt.Before(m.records[stale[j]].CreatedAt)
	})
	m.mu.Unlock()

	for _, n := range stale {
		if _, err := m.Cleanup(n, true); err != nil {
			return err
		}
	}
	return nil
}

// Path returns a ticket's worktree path, if it has a live record.
func (m *Manager) Path(issueNumber int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.records[issueNumber]
	return w.Path, ok
}

// Exists reports whether a live record exists for a ticket.
func (m *Manager) Exists(issueNumber int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[issueNumber]
	return ok
}

// Info returns the full record for a ticket.
func (m *Manager) Info(issueNumber int) (Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.records[issueNumber]
	return w, ok
}

// List returns every live record, sorted by issue number.
func (m *Manager) List() []Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Worktree, 0, len(m.records))
	for _, w := range m.records {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueNumber < out[j].IssueNumber })
	return out
}

// ActiveCount returns the number of live worktrees. This includes
// worktrees kept through merge-pending, so it is not the dispatcher's
// active_build_count, which counts building-labelled tickets instead.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// SessionFor returns the session id recorded for a ticket's worktree.
func (m *Manager) SessionFor(issueNumber int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.records[issueNumber]
	return w.SessionID, ok
}

// RepoAt returns a vcs.Repo rooted at a ticket's worktree, for callers
// that need to run commands inside it.
func (m *Manager) RepoAt(issueNumber int) (*vcs.Repo, bool) {
	path, ok := m.Path(issueNumber)
	if !ok {
		return nil, false
	}
	return vcs.NewRepo(filepath.Clean(path)), true
}
