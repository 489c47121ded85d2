// Package layout derives the fixed filesystem layout under a workspace
// root (spec.md §6): base-repo/, worktrees/, session-state/. Adapted from
// the teacher's internal/fileutil path-joining helpers.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseRepoDir is the sole holder of the shared object database.
func BaseRepoDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "base-repo")
}

// WorktreesRoot is the parent directory of every per-ticket worktree.
func WorktreesRoot(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "worktrees")
}

// WorktreePath returns the deterministic path for a ticket's worktree.
func WorktreePath(workspaceRoot string, issueNumber int) string {
	return filepath.Join(WorktreesRoot(workspaceRoot), BranchName(issueNumber))
}

// BranchName returns the deterministic branch name for a ticket.
func BranchName(issueNumber int) string {
	return fmt.Sprintf("issue-%d", issueNumber)
}

// SessionStateDir holds worktrees.json, merge_queue.json, and the
// per-session mapping files.
func SessionStateDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "session-state")
}

// WorktreesStateFile is C2's persisted worktree record file.
func WorktreesStateFile(workspaceRoot string) string {
	return filepath.Join(SessionStateDir(workspaceRoot), "worktrees.json")
}

// MergeQueueStateFile is C4's persisted queue file.
func MergeQueueStateFile(workspaceRoot string) string {
	return filepath.Join(SessionStateDir(workspaceRoot), "merge_queue.json")
}

// SessionMappingFile is the per-ticket session-id marker file; it exists
// iff a Worktree record exists for that ticket (invariant I5).
func SessionMappingFile(workspaceRoot string, issueNumber int) string {
	return filepath.Join(SessionStateDir(workspaceRoot), fmt.Sprintf("issue-%d-session.txt", issueNumber))
}

// PidFile is the running daemon's PID marker, used to guard against
// starting a second daemon over the same workspace.
func PidFile(workspaceRoot string) string {
	return filepath.Join(SessionStateDir(workspaceRoot), "daemon.pid")
}

// EnsureDir creates a directory and its parents with 0755 permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
