// Package vcs wraps the version-control subprocess contract the
// coordination core depends on (SPEC_FULL.md §6): clone, fetch, worktree
// add/remove/prune, merge, push, and the rest of the subcommand set C1,
// C2, and C4 issue against the base repository and its worktrees.
package vcs

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Retry constants for transient git errors — index/ref lock contention
// between the base-repo trunk checkout (C4) and worktree administrative
// operations (C2), which share one object database.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations rooted at a single working directory — either
// the base repo's trunk checkout or one ticket's worktree.
type Repo struct {
	Dir string
}

// NewRepo creates a Repo for the given directory.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

// sleepFunc is replaced in tests to avoid real delays.
var sleepFunc = time.Sleep

// Run executes a git command in the repo directory, retrying transient
// lock-contention failures with exponential backoff.
func (r *Repo) Run(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), errMsg, err)
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil
}

// Clone clones url into the repo's directory.
func (r *Repo) Clone(url string) error {
	cmd := exec.Command("git", "clone", url, r.Dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %s: %w", url, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Fetch fetches from the named remote (default "origin" if empty).
func (r *Repo) Fetch(remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := r.Run("fetch", remote)
	return err
}

// SetRemoteURL rewrites a remote's URL, e.g. to refresh an embedded token.
func (r *Repo) SetRemoteURL(remote, url string) error {
	_, err := r.Run("remote", "set-url", remote, url)
	return err
}

// RemoteURL returns a remote's current URL.
func (r *Repo) RemoteURL(remote string) (string, error) {
	return r.Run("remote", "get-url", remote)
}

// CreateWorktree adds a worktree at path on an existing branch.
func (r *Repo) CreateWorktree(path, branch string) error {
	_, err := r.Run("worktree", "add", path, branch)
	return err
}

// CreateWorktreeNewBranch adds a worktree at path on a newly created
// branch off startPoint.
func (r *Repo) CreateWorktreeNewBranch(path, branch, startPoint string) error {
	_, err := r.Run("worktree", "add", "-b", branch, path, startPoint)
	return err
}

// RemoveWorktree removes a worktree; force discards uncommitted changes.
func (r *Repo) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.Run(args...)
	return err
}

// PruneWorktrees cleans stale worktree administrative entries.
func (r *Repo) PruneWorktrees() error {
	_, err := r.Run("worktree", "prune")
	return err
}

// BranchExistsLocal checks whether a local branch exists.
func (r *Repo) BranchExistsLocal(branch string) bool {
	out, err := r.Run("branch", "--list", branch)
	return err == nil && strings.TrimSpace(out) != ""
}

// BranchExistsRemote checks whether a branch exists on the named remote.
func (r *Repo) BranchExistsRemote(remote, branch string) bool {
	out, err := r.Run("ls-remote", "--heads", remote, branch)
	return err == nil && strings.TrimSpace(out) != ""
}

// DeleteRemoteBranch deletes a branch on the named remote. Best-effort:
// callers treat failure here as non-fatal (spec.md §4.4 step 9).
func (r *Repo) DeleteRemoteBranch(remote, branch string) error {
	_, err := r.Run("push", remote, "--delete", branch)
	return err
}

// Checkout checks out a ref.
func (r *Repo) Checkout(ref string) error {
	_, err := r.Run("checkout", ref)
	return err
}

// Pull fast-forward-pulls a branch from a remote.
func (r *Repo) Pull(remote, branch string) error {
	_, err := r.Run("pull", "--ff-only", remote, branch)
	return err
}

// MergeNoFF performs a non-fast-forward merge with a fixed commit message.
func (r *Repo) MergeNoFF(ref, message string) error {
	_, err := r.Run("merge", "--no-ff", "-m", message, ref)
	return err
}

// AbortMerge aborts an in-progress merge, ignoring errors (no-op if none
// is in progress).
func (r *Repo) AbortMerge() {
	_, _ = r.Run("merge", "--abort")
}

// ConflictFiles lists paths left in an unmerged index state after a failed
// merge.
func (r *Repo) ConflictFiles() ([]string, error) {
	out, err := r.Run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ChangedFiles lists paths changed between two refs (exclusive..inclusive).
func (r *Repo) ChangedFiles(from, to string) ([]string, error) {
	out, err := r.Run("diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Push pushes a branch to a remote.
func (r *Repo) Push(remote, branch string) error {
	_, err := r.Run("push", remote, branch)
	return err
}

// HeadCommit returns the commit hash at HEAD for a ref.
func (r *Repo) HeadCommit(ref string) (string, error) {
	return r.Run("rev-parse", ref)
}

// EnsureIdentity sets user.name/user.email locally if unset, so commits
// and merges never fail with "Author identity unknown" in a fresh
// worktree or CI environment.
func (r *Repo) EnsureIdentity(name, email string) {
	if _, err := r.Run("config", "user.name"); err != nil {
		_, _ = r.Run("config", "user.name", name)
	}
	if _, err := r.Run("config", "user.email"); err != nil {
		_, _ = r.Run("config", "user.email", email)
	}
}

// UnifiedDiff returns the raw unified diff for a range, used to embed
// conflict context in tracker comments.
func (r *Repo) UnifiedDiff(from, to string) (string, error) {
	return r.Run("diff", from, to)
}

// MergeBase returns the best common ancestor of two refs, used to bound
// the two sides of a conflict comment's diff (each ref's changes since
// they diverged, rather than the whole history).
func (r *Repo) MergeBase(a, b string) (string, error) {
	return r.Run("merge-base", a, b)
}
