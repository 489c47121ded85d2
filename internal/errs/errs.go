// Package errs defines the tagged error taxonomy the coordination core
// propagates instead of raising exceptions: each component returns a typed
// error a caller can branch on with errors.As.
package errs

import "fmt"

// ProvisionFailed indicates C1 could not make the base repo usable.
type ProvisionFailed struct {
	Repo string
	Err  error
}

func (e *ProvisionFailed) Error() string {
	return fmt.Sprintf("provision %s: %s", e.Repo, e.Err)
}

func (e *ProvisionFailed) Unwrap() error { return e.Err }

// WorktreeCreateFailed indicates C2 could not materialise a checkout.
type WorktreeCreateFailed struct {
	IssueNumber int
	Err         error
}

func (e *WorktreeCreateFailed) Error() string {
	return fmt.Sprintf("create worktree for issue #%d: %s", e.IssueNumber, e.Err)
}

func (e *WorktreeCreateFailed) Unwrap() error { return e.Err }

// BranchMissing indicates C4 expected a branch on origin that did not exist.
type BranchMissing struct {
	Branch string
}

func (e *BranchMissing) Error() string {
	return fmt.Sprintf("branch %s not found on origin", e.Branch)
}

// MergeConflict indicates a merge halted on unmerged paths.
type MergeConflict struct {
	Branch string
	Files  []string
}

func (e *MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict on %s: %d file(s)", e.Branch, len(e.Files))
}

// MergeFailed indicates a merge command failed without listable conflicts.
type MergeFailed struct {
	Branch string
	Stderr string
}

func (e *MergeFailed) Error() string {
	return fmt.Sprintf("merge %s failed: %s", e.Branch, e.Stderr)
}

// PushFailed indicates a local merge succeeded but the remote update did not.
type PushFailed struct {
	Branch string
	Stderr string
}

func (e *PushFailed) Error() string {
	return fmt.Sprintf("push after merging %s failed: %s", e.Branch, e.Stderr)
}

// TrackerUnavailable indicates the issue store is unreachable. Callers treat
// this as transient and retry on the next tick.
type TrackerUnavailable struct {
	Err error
}

func (e *TrackerUnavailable) Error() string {
	return fmt.Sprintf("tracker unavailable: %s", e.Err)
}

func (e *TrackerUnavailable) Unwrap() error { return e.Err }
