// Package mergequeue implements C4, the Merge Serializer: a durable FIFO
// queue that integrates completed branches into trunk one at a time, with
// sticky pause-on-first-failure semantics (spec.md §4.4). Grounded on
// original_source/src/merge_manager.py's MergeManager.
package mergequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/conveyor-forge/conveyor/internal/errs"
	"github.com/conveyor-forge/conveyor/internal/layout"
	"github.com/conveyor-forge/conveyor/internal/telemetry"
	"github.com/conveyor-forge/conveyor/internal/vcs"
)

// Entry is one branch awaiting integration (spec.md §3).
type Entry struct {
	IssueNumber int       `json:"issue_number"`
	BranchName  string    `json:"branch_name"`
	CompletedAt time.Time `json:"completed_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

// state is the on-disk shape of merge_queue.json.
type state struct {
	Entries     []Entry   `json:"entries"`
	Paused      bool      `json:"paused"`
	PauseReason string    `json:"pause_reason,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result is the outcome of one merge attempt, passed to Listener.
type Result struct {
	IssueNumber   int
	BranchName    string
	HeadSHA       string
	ConflictFiles []string
	Err           error
}

// Listener observes merge outcomes. internal/cli/app.go registers an
// adapter (mergeListener) that drives worktree cleanup after success and
// ticket annotation after conflict — see DESIGN.md's Open Question
// Decisions on completion wiring and cleanup timing.
type Listener interface {
	OnMergeSuccess(Result)
	OnMergeConflict(Result)
}

// TokenSource supplies a fresh access token before each network operation,
// since tokens embedded in the remote URL may be short-lived.
type TokenSource func() (string, error)

// Manager owns the merge queue's persisted state and drives the
// single-merge algorithm of spec.md §4.4. ProcessQueue is the only
// exported entry point that touches the base repository's trunk checkout;
// it is not safe to call concurrently with itself, matching the
// single-threaded "merge tick" the spec prescribes (§5).
type Manager struct {
	workspaceRoot string
	repoRef       string
	tokens        TokenSource
	baseBranch    string
	baseRepo      *vcs.Repo
	listener      Listener
	telemetry     *telemetry.Provider

	mu sync.Mutex
	st state
}

// New loads any existing queue state from disk. A missing or corrupt file
// yields an empty, unpaused queue with a warning (spec.md §4.4).
func New(workspaceRoot, repoRef, baseBranch string, tokens TokenSource, listener Listener) *Manager {
	m := &Manager{
		workspaceRoot: workspaceRoot,
		repoRef:       repoRef,
		tokens:        tokens,
		baseBranch:    baseBranch,
		baseRepo:      vcs.NewRepo(layout.BaseRepoDir(workspaceRoot)),
		listener:      listener,
		telemetry:     telemetry.NewNoop(),
	}
	if err := m.load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: merge queue state unreadable, starting empty: %s\n", err)
		m.st = state{}
	}
	return m
}

// SetTelemetry installs the tracer provider ProcessQueue opens its span
// through (SPEC_FULL.md §9.1). internal/cli/app.go calls this once at
// startup when tracing is enabled.
func (m *Manager) SetTelemetry(p *telemetry.Provider) {
	m.telemetry = p
}

func (m *Manager) load() error {
	path := layout.MergeQueueStateFile(m.workspaceRoot)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	m.st = st
	return nil
}

// persist must be called with mu held.
func (m *Manager) persist() error {
	dir := layout.SessionStateDir(m.workspaceRoot)
	if err := layout.EnsureDir(dir); err != nil {
		return err
	}
	m.st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.st, "", "  ")
	if err != nil {
		return err
	}
	path := layout.MergeQueueStateFile(m.workspaceRoot)
	tmp, err := os.CreateTemp(dir, ".merge-queue-*.json.tmp")
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

// Enqueue appends an entry unless issueNumber is already queued (round
// trip law R1 — Enqueue is idempotent). branch defaults to
// layout.BranchName(issueNumber) when empty.
func (m *Manager) Enqueue(issueNumber int, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.st.Entries {
		if e.IssueNumber == issueNumber {
			return nil
		}
	}
	if branch == "" {
		branch = layout.BranchName(issueNumber)
	}
	m.st.Entries = append(m.st.Entries, Entry{
		IssueNumber: issueNumber,
		BranchName:  branch,
		CompletedAt: time.Now().UTC(),
	})
	return m.persist()
}

// Position returns a ticket's 1-based position in the queue, or 0 if not
// present.
func (m *Manager) Position(issueNumber int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.st.Entries {
		if e.IssueNumber == issueNumber {
			return i + 1
		}
	}
	return 0
}

// Length returns the number of queued entries.
func (m *Manager) Length() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.Entries)
}

// Paused reports whether the queue is halted pending Resume().
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Paused
}

// PauseReason returns the current pause reason, or "" if not paused.
func (m *Manager) PauseReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PauseReason
}

// Resume clears a sticky pause. It only clears the flag and persists; it
// does not itself attempt a merge — the next ProcessQueue call (scheduled
// tick or explicit invocation) performs the actual retry (DESIGN.md Open
// Question Decision #1). Returns whether a transition occurred.
func (m *Manager) Resume() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.Paused {
		return false, nil
	}
	m.st.Paused = false
	m.st.PauseReason = ""
	if err := m.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns a read-only copy of the current entries, for CLI/TUI
// display.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.st.Entries))
	copy(out, m.st.Entries)
	return out
}

// ProcessQueue attempts up to maxMerges merges, stopping early on pause or
// an empty queue (boundary behaviours B2, B3). It returns every outcome
// attempted, success or failure.
func (m *Manager) ProcessQueue(maxMerges int) ([]Result, error) {
	_, span := m.telemetry.StartMerge(context.Background())
	defer span.End()

	var results []Result
	for i := 0; i < maxMerges; i++ {
		m.mu.Lock()
		if m.st.Paused || len(m.st.Entries) == 0 {
			m.mu.Unlock()
			break
		}
		entry := m.st.Entries[0]
		m.mu.Unlock()

		result := m.attemptMerge(entry)
		results = append(results, result)
		if result.Err != nil {
			break
		}
	}
	return results, nil
}

// attemptMerge runs the single-merge algorithm of spec.md §4.4 against
// the head queue entry. On any failure it increments attempts, records
// the error, pauses the queue, and notifies the listener; on success it
// pops the entry and notifies the listener.
func (m *Manager) attemptMerge(entry Entry) Result {
	result := Result{IssueNumber: entry.IssueNumber, BranchName: entry.BranchName}

	token, err := m.tokens()
	if err != nil {
		return m.fail(entry, result, &errs.TrackerUnavailable{Err: err})
	}
	if err := m.baseRepo.SetRemoteURL("origin", remoteURLFunc(m.repoRef, token)); err != nil {
		return m.fail(entry, result, err)
	}
	if err := m.baseRepo.Fetch("origin"); err != nil {
		return m.fail(entry, result, err)
	}
	if err := m.baseRepo.Checkout(m.baseBranch); err != nil {
		return m.fail(entry, result, err)
	}
	if err := m.baseRepo.Pull("origin", m.baseBranch); err != nil {
		return m.fail(entry, result, err)
	}
	if !m.baseRepo.BranchExistsRemote("origin", entry.BranchName) {
		return m.fail(entry, result, &errs.BranchMissing{Branch: entry.BranchName})
	}

	message := fmt.Sprintf("Merge issue #%d (%s)", entry.IssueNumber, entry.BranchName)
	mergeErr := m.baseRepo.MergeNoFF("origin/"+entry.BranchName, message)
	if mergeErr != nil {
		files, _ := m.baseRepo.ConflictFiles()
		m.baseRepo.AbortMerge()
		if len(files) > 0 {
			result.ConflictFiles = files
			return m.fail(entry, result, &errs.MergeConflict{Branch: entry.BranchName, Files: files})
		}
		return m.fail(entry, result, &errs.MergeFailed{Branch: entry.BranchName, Stderr: mergeErr.Error()})
	}

	head, err := m.baseRepo.HeadCommit(m.baseBranch)
	if err != nil {
		return m.fail(entry, result, err)
	}
	result.HeadSHA = head

	if err := m.baseRepo.Push("origin", m.baseBranch); err != nil {
		// Local merge commit stays in place; the next tick's fetch+pull
		// reconciles once the push succeeds (spec.md §4.4 step 8).
		return m.fail(entry, result, &errs.PushFailed{Branch: entry.BranchName, Stderr: err.Error()})
	}

	_ = m.baseRepo.DeleteRemoteBranch("origin", entry.BranchName)

	m.mu.Lock()
	m.st.Entries = m.st.Entries[1:]
	persistErr := m.persist()
	m.mu.Unlock()
	if persistErr != nil {
		result.Err = persistErr
		return result
	}

	if m.listener != nil {
		m.listener.OnMergeSuccess(result)
	}
	return result
}

func (m *Manager) fail(entry Entry, result Result, err error) Result {
	result.Err = err

	m.mu.Lock()
	if len(m.st.Entries) > 0 && m.st.Entries[0].IssueNumber == entry.IssueNumber {
		m.st.Entries[0].Attempts++
		m.st.Entries[0].LastError = err.Error()
	}
	m.st.Paused = true
	m.st.PauseReason = fmt.Sprintf("issue #%d: %s", entry.IssueNumber, err)
	_ = m.persist()
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.OnMergeConflict(result)
	}
	return result
}

// remoteURLFunc builds the authenticated origin URL for a merge attempt.
// Replaced in tests to point at a local repository instead of GitHub,
// mirroring internal/vcs's sleepFunc override.
var remoteURLFunc = tokenURL

// SetRemoteURLFunc overrides the remote-URL builder attemptMerge uses,
// letting tests point a Manager at a local bare-repo path instead of
// GitHub. Returns the previous value so a test can restore it afterward.
func SetRemoteURLFunc(f func(repoRef, token string) string) (previous func(repoRef, token string) string) {
	previous = remoteURLFunc
	remoteURLFunc = f
	return previous
}

func tokenURL(repoRef, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repoRef)
}

// ConflictComment renders an operator-facing tracker comment body for a
// conflicted merge: the changed-file list (filtered through ignorePatterns,
// typically loaded via LoadIgnorePatterns so generated artifacts don't
// clutter it) and a unified-diff-derived summary of the conflicting hunks.
func ConflictComment(result Result, ignorePatterns []string, localDiff, remoteDiff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge conflict on `%s` (issue #%d).\n\n", result.BranchName, result.IssueNumber)

	files := filterIgnored(result.ConflictFiles, ignorePatterns)
	if len(files) > 0 {
		sort.Strings(files)
		b.WriteString("Conflicting files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}

	if localDiff != "" || remoteDiff != "" {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(localDiff, remoteDiff, false)
		b.WriteString("Diff summary:\n```\n")
		b.WriteString(dmp.DiffPrettyText(diffs))
		b.WriteString("\n```\n")
	}

	b.WriteString("\nResolve manually, then run `conveyor queue resume`.\n")
	return b.String()
}

// LoadIgnorePatterns reads .conveyorignore from repoPath, one gitignore-style
// pattern per line, blank lines and "#" comments skipped. A missing file
// yields no patterns — ConflictComment then lists every conflicting file.
func LoadIgnorePatterns(repoPath string) []string {
	data, err := os.ReadFile(filepath.Join(repoPath, ".conveyorignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

func filterIgnored(files []string, patterns []string) []string {
	if len(patterns) == 0 {
		return files
	}
	matcher := gitignore.CompileIgnoreLines(patterns...)
	var out []string
	for _, f := range files {
		if !matcher.MatchesPath(f) {
			out = append(out, f)
		}
	}
	return out
}
