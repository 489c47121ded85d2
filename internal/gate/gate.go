// Package gate runs the pre-merge quality gates configured for a ticket's
// worktree before it is admitted to the merge queue. Adapted from the
// teacher's internal/cli/gate.go pre-commit gate runner, retargeted from
// staged-file linting (run once before a commit) to completed-branch
// verification (run once after the agent run finishes, before
// merge-pending).
package gate

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/vcs"
)

// Failure describes which gate failed and why.
type Failure struct {
	Name   string
	Output string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("gate %q failed: %s", f.Name, f.Output)
}

// RunAll runs every configured gate inside worktreeDir in order, stopping
// at the first failure. The placeholder {changed} in a gate's run string
// is replaced with the space-separated list of files changed relative to
// baseBranch.
func RunAll(worktreeDir, baseBranch string, gates []config.Gate) error {
	if len(gates) == 0 {
		return nil
	}
	repo := vcs.NewRepo(worktreeDir)
	changed, err := repo.ChangedFiles(baseBranch, "HEAD")
	if err != nil {
		return fmt.Errorf("listing changed files: %w", err)
	}
	changedStr := strings.Join(changed, " ")

	for _, g := range gates {
		runStr := strings.ReplaceAll(g.Run, "{changed}", changedStr)
		cmd := exec.Command("sh", "-c", runStr)
		cmd.Dir = worktreeDir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return &Failure{Name: g.Name, Output: string(out)}
		}
	}
	return nil
}
