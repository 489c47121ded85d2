package acceptance_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/gomega"

	"github.com/conveyor-forge/conveyor/internal/layout"
	"github.com/conveyor-forge/conveyor/internal/worktree"
)

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.invalid",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.invalid",
	)
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
}

func runGitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
	return string(out)
}

// newWorkspace builds a bare "origin" repo seeded with one commit on
// main and clones it into workspaceRoot/base-repo, exactly as
// internal/provisioner.Ensure would leave it — minus the GitHub-shaped
// remote URL, since these tests never talk to a real GitHub.
func newWorkspace() (workspaceRoot string) {
	workspaceRoot, err := os.MkdirTemp("", "conveyor-acceptance-*")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	bareDir := filepath.Join(workspaceRoot, "origin.git")
	runGit("", "init", "--bare", "--initial-branch=main", bareDir)

	seedDir := filepath.Join(workspaceRoot, "seed")
	runGit("", "clone", bareDir, seedDir)
	writeFile(filepath.Join(seedDir, "README.md"), "hello\n")
	runGit(seedDir, "add", "README.md")
	runGit(seedDir, "commit", "-m", "initial commit")
	runGit(seedDir, "push", "origin", "main")

	baseRepo := layout.BaseRepoDir(workspaceRoot)
	runGit("", "clone", bareDir, baseRepo)
	runGit(baseRepo, "checkout", "main")

	return workspaceRoot
}

func writeFile(path, content string) {
	ExpectWithOffset(1, os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
	ExpectWithOffset(1, os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

// backdateWorktree rewrites issueNumber's created_at in the persisted
// worktree state file, simulating a session admitted age ago without
// needing to fake the system clock (internal/worktree.Manager has no
// exported knob for this; the state file is its only externally visible
// surface besides the filesystem tree it manages).
func backdateWorktree(workspaceRoot string, issueNumber int, age time.Duration) {
	path := layout.WorktreesStateFile(workspaceRoot)
	data, err := os.ReadFile(path)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	var records []worktree.Worktree
	ExpectWithOffset(1, json.Unmarshal(data, &records)).To(Succeed())
	for i := range records {
		if records[i].IssueNumber == issueNumber {
			records[i].CreatedAt = time.Now().UTC().Add(-age)
		}
	}

	out, err := json.MarshalIndent(records, "", "  ")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, os.WriteFile(path, out, 0644)).To(Succeed())
}
