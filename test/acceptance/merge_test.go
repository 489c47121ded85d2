package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conveyor-forge/conveyor/internal/layout"
	"github.com/conveyor-forge/conveyor/internal/mergequeue"
)

// recordingListener captures every outcome ProcessQueue reports, so these
// scenarios can assert on both the queue's own state and what C3/tracker
// wiring would have been told.
type recordingListener struct {
	successes []mergequeue.Result
	conflicts []mergequeue.Result
}

func (l *recordingListener) OnMergeSuccess(r mergequeue.Result)  { l.successes = append(l.successes, r) }
func (l *recordingListener) OnMergeConflict(r mergequeue.Result) { l.conflicts = append(l.conflicts, r) }

// These scenarios exercise attemptMerge/ProcessQueue against a real local
// git remote rather than GitHub, by overriding the package's remote-URL
// builder (mergequeue.SetRemoteURLFunc) to point "origin" back at the bare
// repo newWorkspace() already created — the same injectability mirroring
// internal/vcs's sleepFunc that production code uses for a real token URL.

var _ = Describe("a clean merge (scenario: single approval merges cleanly)", func() {
	It("merges the branch into trunk with a merge commit, pushes, and reports success", func() {
		workspaceRoot := newWorkspace()
		bareDir := filepath.Join(workspaceRoot, "origin.git")

		branchClone := filepath.Join(workspaceRoot, "branch-clone")
		runGit("", "clone", bareDir, branchClone)
		runGit(branchClone, "checkout", "-b", "issue-10")
		writeFile(filepath.Join(branchClone, "feature.txt"), "a new feature\n")
		runGit(branchClone, "add", "feature.txt")
		runGit(branchClone, "commit", "-m", "add feature")
		runGit(branchClone, "push", "origin", "issue-10")

		restore := mergequeue.SetRemoteURLFunc(func(repoRef, token string) string { return bareDir })
		defer restore()

		listener := &recordingListener{}
		mq := mergequeue.New(workspaceRoot, "acme/widgets", "main", func() (string, error) { return "", nil }, listener)
		Expect(mq.Enqueue(10, "issue-10")).To(Succeed())

		results, err := mq.ProcessQueue(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Err).NotTo(HaveOccurred())
		Expect(results[0].HeadSHA).NotTo(BeEmpty())

		Expect(mq.Paused()).To(BeFalse())
		Expect(mq.Length()).To(Equal(0), "a successful merge pops the entry")
		Expect(listener.successes).To(HaveLen(1))

		remoteLog := runGitOutput(bareDir, "log", "main", "-1", "--pretty=%s")
		Expect(remoteLog).To(ContainSubstring("issue-10"), "the merge must actually land on the remote's main")
	})
})

var _ = Describe("a missing branch (boundary: branch deleted before merge)", func() {
	It("fails with BranchMissing and pauses instead of attempting a merge", func() {
		workspaceRoot := newWorkspace()
		bareDir := filepath.Join(workspaceRoot, "origin.git")

		restore := mergequeue.SetRemoteURLFunc(func(repoRef, token string) string { return bareDir })
		defer restore()

		listener := &recordingListener{}
		mq := mergequeue.New(workspaceRoot, "acme/widgets", "main", func() (string, error) { return "", nil }, listener)
		Expect(mq.Enqueue(40, "issue-40")).To(Succeed())

		results, err := mq.ProcessQueue(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Err).To(HaveOccurred())
		Expect(results[0].Err.Error()).To(ContainSubstring("issue-40"))

		Expect(mq.Paused()).To(BeTrue())
		Expect(listener.conflicts).To(HaveLen(1), "BranchMissing routes through the same fail/notify path as a conflict")
	})
})

var _ = Describe("a real merge conflict (scenario: conflicting merge pauses the queue)", func() {
	It("pauses on a genuine git conflict and reports the conflicting files", func() {
		workspaceRoot := newWorkspace()
		bareDir := filepath.Join(workspaceRoot, "origin.git")

		branchClone := filepath.Join(workspaceRoot, "branch-clone")
		runGit("", "clone", bareDir, branchClone)
		runGit(branchClone, "checkout", "-b", "issue-20")
		writeFile(filepath.Join(branchClone, "README.md"), "from the ticket branch\n")
		runGit(branchClone, "add", "README.md")
		runGit(branchClone, "commit", "-m", "ticket change")
		runGit(branchClone, "push", "origin", "issue-20")

		mainClone := filepath.Join(workspaceRoot, "main-clone")
		runGit("", "clone", bareDir, mainClone)
		writeFile(filepath.Join(mainClone, "README.md"), "from trunk\n")
		runGit(mainClone, "add", "README.md")
		runGit(mainClone, "commit", "-m", "trunk change")
		runGit(mainClone, "push", "origin", "main")

		restore := mergequeue.SetRemoteURLFunc(func(repoRef, token string) string { return bareDir })
		defer restore()

		listener := &recordingListener{}
		mq := mergequeue.New(workspaceRoot, "acme/widgets", "main", func() (string, error) { return "", nil }, listener)
		Expect(mq.Enqueue(20, "issue-20")).To(Succeed())
		Expect(mq.Enqueue(21, "issue-21")).To(Succeed())

		results, err := mq.ProcessQueue(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1), "ProcessQueue stops at the first failure (B3)")
		Expect(results[0].Err).To(HaveOccurred())
		Expect(results[0].ConflictFiles).To(ContainElement("README.md"))

		Expect(mq.Paused()).To(BeTrue())
		Expect(mq.PauseReason()).To(ContainSubstring("#20"))
		Expect(listener.conflicts).To(HaveLen(1))

		second, err := mq.ProcessQueue(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeEmpty(), "a paused queue does not attempt further merges on its own (B3)")
		Expect(mq.Position(21)).To(Equal(2), "#21 stays queued behind the paused #20")
	})
})

var _ = Describe("a rejected push (scenario: crash/network failure mid-merge)", func() {
	It("keeps the local merge commit in place and pauses for a later retry", func() {
		workspaceRoot := newWorkspace()
		bareDir := filepath.Join(workspaceRoot, "origin.git")

		branchClone := filepath.Join(workspaceRoot, "branch-clone")
		runGit("", "clone", bareDir, branchClone)
		runGit(branchClone, "checkout", "-b", "issue-30")
		writeFile(filepath.Join(branchClone, "feature.txt"), "new feature\n")
		runGit(branchClone, "add", "feature.txt")
		runGit(branchClone, "commit", "-m", "add feature")
		runGit(branchClone, "push", "origin", "issue-30")

		// A pre-receive hook rejects every push, simulating the push-side
		// failure spec.md §4.4 step 8 says must not lose the local merge.
		hookPath := filepath.Join(bareDir, "hooks", "pre-receive")
		writeFile(hookPath, "#!/bin/sh\necho rejected-for-test >&2\nexit 1\n")
		Expect(os.Chmod(hookPath, 0755)).To(Succeed())

		restore := mergequeue.SetRemoteURLFunc(func(repoRef, token string) string { return bareDir })
		defer restore()

		listener := &recordingListener{}
		mq := mergequeue.New(workspaceRoot, "acme/widgets", "main", func() (string, error) { return "", nil }, listener)
		Expect(mq.Enqueue(30, "issue-30")).To(Succeed())

		results, err := mq.ProcessQueue(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Err).To(HaveOccurred())
		Expect(results[0].HeadSHA).NotTo(BeEmpty(), "the merge commit forms locally before the rejected push")

		Expect(mq.Paused()).To(BeTrue())
		Expect(listener.conflicts).To(HaveLen(1), "PushFailed routes through the same pause/notify path as a conflict")
		Expect(mq.Length()).To(Equal(1), "the entry is not popped; it stays queued for a retry once the queue resumes")

		baseDir := layout.BaseRepoDir(workspaceRoot)
		log := runGitOutput(baseDir, "log", "-1", "--pretty=%s")
		Expect(log).To(ContainSubstring("Merge issue #30"), "the local merge commit must survive the rejected push")
	})
})
