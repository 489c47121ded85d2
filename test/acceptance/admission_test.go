package acceptance_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conveyor-forge/conveyor/internal/agentrun"
	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/dispatcher"
	"github.com/conveyor-forge/conveyor/internal/mergequeue"
	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/worktree"
)

// noopEnqueuer satisfies dispatcher.Enqueuer without needing a real C4;
// these scenarios stop at "admitted and building", the boundary
// production testing can reach without a real GitHub remote.
type noopEnqueuer struct{ enqueued []int }

func (e *noopEnqueuer) Enqueue(issueNumber int, branch string) error {
	e.enqueued = append(e.enqueued, issueNumber)
	return nil
}

func newDispatcher(workspaceRoot string, maxSlots int, store *tracker.MemStore) (*dispatcher.Dispatcher, *worktree.Manager) {
	cfg := &config.Config{
		ParallelMode:         maxSlots > 1,
		MaxSlots:             maxSlots,
		PortOffsetPerSession: 10,
		WorkspaceRoot:        workspaceRoot,
		Agent: config.AgentConfig{
			Command: "sh",
			Args:    []string{"-c", "echo agent ran > agent-output.txt && git add agent-output.txt && git -c user.name=agent -c user.email=agent@localhost commit -m 'agent change'"},
		},
	}
	wm, err := worktree.NewManager(workspaceRoot)
	Expect(err).NotTo(HaveOccurred())
	runtime := agentrun.NewPTYRuntime(cfg, workspaceRoot+"/logs")
	d := dispatcher.New(cfg, store, wm, &noopEnqueuer{}, runtime)
	return d, wm
}

var _ = Describe("single approval (scenario: single approval merges cleanly, up to admission)", func() {
	It("admits an approved ticket and provisions its worktree", func() {
		workspaceRoot := newWorkspace()
		store := tracker.NewMemStore([]string{"alice"})
		store.Seed(tracker.Ticket{Number: 7, Title: "add widget"}, []tracker.Reaction{
			{Principal: "alice", Kind: "rocket"},
		})

		d, wm := newDispatcher(workspaceRoot, 2, store)
		admitted, err := d.Tick()
		Expect(err).NotTo(HaveOccurred())
		Expect(admitted).To(HaveLen(1))
		Expect(admitted[0].Number).To(Equal(7))

		Eventually(func() bool { return wm.Exists(7) }, "5s", "50ms").Should(BeTrue())

		tk, err := store.Get(7)
		Expect(err).NotTo(HaveOccurred())
		Expect(tk.HasLabel(tracker.LabelBuilding)).To(BeTrue())
	})
})

var _ = Describe("priority by votes", func() {
	It("admits the higher-voted ticket first under a single slot", func() {
		workspaceRoot := newWorkspace()
		store := tracker.NewMemStore([]string{"alice"})
		store.Seed(tracker.Ticket{Number: 10, Title: "low votes", CreatedAt: fixedTime()}, []tracker.Reaction{
			{Principal: "alice", Kind: "rocket"},
			{Principal: "someone", Kind: tracker.UpvoteReaction},
		})
		store.Seed(tracker.Ticket{Number: 11, Title: "high votes", CreatedAt: fixedTime().Add(time.Minute)}, []tracker.Reaction{
			{Principal: "alice", Kind: "rocket"},
			{Principal: "someone", Kind: tracker.UpvoteReaction},
			{Principal: "someone-else", Kind: tracker.UpvoteReaction},
			{Principal: "third", Kind: tracker.UpvoteReaction},
			{Principal: "fourth", Kind: tracker.UpvoteReaction},
			{Principal: "fifth", Kind: tracker.UpvoteReaction},
		})

		d, _ := newDispatcher(workspaceRoot, 1, store)
		admitted, err := d.Tick()
		Expect(err).NotTo(HaveOccurred())
		Expect(admitted).To(HaveLen(1))
		Expect(admitted[0].Number).To(Equal(11), "the ticket with more votes must be admitted first under a single slot")
	})
})

var _ = Describe("slot saturation", func() {
	It("admits only as many tickets as there are available slots", func() {
		workspaceRoot := newWorkspace()
		store := tracker.NewMemStore([]string{"alice"})
		for _, n := range []int{30, 31, 32} {
			store.Seed(tracker.Ticket{Number: n, Title: "ticket"}, []tracker.Reaction{
				{Principal: "alice", Kind: "rocket"},
			})
		}

		d, wm := newDispatcher(workspaceRoot, 2, store)
		admitted, err := d.Tick()
		Expect(err).NotTo(HaveOccurred())
		Expect(admitted).To(HaveLen(2), "max_slots=2 must cap admission even with three approved tickets")

		Eventually(func() int { return wm.ActiveCount() }, "5s", "50ms").Should(Equal(2))

		second, err := d.Tick()
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeEmpty(), "no slots remain while the first two sessions are still building")
	})
})

var _ = Describe("stale worktree cleanup", func() {
	It("removes only the worktree older than the threshold", func() {
		workspaceRoot := newWorkspace()
		wm, err := worktree.NewManager(workspaceRoot)
		Expect(err).NotTo(HaveOccurred())

		_, err = wm.Create(99, "stale-session", "main")
		Expect(err).NotTo(HaveOccurred())
		_, err = wm.Create(100, "fresh-session", "main")
		Expect(err).NotTo(HaveOccurred())

		backdateWorktree(workspaceRoot, 99, 26*time.Hour)

		wm2, err := worktree.NewManager(workspaceRoot)
		Expect(err).NotTo(HaveOccurred())
		Expect(wm2.CleanupStale(24 * time.Hour)).To(Succeed())

		Expect(wm2.Exists(99)).To(BeFalse(), "a 26h old worktree must be cleaned up")
		Expect(wm2.Exists(100)).To(BeTrue(), "a fresh worktree must survive stale cleanup")
	})
})

var _ = Describe("merge queue ordering without a live remote", func() {
	It("preserves FIFO order across completions handed off by the dispatcher", func() {
		workspaceRoot := newWorkspace()
		mq := mergequeue.New(workspaceRoot, "acme/widgets", "main", func() (string, error) { return "", nil }, nil)

		Expect(mq.Enqueue(20, "issue-20")).To(Succeed())
		Expect(mq.Enqueue(21, "issue-21")).To(Succeed())

		Expect(mq.Position(20)).To(Equal(1))
		Expect(mq.Position(21)).To(Equal(2))
	})
})

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
