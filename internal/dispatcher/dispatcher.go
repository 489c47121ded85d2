// Package dispatcher implements C3, Session Admission & Dispatcher: the
// single-threaded admission tick that selects buildable tickets, asks C2
// for worktrees, allocates slots and ports, and drives the ticket
// lifecycle label state machine (spec.md §4.3).
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/google/uuid"

	"github.com/conveyor-forge/conveyor/internal/agentrun"
	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/gate"
	"github.com/conveyor-forge/conveyor/internal/mergequeue"
	"github.com/conveyor-forge/conveyor/internal/telemetry"
	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/worktree"
)

// Enqueuer is the slice of mergequeue.Manager the dispatcher depends on,
// kept narrow so C3 never needs to import the rest of C4 (no C3<->C4
// cycle, per spec.md §9).
type Enqueuer interface {
	Enqueue(issueNumber int, branch string) error
}

// Dispatcher drives one admission tick at a time. Tick is guarded by a
// single mutex (spec.md §5: "a single process-wide mutex around the
// admission tick") so overlapping scheduler invocations never double-admit.
type Dispatcher struct {
	cfg      *config.Config
	store    tracker.IssueStore
	worktree *worktree.Manager
	queue    Enqueuer
	runtime  agentrun.AgentRuntime

	tickMu sync.Mutex

	sessionCache *cache.Cache
	telemetry    *telemetry.Provider
}

// New constructs a Dispatcher. cfg is threaded through explicitly rather
// than read from a global — no package-level config variable exists
// anywhere in this tree (SPEC_FULL.md §9, "global mutable state" realization).
// Tracing defaults to a no-op provider; SetTelemetry installs a real one.
func New(cfg *config.Config, store tracker.IssueStore, wm *worktree.Manager, queue Enqueuer, runtime agentrun.AgentRuntime) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		store:        store,
		worktree:     wm,
		queue:        queue,
		runtime:      runtime,
		sessionCache: cache.New(5*time.Second, 10*time.Second),
		telemetry:    telemetry.NewNoop(),
	}
}

// SetTelemetry installs the tracer provider Tick opens its span through
// (SPEC_FULL.md §9.1). internal/cli/app.go calls this once at startup
// when tracing is enabled.
func (d *Dispatcher) SetTelemetry(p *telemetry.Provider) {
	d.telemetry = p
}

// AvailableSlots computes max(0, MaxSlots - active_build_count), where
// active_build_count is the number of tickets currently carrying the
// building label (spec.md §4.3) — not the worktree count, since a
// worktree deliberately outlives its ticket's building label through
// merge-pending (DESIGN.md Open Question Decision #3).
func (d *Dispatcher) AvailableSlots() int {
	building, err := d.store.ListOpen(tracker.LabelBuilding)
	if err != nil {
		return 0
	}
	avail := d.cfg.EffectiveMaxSlots() - len(building)
	if avail < 0 {
		return 0
	}
	return avail
}

// Tick runs one admission cycle: select buildable tickets, admit up to
// the available slot count, and hand each to the agent runtime. It
// returns the tickets admitted this tick.
func (d *Dispatcher) Tick() ([]tracker.Ticket, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	_, span := d.telemetry.StartTick(context.Background())
	defer span.End()

	available := d.AvailableSlots()
	if available <= 0 {
		return nil, nil
	}

	tickets, err := d.listBuildable()
	if err != nil {
		return nil, err
	}
	if len(tickets) > available {
		tickets = tickets[:available]
	}

	admitted := make([]tracker.Ticket, 0, len(tickets))
	activeCount := d.cfg.EffectiveMaxSlots() - available
	for _, t := range tickets {
		slot := activeCount
		if err := d.admit(t, slot); err != nil {
			continue
		}
		activeCount++
		admitted = append(admitted, t)
	}
	return admitted, nil
}

// listBuildable fetches open tickets and their reactions, computing
// approval/votes, then orders them per spec.md §4.3. Each ticket's
// reactions are cached in the dispatcher for a few seconds, so calls made
// within that window reuse them instead of querying the tracker again.
func (d *Dispatcher) listBuildable() ([]tracker.Ticket, error) {
	open, err := d.store.ListOpen()
	if err != nil {
		return nil, fmt.Errorf("listing open tickets: %w", err)
	}

	authorized := make(map[string]bool, len(d.cfg.AuthorizedApprovers))
	for _, a := range d.cfg.AuthorizedApprovers {
		authorized[a] = true
	}

	resolved := make([]tracker.Ticket, 0, len(open))
	for _, t := range open {
		cacheKey := fmt.Sprintf("reactions:%d", t.Number)
		var reactions []tracker.Reaction
		if cached, ok := d.sessionCache.Get(cacheKey); ok {
			reactions = cached.([]tracker.Reaction)
		} else {
			reactions, err = d.store.ListReactions(t.Number)
			if err != nil {
				return nil, fmt.Errorf("listing reactions for #%d: %w", t.Number, err)
			}
			d.sessionCache.Set(cacheKey, reactions, cache.DefaultExpiration)
		}
		votes, approvers := tracker.ComputeApproval(reactions, authorized)
		t.Votes = votes
		t.Approvers = approvers
		resolved = append(resolved, t)
	}

	return tracker.SelectBuildable(resolved), nil
}

// admit performs the admission algorithm for one ticket (spec.md §4.3
// step 3): worktree creation, label transition, comment, and handing the
// session to the agent runtime.
func (d *Dispatcher) admit(t tracker.Ticket, slot int) error {
	sessionID := fmt.Sprintf("session-%d-%s", t.Number, uuid.New().String())

	path, err := d.worktree.Create(t.Number, sessionID, "main")
	if err != nil {
		_ = d.store.AddLabels(t.Number, tracker.LabelTestsFailed)
		_ = d.store.CreateComment(t.Number, fmt.Sprintf("Worktree creation failed: %s", err))
		return err
	}

	_ = d.store.AddLabels(t.Number, tracker.LabelBuilding)
	_ = d.store.RemoveLabels(t.Number, tracker.LabelQueued, tracker.LabelRebuilding)

	frontend, backend := d.cfg.PortsForSlot(slot)
	isRebuild := t.HasLabel(tracker.LabelRebuilding)
	_ = d.store.CreateComment(t.Number, fmt.Sprintf(
		"Session `%s` started (rebuild=%t) on ports frontend=%d backend=%d.",
		sessionID, isRebuild, frontend, backend,
	))

	session := agentrun.Session{
		IssueNumber:   t.Number,
		SessionID:     sessionID,
		WorktreePath:  path,
		BranchName:    fmt.Sprintf("issue-%d", t.Number),
		FrontendPort:  frontend,
		BackendPort:   backend,
	}

	go d.runSession(t.Number, session)
	return nil
}

// runSession invokes the agent runtime and handles its terminal outcome.
// Running this off the tick goroutine lets multiple admitted sessions
// proceed in true external parallelism, matching spec.md §5's "agent
// runtime invocations are external and may proceed in true parallel".
func (d *Dispatcher) runSession(issueNumber int, session agentrun.Session) {
	outcome, err := d.runtime.Start(session)
	if err != nil || !outcome.Success {
		d.handleFailure(issueNumber, err, outcome)
		return
	}
	d.handleCompletion(issueNumber, session.BranchName)
}

// handleCompletion transitions a ticket to merge-pending and enqueues it
// into C4 synchronously — a direct call, not a callback, keeping the
// dependency arrow C3 -> C4 one-directional (DESIGN.md Open Question
// Decision #2). The worktree is deliberately left in place; C2 cleans it
// up only after C4 reports success (mergequeue.Listener.OnMergeSuccess).
func (d *Dispatcher) handleCompletion(issueNumber int, branch string) {
	if len(d.cfg.Gates) > 0 {
		if path, ok := d.worktree.Path(issueNumber); ok {
			if err := gate.RunAll(path, "main", d.cfg.Gates); err != nil {
				d.handleFailure(issueNumber, err, agentrun.Outcome{Success: false, Err: err.Error()})
				return
			}
		}
	}

	_ = d.store.AddLabels(issueNumber, tracker.LabelMergePending)
	_ = d.store.RemoveLabels(issueNumber, tracker.LabelBuilding)
	_ = d.store.CreateComment(issueNumber, "Agent run complete; queued for merge.")
	_ = d.queue.Enqueue(issueNumber, branch)
}

// handleFailure transitions a ticket to tests-failed and annotates it
// with the error. The worktree itself is left in place for inspection;
// it is swept up later by the CleanupStale pass each daemon tick runs
// (internal/cli/run.go's runOnceCycle), once it is older than
// cfg.StaleWorktreeHours.
func (d *Dispatcher) handleFailure(issueNumber int, err error, outcome agentrun.Outcome) {
	_ = d.store.AddLabels(issueNumber, tracker.LabelTestsFailed)
	_ = d.store.RemoveLabels(issueNumber, tracker.LabelBuilding)
	msg := outcome.Err
	if msg == "" && err != nil {
		msg = err.Error()
	}
	_ = d.store.CreateComment(issueNumber, fmt.Sprintf("Agent run failed: %s", msg))
}
