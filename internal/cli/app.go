package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conveyor-forge/conveyor/internal/agentrun"
	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/dispatcher"
	"github.com/conveyor-forge/conveyor/internal/layout"
	"github.com/conveyor-forge/conveyor/internal/mergequeue"
	"github.com/conveyor-forge/conveyor/internal/provisioner"
	"github.com/conveyor-forge/conveyor/internal/telemetry"
	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/vcs"
	"github.com/conveyor-forge/conveyor/internal/worktree"
)

// app bundles the constructed components a CLI command operates on. It is
// assembled once per invocation from an immutable *config.Config — there
// is no package-level config or component singleton anywhere in this tree
// (SPEC_FULL.md §9, "global mutable state" realization).
type app struct {
	cfg        *config.Config
	store      *tracker.MemStore
	worktrees  *worktree.Manager
	queue      *mergequeue.Manager
	dispatcher *dispatcher.Dispatcher
}

// mergeListener adapts mergequeue.Listener to worktree cleanup and ticket
// annotation, wiring DESIGN.md's Open Question Decision #3 (cleanup after
// C4 success).
type mergeListener struct {
	store     tracker.IssueStore
	worktrees *worktree.Manager
	baseRepo  *vcs.Repo
	baseDir   string
	baseRef   string
}

func (l *mergeListener) OnMergeSuccess(r mergequeue.Result) {
	_ = l.store.AddLabels(r.IssueNumber, tracker.LabelComplete)
	_ = l.store.RemoveLabels(r.IssueNumber, tracker.LabelMergePending)
	_ = l.store.CreateComment(r.IssueNumber, fmt.Sprintf("Merged as %s.", r.HeadSHA))
	_ = l.store.Close(r.IssueNumber)
	_, _ = l.worktrees.Cleanup(r.IssueNumber, true)
}

// OnMergeConflict renders and posts a diff-bearing conflict comment. The
// merge attempt already aborted by the time this fires, but the fetched
// origin/<branch> ref and the local base-branch ref are both still
// present, so the two sides' changes since they diverged can still be
// diffed for the comment body.
func (l *mergeListener) OnMergeConflict(r mergequeue.Result) {
	_ = l.store.AddLabels(r.IssueNumber, tracker.LabelMergeConflict)
	_ = l.store.RemoveLabels(r.IssueNumber, tracker.LabelMergePending)

	remoteRef := "origin/" + r.BranchName
	var localDiff, remoteDiff string
	if base, err := l.baseRepo.MergeBase(l.baseRef, remoteRef); err == nil {
		localDiff, _ = l.baseRepo.UnifiedDiff(base, l.baseRef)
		remoteDiff, _ = l.baseRepo.UnifiedDiff(base, remoteRef)
	}
	ignorePatterns := mergequeue.LoadIgnorePatterns(l.baseDir)

	body := mergequeue.ConflictComment(r, ignorePatterns, localDiff, remoteDiff)
	_ = l.store.CreateComment(r.IssueNumber, body)
}

// seedTicket is the on-disk shape of a demo tracker seed file (see
// config.TicketsSeedFile). The production tracker client is out of scope
// (spec.md §1); this lets the CLI run end to end against a local
// fixture instead.
type seedTicket struct {
	Number    int      `yaml:"number"`
	Title     string   `yaml:"title"`
	Body      string   `yaml:"body"`
	CreatedAt string   `yaml:"created_at"`
	Reactions []string `yaml:"reactions"` // "principal:kind"
	Labels    []string `yaml:"labels"`
}

func newApp(cfg *config.Config) (*app, error) {
	store := tracker.NewMemStore(cfg.AuthorizedApprovers)
	if cfg.TicketsSeedFile != "" {
		if err := seedFromFile(store, cfg.TicketsSeedFile); err != nil {
			return nil, fmt.Errorf("seeding tickets: %w", err)
		}
	}

	wm, err := worktree.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	baseDir := layout.BaseRepoDir(cfg.WorkspaceRoot)
	listener := &mergeListener{
		store:     store,
		worktrees: wm,
		baseRepo:  vcs.NewRepo(baseDir),
		baseDir:   baseDir,
		baseRef:   "main",
	}
	tokens := func() (string, error) { return os.Getenv("CONVEYOR_TOKEN"), nil }
	mq := mergequeue.New(cfg.WorkspaceRoot, cfg.RepoRef, "main", tokens, listener)

	runtime := agentrun.NewPTYRuntime(cfg, filepath.Join(cfg.WorkspaceRoot, "logs"))
	d := dispatcher.New(cfg, store, wm, mq, runtime)

	setupTelemetry(d, mq)

	return &app{cfg: cfg, store: store, worktrees: wm, queue: mq, dispatcher: d}, nil
}

// setupTelemetry wires the three C1/C3/C4 tracer spans SPEC_FULL.md §9.1
// prescribes. Tracing is opt-in: OTEL_EXPORTER=stdout prints spans as the
// daemon runs; any other value (including unset) keeps the default no-op
// provider so tracing never affects control flow.
func setupTelemetry(d *dispatcher.Dispatcher, mq *mergequeue.Manager) {
	if os.Getenv("OTEL_EXPORTER") != "stdout" {
		return
	}
	provider, err := telemetry.NewStdout(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry setup failed, tracing disabled: %s\n", err)
		return
	}
	d.SetTelemetry(provider)
	mq.SetTelemetry(provider)
	provisioner.SetTracer(provider)
}

func seedFromFile(store *tracker.MemStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seeds []seedTicket
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return err
	}
	for _, s := range seeds {
		createdAt, err := time.Parse(time.RFC3339, s.CreatedAt)
		if err != nil {
			createdAt = time.Now().UTC()
		}
		labels := make(map[string]bool, len(s.Labels))
		for _, l := range s.Labels {
			labels[l] = true
		}
		var reactions []tracker.Reaction
		for _, r := range s.Reactions {
			principal, kind := splitReaction(r)
			reactions = append(reactions, tracker.Reaction{Principal: principal, Kind: kind})
		}
		store.Seed(tracker.Ticket{
			Number:    s.Number,
			Title:     s.Title,
			Body:      s.Body,
			Labels:    labels,
			CreatedAt: createdAt,
		}, reactions)
	}
	return nil
}

func splitReaction(s string) (principal, kind string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// ensureBaseRepo provisions the base repo (C1) if it is not already
// usable, refreshing it from origin either way.
func ensureBaseRepo(cfg *config.Config) error {
	token := os.Getenv("CONVEYOR_TOKEN")
	_, err := provisioner.Ensure(cfg.RepoRef, token, layout.BaseRepoDir(cfg.WorkspaceRoot))
	return err
}
