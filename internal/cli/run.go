package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/layout"
)

var runOnce bool

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run one admission tick and one merge pass, then exit")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conveyor coordination daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}

		if err := ensureBaseRepo(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: base repo provisioning failed: %s\n", err)
		}

		if runOnce {
			return runOnceCycle(cfg, a)
		}
		return runDaemon(cfg, a)
	},
}

// runOnceCycle performs one admission tick and one merge-queue processing
// pass — the "tick" the daemon loop otherwise repeats on an interval.
func runOnceCycle(cfg *config.Config, a *app) error {
	admitted, err := a.dispatcher.Tick()
	if err != nil {
		fmt.Fprintf(os.Stderr, "admission tick error: %s\n", err)
	}
	fmt.Printf("admitted %d ticket(s)\n", len(admitted))

	results, err := a.queue.ProcessQueue(cfg.MaxMergesPerTick)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("merge #%d failed: %s\n", r.IssueNumber, r.Err)
		} else {
			fmt.Printf("merge #%d succeeded (%s)\n", r.IssueNumber, r.HeadSHA)
		}
	}

	maxAge := time.Duration(cfg.StaleWorktreeHours) * time.Hour
	if err := a.worktrees.CleanupStale(maxAge); err != nil {
		fmt.Fprintf(os.Stderr, "warning: stale worktree cleanup failed: %s\n", err)
	}
	return nil
}

func runDaemon(cfg *config.Config, a *app) error {
	if pid := readDaemonPID(cfg.WorkspaceRoot); isProcessAlive(pid) {
		return fmt.Errorf("a conveyor daemon is already running (pid %d)", pid)
	}
	if err := writeDaemonPID(cfg.WorkspaceRoot); err != nil {
		return fmt.Errorf("writing daemon pid file: %w", err)
	}
	defer os.Remove(layout.PidFile(cfg.WorkspaceRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	tickFn := func() {
		if err := runOnceCycle(cfg, a); err != nil {
			fmt.Fprintf(os.Stderr, "tick error: %s\n", err)
		}
	}

	fmt.Printf("conveyor daemon started (workspace %s)\n", cfg.WorkspaceRoot)
	tickFn()

	if cfg.CronSchedule != "" {
		return runCronDaemon(ctx, cancel, sigCh, cfg.CronSchedule, tickFn)
	}
	return runIntervalDaemon(ctx, cancel, sigCh, cfg.PollInterval.Duration(), tickFn)
}

func runIntervalDaemon(ctx context.Context, cancel context.CancelFunc, sigCh chan os.Signal, interval time.Duration, tickFn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("conveyor daemon stopped")
			return nil
		case sig := <-sigCh:
			fmt.Printf("\nreceived %s, shutting down...\n", sig)
			cancel()
		case <-ticker.C:
			tickFn()
		}
	}
}

// runCronDaemon drives the same tick function on a cron expression
// instead of a fixed interval (SPEC_FULL.md §2.1 domain stack — an
// alternative daemon schedule enrichment, not a core requirement).
func runCronDaemon(ctx context.Context, cancel context.CancelFunc, sigCh chan os.Signal, schedule string, tickFn func()) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, tickFn); err != nil {
		return fmt.Errorf("invalid cron_schedule %q: %w", schedule, err)
	}
	c.Start()
	defer c.Stop()

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		fmt.Printf("\nreceived %s, shutting down...\n", sig)
		cancel()
	}
	fmt.Println("conveyor daemon stopped")
	return nil
}

// writeDaemonPID and readDaemonPID/isProcessAlive implement the same
// duplicate-instance guard as the teacher's engine.RunnerLoop, retargeted
// from a per-repo runner.pid to a per-workspace daemon.pid.
func writeDaemonPID(workspaceRoot string) error {
	if err := layout.EnsureDir(layout.SessionStateDir(workspaceRoot)); err != nil {
		return err
	}
	return os.WriteFile(layout.PidFile(workspaceRoot), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func readDaemonPID(workspaceRoot string) int {
	data, err := os.ReadFile(layout.PidFile(workspaceRoot))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
