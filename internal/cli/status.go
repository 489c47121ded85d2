package cli

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/conveyor-forge/conveyor/internal/mergequeue"
	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/tui"
)

var statusInterval float64

func init() {
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between dashboard refreshes")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Launch a live dashboard over tickets, the merge queue, and worktrees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}

		refresh := func() tui.Snapshot {
			open, _ := a.store.ListOpen()
			buildable := tracker.SelectBuildable(open)
			summaries := make([]tracker.Summary, 0, len(buildable))
			for _, t := range buildable {
				summaries = append(summaries, t.ToSummary())
			}
			return tui.Snapshot{
				Tickets:     summaries,
				Queue:       queueEntries(a.queue),
				QueuePaused: a.queue.Paused(),
				PauseReason: a.queue.PauseReason(),
				Worktrees:   a.worktrees.List(),
				AvailSlots:  a.dispatcher.AvailableSlots(),
				MaxSlots:    cfg.EffectiveMaxSlots(),
				RefreshedAt: time.Now(),
			}
		}

		interval := time.Duration(statusInterval * float64(time.Second))
		model := tui.NewModel(refresh, interval)
		p := tea.NewProgram(model)
		_, err = p.Run()
		return err
	},
}

func queueEntries(q *mergequeue.Manager) []mergequeue.Entry {
	entries := q.Snapshot()
	out := make([]mergequeue.Entry, len(entries))
	copy(out, entries)
	return out
}
