package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	queueCmd.AddCommand(queueStatusCmd, queueResumeCmd, queueProcessCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and control the merge queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the merge queue's current entries and pause state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}

		if a.queue.Paused() {
			fmt.Printf("PAUSED: %s\n\n", a.queue.PauseReason())
		}
		entries := a.queue.Snapshot()
		if len(entries) == 0 {
			fmt.Println("(queue empty)")
			return nil
		}
		for i, e := range entries {
			fmt.Printf("%d. issue #%d (%s) attempts=%d", i+1, e.IssueNumber, e.BranchName, e.Attempts)
			if e.LastError != "" {
				fmt.Printf(" last_error=%q", e.LastError)
			}
			fmt.Println()
		}
		return nil
	},
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a sticky merge-conflict pause",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}
		resumed, err := a.queue.Resume()
		if err != nil {
			return err
		}
		if resumed {
			fmt.Println("queue resumed; next merge tick will retry")
		} else {
			fmt.Println("queue was not paused")
		}
		return nil
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process the merge queue once, outside the daemon's tick cadence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}
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
		return nil
	},
}
