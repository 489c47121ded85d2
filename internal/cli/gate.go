package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conveyor-forge/conveyor/internal/config"
	"github.com/conveyor-forge/conveyor/internal/gate"
)

func init() {
	rootCmd.AddCommand(gateCmd)
}

var gateCmd = &cobra.Command{
	Use:   "gate <issue-number>",
	Short: "Run the configured pre-merge quality gates against a ticket's worktree",
	Long: `Run every configured gate (linters, formatters, type checkers) against the
changes a ticket's worktree holds relative to main. Gates run in order;
the first failure stops execution and exits non-zero.

The placeholder {changed} in a gate's run string is replaced with the
space-separated list of files changed relative to main. This is the
same check the dispatcher runs automatically on a completed ticket
before queueing it for merge (conveyor run); this command lets you
re-run it by hand while debugging a gate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid ticket number %q", args[0])
		}

		cfg, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}

		if errs := config.ValidateGates(cfg.Gates); len(errs) > 0 {
			for _, e := range errs {
				fmt.Println("Error:", e)
			}
			return fmt.Errorf("%d gate validation error(s)", len(errs))
		}
		if len(cfg.Gates) == 0 {
			fmt.Println("No gates configured.")
			return nil
		}

		_, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}
		worktreeDir, ok := a.worktrees.Path(number)
		if !ok {
			return fmt.Errorf("no worktree for issue #%d", number)
		}

		if err := gate.RunAll(worktreeDir, "main", cfg.Gates); err != nil {
			return err
		}
		fmt.Println("all gates passed")
		return nil
	},
}
