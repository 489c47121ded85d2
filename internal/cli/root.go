package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conveyor",
	Short: "Coordinate parallel coding agent sessions over a shared repository",
	Long: `conveyor is the coordination core for running multiple autonomous coding
agents against a single shared repository in isolated git worktrees, and
serially merging their completed branches into trunk through a pausable
FIFO merge queue.

It provisions the base repository, isolates each approved ticket in its
own worktree, admits bounded parallel sessions, and integrates finished
branches one at a time — pausing for manual resolution on the first
merge conflict.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "conveyor.yaml", "Path to conveyor config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conveyor %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
