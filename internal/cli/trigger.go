package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(triggerCmd)
}

// triggerCmd forces one admission tick immediately, starting a detached
// daemon first if none is running over this workspace. Adapted from the
// teacher's trigger-file + IsRunnerAlive idiom (internal/cli/trigger.go),
// retargeted from a per-repo trigger file to a direct one-shot tick since
// the coordination core has no watched-branch polling loop to wake.
var triggerCmd = &cobra.Command{
	Use:    "trigger",
	Short:  "Run one admission tick now, starting the daemon if it is not running",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}

		if pid := readDaemonPID(cfg.WorkspaceRoot); isProcessAlive(pid) {
			_, err := a.dispatcher.Tick()
			return err
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving self: %w", err)
		}

		runCmd := exec.Command(self, "run", "--config", configPath)
		runCmd.Stdin = nil
		runCmd.Stdout = nil
		runCmd.Stderr = nil
		runCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		for _, e := range os.Environ() {
			if !strings.HasPrefix(e, "CONVEYOR_TRIGGERED=") {
				runCmd.Env = append(runCmd.Env, e)
			}
		}

		if err := runCmd.Start(); err != nil {
			return fmt.Errorf("spawning daemon: %w", err)
		}
		return runCmd.Process.Release()
	},
}
