package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a conveyor configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := loadAndValidateConfig(path); err != nil {
			return err
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}
