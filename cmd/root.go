package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "killwatch",
	Short: "Killmail surveillance matching engine",
	Long: `killwatch matches incoming killmails against user-defined surveillance
profiles in near real time and dispatches notifications for every match.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + KILLWATCH_* env)")
}
