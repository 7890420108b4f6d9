package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"killwatch/bootstrap"
	"killwatch/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the surveillance engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		app, err := bootstrap.NewApp(cfg)
		if err != nil {
			return err
		}
		return app.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
