package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"crashwatcher/internal/app"
)

var simulateScript string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a multiplier script through the full pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateScript == "" {
			return errors.New("--script is required")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			ScriptPath: simulateScript,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateScript, "script", "", "Path to a multiplier script ('-' or 'x' marks an absent read)")
}
