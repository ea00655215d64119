package cli

import (
	"github.com/spf13/cobra"
)

// newWatchdogCmd runs one stall scan across all managed orchestrations.
func newWatchdogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "Scan for stalled orchestrations and resume them",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := wireRuntime()
			if err != nil {
				return err
			}

			stalls, err := rt.watchdog().CheckStalled(cmd.Context())
			if err != nil {
				return err
			}

			rt.logger.Info("watchdog scan complete", "stalled", len(stalls))
			return nil
		},
	}
}
