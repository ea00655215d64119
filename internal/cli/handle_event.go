package cli

import (
	"github.com/spf13/cobra"

	"github.com/mohsen1/cco/internal/events"
)

// newHandleEventCmd is the reactor entry: one external event in, one state
// transition out. Exit 0 covers every handled event, including soft
// failures already recorded on the issue; non-zero means configuration
// error or state corruption.
func newHandleEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handle-event",
		Short: "Handle one repository event and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := wireRuntime()
			if err != nil {
				return err
			}

			trigger := rt.cfg.Trigger
			if trigger.Kind == events.TriggerSchedule {
				// Schedule ticks belong to the watchdog.
				_, err := rt.watchdog().CheckStalled(cmd.Context())
				return err
			}

			return rt.reactor().HandleEvent(cmd.Context(), trigger)
		},
	}
}
