package cli

import (
	"encoding/json"
	"fmt"

	"github.com/me/taskd/pkg/model"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health and scheduler counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/health")
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}

			var data struct {
				Status    string                `json:"status"`
				Version   string                `json:"version"`
				Uptime    string                `json:"uptime"`
				Scheduler *model.SchedulerStats `json:"scheduler"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:  %s\n", data.Status)
			fmt.Fprintf(out, "Version: %s\n", data.Version)
			fmt.Fprintf(out, "Uptime:  %s\n", data.Uptime)
			if s := data.Scheduler; s != nil {
				fmt.Fprintf(out, "Scheduler: %s\n", s.Owner)
				fmt.Fprintf(out, "  Cycles:      %d (%d poll failures)\n", s.Cycles, s.PollFailures)
				fmt.Fprintf(out, "  Executed:    %d (%d failed)\n", s.Executed, s.ExecutionFailures)
				fmt.Fprintf(out, "  Skipped:     %d interrupted, %d lease expired\n", s.Interrupted, s.LeaseExpired)
				fmt.Fprintf(out, "  Deleted:     %d\n", s.Deleted)
				fmt.Fprintf(out, "  Rescheduled: %d\n", s.Rescheduled)
			} else {
				fmt.Fprintln(out, "Scheduler: not running")
			}
			return nil
		},
	}
}
