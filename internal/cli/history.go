package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jobsched/internal/app"
	"jobsched/internal/job"
)

func newHistoryCmd() *cobra.Command {
	var (
		jobName string
		state   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored runs of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter job.State
			if state != "" {
				var err error
				if filter, err = job.ParseState(strings.ToUpper(state)); err != nil {
					return err
				}
			}

			st, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			snaps, err := st.Load(cmd.Context(), jobName)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			out := cmd.OutOrStdout()
			shown := 0
			fmt.Fprintf(out, "%-24s  %-9s  %-20s  %-10s  %s\n", "RUN", "STATE", "SCHEDULED", "DURATION", "EXIT")
			for _, s := range snaps {
				if filter != "" && s.State != filter {
					continue
				}
				shown++
				fmt.Fprintf(out, "%-24s  %-9s  %-20s  %-10s  %s\n",
					s.ID, s.State, s.ScheduledTime.UTC().Format(time.RFC3339), duration(s), exit(s))
			}
			if shown == 0 {
				fmt.Fprintln(out, "No runs found.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "Job name")
	cmd.Flags().StringVar(&state, "state", "", "Only runs in this state")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func duration(s job.Snapshot) string {
	if s.StartTime == nil || s.EndTime == nil {
		return "-"
	}
	return s.EndTime.Sub(*s.StartTime).Round(time.Second).String()
}

func exit(s job.Snapshot) string {
	if s.ExitStatus == nil {
		return "-"
	}
	return fmt.Sprint(*s.ExitStatus)
}
