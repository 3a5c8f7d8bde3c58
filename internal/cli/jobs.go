package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobsched/internal/config"
	"jobsched/internal/job"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the jobs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.LoadJobs(cfg.JobsFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s  %-10s  %-8s  %s\n", "JOB", "SCHEDULE", "QUEUEING", "DEPENDANTS")
			for _, s := range f.Jobs {
				kind := s.Schedule.Kind
				if kind == "" {
					kind = config.ScheduleManual
				}
				fmt.Fprintf(out, "%-20s  %-10s  %-8t  %v\n", s.Name, kind, s.Queueing, s.Dependants)
			}
			return nil
		},
	}
}

func newRenderCmd() *cobra.Command {
	var (
		jobName string
		runID   string
		at      string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the command a run of a job would execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.LoadJobs(cfg.JobsFile)
			if err != nil {
				return err
			}
			spec, err := findJob(f, jobName)
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			if runID == "" {
				runID = jobName + ".1"
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.RenderCommand(spec.Command, job.Vars{JobName: spec.Name, RunID: runID, Now: now}))
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "Job name")
	cmd.Flags().StringVar(&runID, "run", "", "Run id to substitute (default <job>.1)")
	cmd.Flags().StringVar(&at, "at", "", "Render time, RFC3339 (default now)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func findJob(f *config.JobsFile, name string) (config.JobSpec, error) {
	for _, s := range f.Jobs {
		if s.Name == name {
			return s, nil
		}
	}
	return config.JobSpec{}, fmt.Errorf("job %q not found in %s", name, cfg.JobsFile)
}
