package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-invoicing/jobs"
)

func newJobsCmd(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var key string
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a job with its default payload",
		Example: fmt.Sprintf("  invoicectl jobs trigger %s\n  invoicectl jobs trigger %s --key nightly-2024-05-01",
			jobs.TaskStockNegativeScan, jobs.TaskIdempotencyCleanup),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := e.jobs(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()
			info, err := runner.Trigger(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return err
		},
	}
	trigger.Flags().StringVar(&key, "key", "", "task ID; duplicates are rejected while the task is retained")

	queue := &cobra.Command{
		Use:   "queue",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := e.jobs(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()
			stats, err := runner.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := e.jobs(cmd)
			if err != nil {
				return err
			}
			defer runner.Close()
			tasks, err := runner.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tasks {
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, queue, scheduled)
	return cmd
}
