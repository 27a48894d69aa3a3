package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List all runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointer, closeStore, err := c.openCheckpointer(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = closeStore()
			}()

			summaries, err := checkpointer.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(summaries))
			for _, summary := range summaries {
				rows = append(rows, []string{
					summary.RunID,
					summary.PipelineName,
					summary.Status,
					summary.StartTime.Local().Format(time.DateTime),
					summary.Duration.Round(time.Second).String(),
					fmt.Sprintf("%d/%d", summary.JobsSucceeded+summary.JobsSkipped, summary.JobsTotal),
					fmt.Sprintf("%d", summary.JobsFailed),
				})
			}
			fmt.Println(renderTable(
				[]string{"Run", "Pipeline", "Status", "Started", "Duration", "Done", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
