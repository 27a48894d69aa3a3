package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	director "github.com/charles-forsyth/director-agent"
)

func newStatusCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the job states of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointer, closeStore, err := c.openCheckpointer(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = closeStore()
			}()

			checkpoint, err := checkpointer.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			color.Cyan("Run %s (%s): %s", checkpoint.RunID, checkpoint.PipelineName, checkpoint.Status)
			if checkpoint.Error != "" {
				color.Red("Error: %s", checkpoint.Error)
			}

			jobs := make([]*director.JobState, 0, len(checkpoint.JobStates))
			for _, job := range checkpoint.JobStates {
				jobs = append(jobs, job)
			}
			sort.Slice(jobs, func(i, j int) bool {
				if jobs[i].StartTime.Equal(jobs[j].StartTime) {
					return jobs[i].JobID < jobs[j].JobID
				}
				return jobs[i].StartTime.Before(jobs[j].StartTime)
			})

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				name := job.Name
				if name == "" {
					name = job.JobID
				}
				detail := job.ErrorMessage
				if detail == "" && job.Artifact != nil {
					detail = job.Artifact.Location
				}
				rows = append(rows, []string{
					name,
					string(job.Capability),
					formatJobStatus(job),
					fmt.Sprintf("%d", job.Attempts),
					formatJobDuration(job),
					detail,
				})
			}
			fmt.Println(renderTable(
				[]string{"Job", "Capability", "Status", "Attempts", "Duration", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func formatJobDuration(job *director.JobState) string {
	if job.StartTime.IsZero() || job.EndTime.IsZero() {
		return ""
	}
	return job.EndTime.Sub(job.StartTime).Round(time.Millisecond).String()
}
