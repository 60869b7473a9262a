//
// Copyright © 2017 Solus Project
//

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solus-project/ferryq/internal/service"
)

var getCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Show a job's current record",
	Run:   getJob,
}

func init() {
	RootCmd.AddCommand(getCmd)
}

func getJob(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "get requires exactly one job id")
		return
	}

	var resp service.JobResponse
	c := newClient()
	if err := c.do("GET", "/api/v1/jobs/"+args[0], nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Error {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.ErrorString)
		return
	}

	j := resp.Job
	fmt.Printf("id:        %s\n", j.ID)
	fmt.Printf("task:      %s\n", j.TaskName)
	fmt.Printf("status:    %s\n", j.Status)
	fmt.Printf("created:   %s\n", j.CreatedAt)
	if !j.ClaimedAt.IsZero() {
		fmt.Printf("claimed:   %s (owner %s)\n", j.ClaimedAt, j.Owner)
	}
	if !j.CompletedAt.IsZero() {
		fmt.Printf("completed: %s\n", j.CompletedAt)
	}
	if len(j.Output) > 0 {
		fmt.Printf("output:    %s\n", j.Output)
	}
}
