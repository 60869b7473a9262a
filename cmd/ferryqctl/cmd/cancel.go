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

var cancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a still-queued job",
	Run:   cancelJob,
}

func init() {
	RootCmd.AddCommand(cancelCmd)
}

func cancelJob(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "cancel requires exactly one job id")
		return
	}

	var resp service.CancelResponse
	c := newClient()
	if err := c.do("POST", "/api/v1/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Error {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.ErrorString)
		return
	}
	if resp.Cancelled {
		fmt.Println("cancelled")
	} else {
		fmt.Println("job was no longer queued, not cancelled")
	}
}
