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

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a processor is currently running",
	Run:   getStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func getStatus(cmd *cobra.Command, args []string) {
	var resp service.StatusResponse
	c := newClient()
	if err := c.do("GET", "/api/v1/status", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Running {
		fmt.Printf("running (%s)\n", resp.Strategy)
	} else {
		fmt.Println("stopped")
	}
}
