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

var addCmd = &cobra.Command{
	Use:   "add [task-name] [input]",
	Short: "Enqueue a new job",
	Long:  "Enqueue a new job under the given task name with an optional input payload",
	Run:   addJob,
}

func init() {
	RootCmd.AddCommand(addCmd)
}

func addJob(cmd *cobra.Command, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "add requires at least a task name")
		return
	}

	var input []byte
	if len(args) > 1 {
		input = []byte(args[1])
	}

	var resp service.AddResponse
	c := newClient()
	if err := c.do("POST", "/api/v1/jobs", service.AddRequest{TaskName: args[0], Input: input}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Error {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.ErrorString)
		return
	}
	fmt.Println(resp.ID)
}
