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

var startStrategy = service.StrategySimple
var startMaxThreads = 5

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the processor",
	Run:   startProcessing,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the processor",
	Run:   stopProcessing,
}

func init() {
	startCmd.Flags().StringVar(&startStrategy, "strategy", startStrategy, "Processor strategy: simple or multi")
	startCmd.Flags().IntVar(&startMaxThreads, "max-threads", startMaxThreads, "Thread budget for the multi strategy")
	RootCmd.AddCommand(startCmd)
	RootCmd.AddCommand(stopCmd)
}

func startProcessing(cmd *cobra.Command, args []string) {
	var resp service.Response
	c := newClient()
	req := service.StartRequest{Strategy: startStrategy, MaxThreads: startMaxThreads}
	if err := c.do("POST", "/api/v1/start", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Error {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.ErrorString)
		return
	}
	fmt.Println("started")
}

func stopProcessing(cmd *cobra.Command, args []string) {
	var resp service.Response
	c := newClient()
	if err := c.do("POST", "/api/v1/stop", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if resp.Error {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.ErrorString)
		return
	}
	fmt.Println("stopped")
}
