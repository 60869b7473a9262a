//
// Copyright © 2017 Solus Project
//

// Package cmd implements ferryqctl, the cobra-based command-line client
// for ferryqd's admin API, grounded on ferryctl's RootCmd/socketPath
// pattern in the original repo, generalized from a repository-management
// vocabulary to a job-queue one.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the entry point for ferryqctl.
var RootCmd = &cobra.Command{
	Use:   "ferryqctl",
	Short: "ferryqctl talks to a running ferryqd over its admin socket",
}

var socketPath = "/run/ferryqd.sock"

func init() {
	RootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", socketPath, "Path to ferryqd's admin socket")
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
