package main

import (
	"fmt"

	"github.com/backkem/thread/pkg/thread"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build and Thread versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "thread-node %s (Thread %s)\n", version, thread.ThreadVersion)
		},
	}
}
