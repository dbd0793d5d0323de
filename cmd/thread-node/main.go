// thread-node runs a Thread control plane over UDP links.
//
// Usage:
//
//	thread-node run --config node.yaml [--log-level debug] [--log-file path]
//	thread-node dataset new --name MyHome --channel 15
//	thread-node dataset decode <hex>
//	thread-node dataset show --config node.yaml
//	thread-node version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "thread-node",
		Short:         "Thread mesh control plane",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd(), datasetCmd(), versionCmd())
	return cmd
}
