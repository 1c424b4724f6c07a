// Command remotebrowserd is the remote browser service's process
// entrypoint (spec §4.N): a small cobra root with serve/version
// subcommands, replacing the teacher CLI's large per-automation-verb
// command tree — those verbs are exposed as wire-protocol cmd methods
// (spec §4.A) instead of CLI subcommands, since this is a long-lived
// service, not a one-shot automation tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "remotebrowserd",
		Short: "Remote browser service: multiplexed Chromium sessions over a streaming wire protocol",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remotebrowserd %s\n", version)
		},
	}
}
