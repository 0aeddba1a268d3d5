// Command admin inspects a running bridge and its on-disk records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Operate and inspect a tacbridge session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newStateCmd(),
		newActiveCmd("activate", true),
		newActiveCmd("deactivate", false),
		newDBCmd(),
		newJournalCmd(),
	)
	return cmd
}
