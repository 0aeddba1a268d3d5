package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"tacbridge.ai/internal/persistence/journal"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the hourly zstd JSONL journals",
	}
	cmd.AddCommand(newJournalListCmd(), newJournalCatCmd())
	return cmd
}

func newJournalListCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "ls <ticks|audit>",
		Short: "List journal files in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != "ticks" && kind != "audit" {
				return fmt.Errorf("journal: unknown kind %q (want ticks or audit)", kind)
			}
			files, err := journal.Files(filepath.Join(dataDir, kind), kind)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	return cmd
}

func newJournalCatCmd() *cobra.Command {
	var stripState bool
	cmd := &cobra.Command{
		Use:   "cat <file> [file...]",
		Short: "Print journal entries as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				err := journal.ReadFile(path, func(line int, raw json.RawMessage) error {
					if stripState {
						var m map[string]json.RawMessage
						if err := json.Unmarshal(raw, &m); err == nil {
							delete(m, "state")
							raw, _ = json.Marshal(m)
						}
					}
					_, err := fmt.Fprintln(out, string(raw))
					return err
				})
				if err != nil {
					return fmt.Errorf("journal %s: %w", path, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stripState, "no-state", false, "omit embedded STATE documents")
	return cmd
}
