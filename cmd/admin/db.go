package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tacbridge.ai/internal/persistence/indexdb"
)

type dbOpts struct {
	dataDir string
	dbPath  string
	limit   int
}

func (o dbOpts) path() string {
	if p := strings.TrimSpace(o.dbPath); p != "" {
		return p
	}
	return filepath.Join(o.dataDir, "index", "bridge.sqlite")
}

func newDBCmd() *cobra.Command {
	var opts dbOpts
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Query the SQLite index of sent ticks and applied commands",
	}
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data", "./data", "runtime data directory")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite db path (overrides --data)")
	cmd.PersistentFlags().IntVar(&opts.limit, "limit", 0, "result limit (0 uses the query default)")
	cmd.AddCommand(newDBTicksCmd(&opts), newDBCommandsCmd(&opts))
	return cmd
}

func newDBTicksCmd(opts *dbOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ticks",
		Short: "List the most recent STATE documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := indexdb.OpenReader(opts.path())
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer r.Close()
			rows, err := r.Ticks(cmd.Context(), opts.limit)
			if err != nil {
				return fmt.Errorf("db ticks: %w", err)
			}
			return printRows(cmd, rows)
		},
	}
}

func newDBCommandsCmd(opts *dbOpts) *cobra.Command {
	var f indexdb.CommandFilter
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List audited commands and reply outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := indexdb.OpenReader(opts.path())
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer r.Close()
			f.Limit = opts.limit
			rows, err := r.Commands(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("db commands: %w", err)
			}
			return printRows(cmd, rows)
		},
	}
	cmd.Flags().Uint64Var(&f.Tick, "tick", 0, "only this tick")
	cmd.Flags().StringVar(&f.Action, "action", "", "only this command type or reply action")
	cmd.Flags().BoolVar(&f.FailedOnly, "failed", false, "only rows with an error code")
	return cmd
}

// printRows writes one JSON object per line, indented when stdout is a
// terminal.
func printRows[T any](cmd *cobra.Command, rows []T) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	if isTerminal(out) {
		enc.SetIndent("", "  ")
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
