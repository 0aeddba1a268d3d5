package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultOpsURL = "http://127.0.0.1:8081"

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// printResponse copies the body to out and fails on a non-2xx status.
func printResponse(cmd *cobra.Command, resp *http.Response) error {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func newStateCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the live bridge status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := &http.Client{Timeout: 5 * time.Second}
			resp, err := cl.Get(adminURL(baseURL, "/admin/v1/state"))
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}
			return printResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultOpsURL, "bridge ops base url")
	return cmd
}

func newActiveCmd(use string, on bool) *cobra.Command {
	var baseURL string
	short := "Resume sending STATE to the director"
	if !on {
		short = "Stop sending STATE; replies in flight are still applied"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := fmt.Sprintf(`{"active":%t}`, on)
			cl := &http.Client{Timeout: 5 * time.Second}
			resp, err := cl.Post(adminURL(baseURL, "/admin/v1/active"), "application/json", bytes.NewBufferString(body))
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return printResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultOpsURL, "bridge ops base url")
	return cmd
}
