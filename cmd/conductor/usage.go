package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/domain/usage"
	jsonx "conductor/internal/shared/json"
)

func newUsageCommand(root *rootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show backend usage scores from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				server = cfg.Server.Addr
			}
			entries, err := fetchUsage(server)
			if err != nil {
				return err
			}
			printUsage(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server address (default server.addr from config)")
	return cmd
}

func fetchUsage(server string) ([]usage.Entry, error) {
	base := server
	if strings.HasPrefix(base, ":") {
		base = "localhost" + base
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(base, "/") + "/api/usage")
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query usage: status %d", resp.StatusCode)
	}
	var body struct {
		Entries []usage.Entry `json:"entries"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return body.Entries, nil
}

func printUsage(out io.Writer, entries []usage.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, gray("no usage recorded"))
		return
	}
	fmt.Fprintf(out, "%-16s %-28s %6s\n", bold("BACKEND"), bold("MODEL"), bold("SCORE"))
	for _, e := range entries {
		score := fmt.Sprintf("%6d", e.Score)
		switch {
		case e.Score <= 3:
			score = red(score)
		case e.Score <= 6:
			score = yellow(score)
		default:
			score = green(score)
		}
		fmt.Fprintf(out, "%-16s %-28s %s\n", e.Backend, e.Model, score)
	}
}
