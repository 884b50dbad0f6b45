package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"conductor/internal/domain/trace"
	jsonx "conductor/internal/shared/json"
)

type replayOptions struct {
	path   string
	runID  string
	follow bool
	events bool
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild task state from the trace log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.path == "" {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				opts.path = cfg.Trace.Path
			}
			if opts.follow {
				ctx, cancel := signalContext()
				defer cancel()
				return followTrace(ctx, cmd.OutOrStdout(), opts)
			}
			return replayTrace(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.path, "trace", "", "trace log path (default trace.path from config)")
	cmd.Flags().StringVar(&opts.runID, "run", "", "only show this run")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "stream events as they are appended")
	cmd.Flags().BoolVar(&opts.events, "events", false, "print raw events instead of task state")
	return cmd
}

func replayTrace(out io.Writer, opts *replayOptions) error {
	events, err := trace.ReadFile(opts.path)
	if err != nil {
		return err
	}
	if opts.runID != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.RunID == opts.runID {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if opts.events {
		for _, e := range events {
			printEvent(out, e)
		}
		return nil
	}

	states := trace.Replay(events)
	runIDs := make([]string, 0, len(states))
	for id := range states {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	for _, runID := range runIDs {
		fmt.Fprintf(out, "%s %s\n", bold("run"), runID)
		tasks := states[runID]
		ids := make([]string, 0, len(tasks))
		for id := range tasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			st := tasks[id]
			line := fmt.Sprintf("  %-24s %-12s %s", st.TaskID, statusLabel(st.Status), gray(fmt.Sprintf("requeues=%d role=%s", st.Requeues, st.Role)))
			if st.ParentID != "" {
				line += gray(" parent=" + st.ParentID)
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func followTrace(ctx context.Context, out io.Writer, opts *replayOptions) error {
	return trace.Follow(ctx, opts.path, func(e trace.Event) error {
		if opts.runID != "" && e.RunID != opts.runID {
			return nil
		}
		printEvent(out, e)
		return nil
	})
}

func printEvent(out io.Writer, e trace.Event) {
	payload := ""
	if len(e.Payload) > 0 {
		if data, err := jsonx.Marshal(e.Payload); err == nil {
			payload = string(data)
		}
	}
	fmt.Fprintf(out, "%s %6d %-20s %-16s %s\n",
		gray(e.Timestamp.Format("15:04:05.000")), e.Seq, cyan(e.EventName), e.TaskID, gray(payload))
}
