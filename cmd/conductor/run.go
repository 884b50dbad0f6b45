package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"conductor/internal/app/di"
	"conductor/internal/app/engine"
	"conductor/internal/domain/task"
	jsonx "conductor/internal/shared/json"
)

type runOptions struct {
	showOutput bool
	asJSON     bool
	timeout    time.Duration
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <directive-file|->",
		Short: "Execute one directive and print its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirective(cmd.OutOrStdout(), root, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.showOutput, "show-output", false, "render accepted artifacts")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the run result as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "cancel the run after this long")
	return cmd
}

func readDirective(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runDirective(out io.Writer, root *rootOptions, opts *runOptions, path string) error {
	data, err := readDirective(path)
	if err != nil {
		return fmt.Errorf("read directive: %w", err)
	}
	cfg, err := root.load()
	if err != nil {
		return err
	}
	container, err := di.Build(cfg, di.Options{SkipScheduler: true})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if opts.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.timeout)
		defer cancelTimeout()
	}

	res, runErr := container.Engine.Run(ctx, data)
	shutdownErr := container.Shutdown(context.Background())
	if res.RunID == "" {
		return errors.Join(runErr, shutdownErr)
	}

	if opts.asJSON {
		enc := jsonx.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
		if opts.showOutput {
			printArtifacts(out, res)
		}
	}
	if runErr != nil {
		fmt.Fprintln(out, yellow("warning: ")+runErr.Error())
	}
	if len(res.Escalations) > 0 || res.Status == engine.RunCancelled {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("run %s finished with %d escalations (status %s)", res.RunID, len(res.Escalations), res.Status)}
	}
	return shutdownErr
}

func printResult(out io.Writer, res engine.Result) {
	fmt.Fprintf(out, "%s %s  %s %s\n", bold("run"), res.RunID, bold("directive"), res.DirectiveID)
	status := green(string(res.Status))
	if res.Status == engine.RunCancelled {
		status = yellow(string(res.Status))
	}
	fmt.Fprintf(out, "%s %s in %s\n\n", bold("status"), status, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	for _, t := range res.Tasks {
		fmt.Fprintf(out, "  %-24s %-12s %s %s\n",
			t.Task.ID, statusLabel(t.Status),
			gray(fmt.Sprintf("attempts=%d reward=%.2f", t.Attempts, t.LastReward)),
			cyan(t.Backend))
	}

	counts := res.Counts()
	keys := make([]string, 0, len(counts))
	for s := range counts {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[task.Status(k)]))
	}
	fmt.Fprintf(out, "\n%s %s\n", bold("tasks"), strings.Join(parts, " "))
	for _, esc := range res.Escalations {
		fmt.Fprintf(out, "%s %s -> %s: %s\n", red("escalated"), esc.TaskID, esc.Role, esc.Reason)
	}
}

func statusLabel(s task.Status) string {
	switch s {
	case task.StatusAccepted:
		return green(string(s))
	case task.StatusEscalated:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func printArtifacts(out io.Writer, res engine.Result) {
	var renderer *glamour.TermRenderer
	if isTTY() {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(terminalWidth()-4))
		if err == nil {
			renderer = r
		}
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(out, "\n%s %s %s\n", blue("artifact"), a.TaskID, gray(fmt.Sprintf("(%s, reward %.2f)", a.Backend, a.Reward)))
		text := a.Text
		if renderer != nil {
			if rendered, err := renderer.Render(text); err == nil {
				text = rendered
			}
		}
		fmt.Fprintln(out, text)
	}
}
