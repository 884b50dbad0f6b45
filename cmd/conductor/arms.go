package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"conductor/internal/domain/selector"
	"conductor/internal/infra/armstore"
)

func newArmsCommand(root *rootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "arms",
		Short: "Show persisted selector arms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Selector.StatePath == "" {
				return fmt.Errorf("selector.state_path is not set")
			}
			bandit := selector.NewBandit(selector.WithStore(armstore.NewFileStore(cfg.Selector.StatePath)))
			if err := bandit.Load(); err != nil {
				return err
			}
			printArms(cmd.OutOrStdout(), bandit.Arms(role))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only show arms for this role")
	return cmd
}

func printArms(out io.Writer, arms []selector.Arm) {
	if len(arms) == 0 {
		fmt.Fprintln(out, gray("no arms recorded"))
		return
	}
	fmt.Fprintf(out, "%-32s %-18s %-14s %6s %6s %6s\n", bold("ARM"), bold("ROLE"), bold("BACKEND"), bold("WINS"), bold("PLAYS"), bold("RATIO"))
	for _, a := range arms {
		backend := a.BackendName
		if backend == "" {
			backend = gray("auto")
		}
		fmt.Fprintf(out, "%-32s %-18s %-14s %6d %6d %6.2f\n", a.ID, a.Role, backend, a.Wins, a.Plays, a.Ratio())
	}
}
