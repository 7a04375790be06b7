package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pypack/pypack/internal/resolver"
)

func newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps SOURCE_FILE",
		Short: "Print the resolved dependency graph without building",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := resolver.New(newLogger()).Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, u := range g.Units() {
				rel, err := filepath.Rel(g.Root, u.Path)
				if err != nil {
					rel = u.Path
				}
				if u.Err != nil {
					fmt.Fprintf(out, "local    %s (unreadable: %v)\n", rel, u.Err)
				} else {
					fmt.Fprintf(out, "local    %s\n", rel)
				}
				for _, name := range u.External {
					fmt.Fprintf(out, "external %s (from %s)\n", name, rel)
				}
			}
			fmt.Fprintf(out, "%d local unit(s)\n", g.Len())
			return nil
		},
	}
}
