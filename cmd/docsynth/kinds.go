package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/norm/docsynth/internal/prompt"
)

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List artifact kinds and their default filenames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, k := range prompt.All() {
				fmt.Fprintf(out, "%-12s %-30s %s\n", k.Name, k.DefaultFile, k.Description)
			}
			return nil
		},
	}
}
