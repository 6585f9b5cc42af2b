package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/norm/docsynth/internal/pipeline"
	"github.com/norm/docsynth/internal/source"
)

func newPlanCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "plan <folder>",
		Short: "List the files a run would read and the requests it would make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			docs, err := source.Discover(args[0], sourceOptions(cfg))
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no files found under %s", args[0])
			}

			pcfg := pipeline.DefaultConfig()
			pcfg.MaxChunkChars = cfg.MaxChunkChars
			pcfg.Kinds = cfg.Kinds
			plan, err := pipeline.New(pcfg).Plan(docs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d files", len(plan.Documents))))
			for _, d := range plan.Documents {
				fmt.Fprintf(out, "  %-60s %8d chars  %3d chunk(s)\n", d.ID, d.Chars, d.Chunks)
			}
			names := make([]string, len(plan.Kinds))
			for i, k := range plan.Kinds {
				names[i] = k.Name
			}
			fmt.Fprintf(out, "kinds: %s\n", strings.Join(names, ", "))
			fmt.Fprintf(out, "requests: %d summary + %d compression + %d synthesis = %d (at least)\n",
				plan.SummaryCalls, plan.CompressCalls, plan.SynthesizeCalls, plan.Requests())
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}
