package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err.Error())
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docsynth",
		Short: "Summarize a project and synthesize patent, governance and whitepaper drafts",
		Long: `docsynth reads a project folder, summarizes every file chunk by chunk through a
text-generation endpoint (LM Studio or Claude), compresses the summaries and
writes one Markdown artifact per requested kind.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newPlanCmd(), newKindsCmd())
	return root
}
