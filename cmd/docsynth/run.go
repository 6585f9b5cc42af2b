package main

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/norm/docsynth/internal/claude"
	"github.com/norm/docsynth/internal/config"
	"github.com/norm/docsynth/internal/executor"
	"github.com/norm/docsynth/internal/lmstudio"
	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/internal/output"
	"github.com/norm/docsynth/internal/pipeline"
	"github.com/norm/docsynth/internal/source"
)

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <folder>",
		Short: "Summarize a project and write the requested artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return runSynthesis(cmd, cfg, args[0])
		},
	}
	flags.register(cmd, true)
	return cmd
}

func runSynthesis(cmd *cobra.Command, cfg *config.Config, root string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Reading project at: "+root))

	docs, err := source.Discover(root, sourceOptions(cfg))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no files found under %s; check the folder or pass --include globs", root)
	}
	fmt.Fprintf(out, "Found %d files\n", len(docs))

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	var logger *logpkg.EventLog
	var m *metrics.Metrics
	if cfg.LogDir != "" {
		logger = logpkg.NewEventLog(cfg.LogDir)
		m = metrics.New(cfg.LogDir)
		defer func() {
			if err := m.Save(); err != nil {
				log.Printf("warning: save metrics: %v", err)
			}
		}()
	}

	ex := executor.New(transport)
	ex.SetLogger(logger)
	ex.SetMetrics(m)

	title := cfg.Title
	if title == "" {
		title = source.Title(root)
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.Executor = ex
	pcfg.Writer = output.NewStore(cfg.OutDir, output.WithFrontMatter(cfg.FrontMatter))
	pcfg.SummarizeRequest = cfg.SummarizeRequest()
	pcfg.CompressRequest = cfg.CompressRequest()
	pcfg.SynthesizeRequest = cfg.SynthesizeRequest()
	pcfg.MaxChunkChars = cfg.MaxChunkChars
	pcfg.ChunkPause = cfg.ChunkPause
	pcfg.CompressTarget = cfg.CompressTarget
	pcfg.Kinds = cfg.Kinds
	pcfg.Filenames = cfg.Outputs
	pcfg.Title = title
	pcfg.Note = cfg.Note
	pcfg.Logger = logger
	pcfg.Metrics = m
	pcfg.Progress = progressPrinter(out)

	res, err := pipeline.New(pcfg).Run(cmd.Context(), docs)
	if res != nil && len(res.Artifacts) > 0 {
		printArtifacts(out, res.Artifacts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render("Done.")+stageStyle.Render(fmt.Sprintf(" run %s, %d documents, %d chunks, %s",
		res.RunID, res.Stats.Documents, res.Stats.Chunks, res.Stats.Duration.Round(time.Millisecond))))
	return nil
}

func newTransport(cfg *config.Config) (executor.Transport, error) {
	switch cfg.Provider {
	case config.ProviderClaude:
		return claude.New(&claude.Config{APIKey: cfg.APIKey, BWSSecretID: cfg.BWSSecretID})
	default:
		return lmstudio.New(nil), nil
	}
}

func progressPrinter(out io.Writer) func(stage, subject string) {
	return func(stage, subject string) {
		switch stage {
		case pipeline.StageSummarize:
			fmt.Fprintln(out, stageStyle.Render("Summarized:")+" "+subject)
		case pipeline.StageCompress:
			fmt.Fprintln(out, stageStyle.Render("Compressed:")+" "+subject)
		case pipeline.StageWrite:
			fmt.Fprintln(out, okStyle.Render("Wrote:")+" "+subject)
		}
	}
}

func printArtifacts(out io.Writer, artifacts []pipeline.ArtifactRecord) {
	lines := make([]string, len(artifacts))
	for i, a := range artifacts {
		lines[i] = fmt.Sprintf("%-10s %s (%d chars)", a.Kind, a.Path, a.Chars)
	}
	fmt.Fprintln(out, boxStyle.Render(strings.Join(lines, "\n")))
}
