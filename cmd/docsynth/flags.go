package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/norm/docsynth/internal/config"
	"github.com/norm/docsynth/internal/source"
)

// runFlags holds the flags shared by run and plan. Only flags the user set
// override the loaded configuration.
type runFlags struct {
	configPath  string
	kinds       []string
	outputs     []string
	outDir      string
	logDir      string
	provider    string
	model       string
	base        string
	maxChars    int
	target      int
	include     []string
	exclude     []string
	preset      string
	title       string
	note        string
	timeout     time.Duration
	retries     int
	frontMatter bool
}

func (f *runFlags) register(cmd *cobra.Command, withRequest bool) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "TOML config file")
	fs.StringSliceVar(&f.kinds, "kind", nil, "artifact kind to generate (repeatable; default all)")
	fs.IntVar(&f.maxChars, "max-chars", 0, "max characters per chunk for summarization")
	fs.StringArrayVar(&f.include, "include", nil, "extra glob to include (repeatable)")
	fs.StringArrayVar(&f.exclude, "exclude", nil, "extra glob to exclude (repeatable)")
	fs.StringVar(&f.preset, "preset", "", `discovery preset: "default" or "governance"`)
	if !withRequest {
		return
	}
	fs.StringArrayVar(&f.outputs, "out", nil, "output filename override as kind=file (repeatable)")
	fs.StringVar(&f.outDir, "out-dir", "", "directory for generated artifacts")
	fs.StringVar(&f.logDir, "log-dir", "", "directory for events.jsonl and metrics.json")
	fs.StringVar(&f.provider, "provider", "", "endpoint provider: lmstudio or claude")
	fs.StringVar(&f.model, "model", "", "model name")
	fs.StringVar(&f.base, "base", "", "endpoint base URL")
	fs.IntVar(&f.target, "target", 0, "target characters for the compressed summary")
	fs.StringVar(&f.title, "title", "", "project title (default: folder name)")
	fs.StringVar(&f.note, "note", "", "author note passed to every artifact")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-attempt request timeout")
	fs.IntVar(&f.retries, "retries", 0, "retries per request after the first attempt")
	fs.BoolVar(&f.frontMatter, "frontmatter", false, "prefix artifacts with YAML metadata")
}

// load resolves configuration: defaults, file, environment, then flags.
func (f *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFromPath(f.configPath)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed

	if changed("kind") {
		cfg.Kinds = f.kinds
	}
	if changed("max-chars") {
		cfg.MaxChunkChars = f.maxChars
	}
	cfg.Include = append(cfg.Include, f.include...)
	cfg.Exclude = append(cfg.Exclude, f.exclude...)
	if changed("preset") {
		cfg.Preset = f.preset
	}
	if changed("out-dir") {
		cfg.OutDir = f.outDir
	}
	if changed("log-dir") {
		cfg.LogDir = f.logDir
	}
	if changed("provider") {
		cfg.Provider = f.provider
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("base") {
		cfg.BaseURL = f.base
	}
	if changed("target") {
		cfg.CompressTarget = f.target
	}
	if changed("title") {
		cfg.Title = f.title
	}
	if changed("note") {
		cfg.Note = f.note
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("retries") {
		cfg.MaxRetries = f.retries
	}
	if changed("frontmatter") {
		cfg.FrontMatter = f.frontMatter
	}
	for _, pair := range f.outputs {
		kind, file, ok := strings.Cut(pair, "=")
		if !ok || kind == "" || file == "" {
			return nil, fmt.Errorf("--out %q: want kind=file", pair)
		}
		cfg.Outputs[kind] = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sourceOptions(cfg *config.Config) source.Options {
	return source.Options{
		Include: cfg.Include,
		Exclude: cfg.Exclude,
		Preset:  cfg.Preset,
	}
}
