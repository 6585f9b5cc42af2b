// Package pipeline runs a synthesis: summarize every document, compress the
// combined summaries, then generate and write each requested artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/norm/docsynth/internal/chunk"
	"github.com/norm/docsynth/internal/compress"
	"github.com/norm/docsynth/internal/executor"
	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/internal/output"
	"github.com/norm/docsynth/internal/prompt"
	"github.com/norm/docsynth/internal/summarize"
	"github.com/norm/docsynth/pkg/chat"
)

// Stage names used in errors and events.
const (
	StageSummarize  = "summarize"
	StageCompress   = "compress"
	StageSynthesize = "synthesize"
	StageWrite      = "write"
)

// ErrEmptyInput is returned when a run has no documents.
var ErrEmptyInput = errors.New("pipeline: no input documents")

// StageError reports which stage and subject (document, pass, kind) failed.
type StageError struct {
	Stage   string
	Subject string
	Err     error
}

func (e *StageError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	prefix := e.Stage + " " + e.Subject
	// Chunk errors already name their stage and subject.
	if msg := e.Err.Error(); strings.HasPrefix(msg, prefix+": ") {
		return msg
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ArtifactWriter persists a generated artifact and returns where it went.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, a output.Artifact) (string, error)
}

// Config holds pipeline configuration.
type Config struct {
	Executor chat.Executor
	Writer   ArtifactWriter

	// Per-stage request settings
	SummarizeRequest  chat.RequestConfig
	CompressRequest   chat.RequestConfig
	SynthesizeRequest chat.RequestConfig

	MaxChunkChars  int
	ChunkPause     time.Duration
	CompressTarget int

	// Kinds to synthesize in order; empty means every kind.
	Kinds []string
	// Filenames overrides a kind's default output file.
	Filenames map[string]string

	Title string
	Note  string

	Logger  *logpkg.EventLog
	Metrics *metrics.Metrics

	// Progress receives one line per finished step.
	Progress func(stage, subject string)
}

// DefaultCompressTarget is the compressed corpus size used when none is set.
const DefaultCompressTarget = 8000

// DefaultConfig returns defaults for every stage. Executor and Writer must
// still be set.
func DefaultConfig() *Config {
	sum := summarize.DefaultConfig()
	comp := compress.DefaultConfig()
	synth := sum.Request
	synth.Temperature = 0.2
	synth.MaxTokens = 8192
	return &Config{
		SummarizeRequest:  sum.Request,
		CompressRequest:   comp.Request,
		SynthesizeRequest: synth,
		MaxChunkChars:     sum.MaxChunkChars,
		ChunkPause:        sum.ChunkPause,
		CompressTarget:    DefaultCompressTarget,
	}
}

// ArtifactRecord describes one written artifact.
type ArtifactRecord struct {
	Kind  string
	Path  string
	Chars int
}

// Stats summarizes the work a run did.
type Stats struct {
	Documents     int
	Chunks        int
	CorpusChars   int
	CompressedLen int
	CompressCalls int
	Duration      time.Duration
}

// Result is the outcome of a run. On failure it holds whatever finished
// before the failing stage.
type Result struct {
	RunID      string
	Corpus     string
	Compressed string
	Artifacts  []ArtifactRecord
	Stats      Stats
}

// Pipeline runs synthesis passes.
type Pipeline struct {
	cfg *Config
}

// New creates a pipeline.
func New(cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pipeline{cfg: cfg}
}

// Plan is the request accounting for a run, computed without network calls.
type Plan struct {
	Documents []PlannedDocument
	Kinds     []prompt.Kind
	// SummaryCalls is exact; compression and synthesis calls depend on
	// summary length, so the compression count assumes a single pass.
	SummaryCalls    int
	CompressCalls   int
	SynthesizeCalls int
}

// PlannedDocument is one input and its chunk count.
type PlannedDocument struct {
	ID     string
	Chars  int
	Chunks int
}

// Requests is the minimum number of logical requests the run issues.
func (p Plan) Requests() int {
	return p.SummaryCalls + p.CompressCalls + p.SynthesizeCalls
}

// Plan resolves kinds and chunk counts for docs.
func (p *Pipeline) Plan(docs []chunk.Document) (Plan, error) {
	if len(docs) == 0 {
		return Plan{}, ErrEmptyInput
	}
	kinds, err := prompt.Resolve(p.cfg.Kinds)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Kinds: kinds, CompressCalls: 1, SynthesizeCalls: len(kinds)}
	for _, d := range docs {
		n := chunk.Count(d.Content, p.cfg.MaxChunkChars)
		plan.Documents = append(plan.Documents, PlannedDocument{ID: d.ID, Chars: chunk.Len(d.Content), Chunks: n})
		plan.SummaryCalls += n
	}
	return plan, nil
}

// Run executes the whole pipeline over docs. Kinds run in order and the
// first failure stops the run; artifacts already written are kept.
func (p *Pipeline) Run(ctx context.Context, docs []chunk.Document) (*Result, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyInput
	}
	if p.cfg.Executor == nil {
		return nil, fmt.Errorf("pipeline: no executor configured")
	}
	if p.cfg.Writer == nil {
		return nil, fmt.Errorf("pipeline: no artifact writer configured")
	}
	kinds, err := prompt.Resolve(p.cfg.Kinds)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	filenames, err := p.filenames(kinds)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res := &Result{RunID: uuid.NewString()}
	p.cfg.Logger.SetRunID(res.RunID)
	_ = p.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeRunStart).
		WithCount(len(docs)).
		WithSubject(kindNames(kinds)))

	err = p.run(ctx, docs, kinds, filenames, res)
	res.Stats.Duration = time.Since(started)
	if err != nil {
		_ = p.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeRunFailed).
			WithError(err.Error()).
			WithCount(len(res.Artifacts)).
			WithLatency(res.Stats.Duration))
		return res, err
	}
	_ = p.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeRunComplete).
		WithCount(len(res.Artifacts)).
		WithLatency(res.Stats.Duration))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, docs []chunk.Document, kinds []prompt.Kind, filenames map[string]string, res *Result) error {
	res.Stats.Documents = len(docs)
	for _, d := range docs {
		res.Stats.Chunks += chunk.Count(d.Content, p.cfg.MaxChunkChars)
	}

	summarizer := summarize.New(&summarize.Config{
		Executor:      p.cfg.Executor,
		Request:       p.cfg.SummarizeRequest,
		MaxChunkChars: p.cfg.MaxChunkChars,
		ChunkPause:    p.cfg.ChunkPause,
		Logger:        p.cfg.Logger,
		Metrics:       p.cfg.Metrics,
		Progress: func(id string) {
			p.progress(StageSummarize, id)
		},
	})
	acc, err := summarizer.Summarize(ctx, docs)
	if err != nil {
		var ce *summarize.ChunkError
		if errors.As(err, &ce) {
			return &StageError{Stage: StageSummarize, Subject: fmt.Sprintf("%s chunk %d/%d", ce.DocumentID, ce.Chunk+1, ce.Total), Err: err}
		}
		return &StageError{Stage: StageSummarize, Err: err}
	}
	res.Corpus = acc.Combined()
	res.Stats.CorpusChars = chunk.Len(res.Corpus)

	compressor := compress.New(&compress.Config{
		Executor: p.cfg.Executor,
		Request:  p.cfg.CompressRequest,
		Logger:   p.cfg.Logger,
		Metrics:  p.cfg.Metrics,
	})
	target := p.cfg.CompressTarget
	if target <= 0 {
		target = DefaultCompressTarget
	}
	cr, err := compressor.CompressDetailed(ctx, res.Corpus, target)
	if err != nil {
		return &StageError{Stage: StageCompress, Err: err}
	}
	res.Compressed = cr.Text
	res.Stats.CompressedLen = cr.OutputChars
	res.Stats.CompressCalls = cr.Calls
	p.progress(StageCompress, fmt.Sprintf("%d -> %d chars in %d call(s)", cr.InputChars, cr.OutputChars, cr.Calls))

	for _, k := range kinds {
		if err := p.synthesize(ctx, k, filenames[k.Name], len(docs), res); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, k prompt.Kind, filename string, sources int, res *Result) error {
	system, user := k.Payload(p.cfg.Title, p.cfg.Note, res.Compressed)
	text, err := p.cfg.Executor.Execute(
		executor.WithLabel(ctx, StageSynthesize, k.Name),
		chat.NewConversation(system, user),
		p.cfg.SynthesizeRequest,
	)
	if err != nil {
		return &StageError{Stage: StageSynthesize, Subject: k.Name, Err: err}
	}

	path, err := p.cfg.Writer.WriteArtifact(ctx, output.Artifact{
		Filename: filename,
		Content:  text,
		Meta: output.Metadata{
			Kind:    k.Name,
			RunID:   res.RunID,
			Title:   p.cfg.Title,
			Model:   p.cfg.SynthesizeRequest.Model,
			Sources: sources,
		},
	})
	if err != nil {
		return &StageError{Stage: StageWrite, Subject: k.Name, Err: err}
	}

	chars := chunk.Len(text)
	res.Artifacts = append(res.Artifacts, ArtifactRecord{Kind: k.Name, Path: path, Chars: chars})
	p.cfg.Metrics.RecordArtifact()
	_ = p.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeArtifactWritten).
		WithStage(StageWrite).
		WithSubject(path).
		WithChars(chars))
	p.progress(StageWrite, path)
	return nil
}

// filenames maps each kind to its override or default file. Overrides for
// kinds not in the run are rejected so typos surface before any request.
func (p *Pipeline) filenames(kinds []prompt.Kind) (map[string]string, error) {
	out := make(map[string]string, len(kinds))
	for _, k := range kinds {
		out[k.Name] = k.DefaultFile
	}
	for name, file := range p.cfg.Filenames {
		k, ok := prompt.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("pipeline: output override for unknown kind %q", name)
		}
		if _, requested := out[k.Name]; !requested {
			return nil, fmt.Errorf("pipeline: output override for kind %q, which is not requested", k.Name)
		}
		if strings.TrimSpace(file) == "" {
			return nil, fmt.Errorf("pipeline: empty output override for kind %q", k.Name)
		}
		out[k.Name] = file
	}
	return out, nil
}

func (p *Pipeline) progress(stage, subject string) {
	if p.cfg.Progress != nil {
		p.cfg.Progress(stage, subject)
	}
}

func kindNames(kinds []prompt.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Name
	}
	return strings.Join(names, ",")
}
