// Package compress reduces an aggregated summary corpus to a target length,
// compressing oversized corpora piecewise before a final merge pass.
package compress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/norm/docsynth/internal/chunk"
	"github.com/norm/docsynth/internal/executor"
	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/internal/prompt"
	"github.com/norm/docsynth/pkg/chat"
)

const (
	// Stage is the label attached to compression requests and events.
	Stage = "compress"

	// LargeThreshold is the corpus size above which compression goes
	// through an intermediate pass.
	LargeThreshold = 120000

	// ChunkSize is the piece size for the intermediate pass.
	ChunkSize = 40000
)

// Config holds compressor configuration.
type Config struct {
	Executor chat.Executor
	Request  chat.RequestConfig
	Logger   *logpkg.EventLog
	Metrics  *metrics.Metrics
}

// DefaultConfig returns compression defaults. Executor must still be set.
func DefaultConfig() *Config {
	return &Config{
		Request: chat.RequestConfig{
			Temperature: 0.1,
			MaxTokens:   4096,
			Timeout:     executor.DefaultTimeout,
			MaxRetries:  3,
			BackoffBase: 800 * time.Millisecond,
		},
	}
}

// Compressor runs the compression stage.
type Compressor struct {
	cfg *Config
}

// New creates a compressor.
func New(cfg *Config) *Compressor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Compressor{cfg: cfg}
}

// Result describes one compression.
type Result struct {
	Text        string
	InputChars  int
	OutputChars int
	Pieces      int // intermediate pieces, 0 for a single pass
	Calls       int
}

// Passes returns 1 for a single-pass compression and 2 otherwise.
func (r Result) Passes() int {
	if r.Pieces == 0 {
		return 1
	}
	return 2
}

// IntermediateTarget is the per-piece target for n pieces: the integer share
// of target, relaxed by half.
func IntermediateTarget(target, n int) float64 {
	if n <= 0 {
		return float64(target)
	}
	return float64(target/n) * 1.5
}

// Compress returns corpus compressed to roughly targetChars characters.
func (c *Compressor) Compress(ctx context.Context, corpus string, targetChars int) (string, error) {
	res, err := c.CompressDetailed(ctx, corpus, targetChars)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CompressDetailed is Compress with call accounting. Corpora of at most
// LargeThreshold characters take one call; larger ones are cut into ChunkSize
// pieces, each compressed to IntermediateTarget, and the joined results are
// compressed to targetChars. Any failed call fails the whole compression.
func (c *Compressor) CompressDetailed(ctx context.Context, corpus string, targetChars int) (Result, error) {
	if c.cfg.Executor == nil {
		return Result{}, fmt.Errorf("compress: no executor configured")
	}
	res := Result{InputChars: chunk.Len(corpus)}

	if res.InputChars <= LargeThreshold {
		text, err := c.call(ctx, "final", corpus, float64(targetChars))
		if err != nil {
			return Result{}, fmt.Errorf("compress: %w", err)
		}
		res.Calls = 1
		res.Text = text
		res.OutputChars = chunk.Len(text)
		return res, nil
	}

	pieces := chunk.Split(corpus, ChunkSize)
	res.Pieces = len(pieces)
	per := IntermediateTarget(targetChars, len(pieces))
	partials := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		text, err := c.call(ctx, "piece-"+strconv.Itoa(i+1), piece, per)
		if err != nil {
			return Result{}, fmt.Errorf("compress piece %d/%d: %w", i+1, len(pieces), err)
		}
		res.Calls++
		partials = append(partials, text)
	}

	text, err := c.call(ctx, "final", strings.Join(partials, "\n\n"), float64(targetChars))
	if err != nil {
		return Result{}, fmt.Errorf("compress final pass: %w", err)
	}
	res.Calls++
	res.Text = text
	res.OutputChars = chunk.Len(text)
	return res, nil
}

func (c *Compressor) call(ctx context.Context, subject, text string, target float64) (string, error) {
	conv := chat.NewConversation(prompt.CompressSystem, prompt.CompressUser(text, target))
	out, err := c.cfg.Executor.Execute(executor.WithLabel(ctx, Stage, subject), conv, c.cfg.Request)
	if err != nil {
		return "", err
	}
	c.cfg.Metrics.RecordCompressCall()
	_ = c.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeCompressPass).
		WithStage(Stage).
		WithSubject(subject).
		WithChars(chunk.Len(out)))
	return out, nil
}
