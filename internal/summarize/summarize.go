// Package summarize produces per-document summaries by summarizing every
// chunk of every document, strictly one request at a time.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/norm/docsynth/internal/chunk"
	"github.com/norm/docsynth/internal/executor"
	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/internal/prompt"
	"github.com/norm/docsynth/pkg/chat"
)

// Stage is the label attached to summarization requests and events.
const Stage = "summarize"

// Config holds summarizer configuration.
type Config struct {
	// Executor issues each chunk request.
	Executor chat.Executor

	// Request settings for chunk calls (temperature 0.1, 1200 tokens by default)
	Request chat.RequestConfig

	// MaxChunkChars bounds each chunk; <= 0 sends whole documents.
	MaxChunkChars int

	// ChunkPause is waited after every chunk call; 0 disables it.
	ChunkPause time.Duration

	Logger  *logpkg.EventLog
	Metrics *metrics.Metrics

	// Progress is called once per finished document.
	Progress func(documentID string)
}

// DefaultConfig returns the chunk-summary defaults. Executor must still be set.
func DefaultConfig() *Config {
	return &Config{
		Request: chat.RequestConfig{
			Temperature: 0.1,
			MaxTokens:   1200,
			Timeout:     executor.DefaultTimeout,
			MaxRetries:  3,
			BackoffBase: 800 * time.Millisecond,
		},
		MaxChunkChars: 4000,
		ChunkPause:    50 * time.Millisecond,
	}
}

// Summarizer runs the chunk summarization stage.
type Summarizer struct {
	cfg   *Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a summarizer.
func New(cfg *Config) *Summarizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Summarizer{cfg: cfg, sleep: pause}
}

// ChunkError identifies the chunk whose summary request failed.
type ChunkError struct {
	DocumentID string
	Chunk      int // 0-based
	Total      int
	Err        error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("summarize %s chunk %d/%d: %v", e.DocumentID, e.Chunk+1, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Summarize summarizes docs in order. Any failed chunk aborts the stage and
// the partial accumulator is discarded.
func (s *Summarizer) Summarize(ctx context.Context, docs []chunk.Document) (*Accumulator, error) {
	if s.cfg.Executor == nil {
		return nil, fmt.Errorf("summarize: no executor configured")
	}

	acc := &Accumulator{}
	for _, doc := range docs {
		chunks := doc.Chunks(s.cfg.MaxChunkChars)
		summaries := make([]string, 0, len(chunks))
		for _, c := range chunks {
			summary, err := s.summarizeChunk(ctx, c)
			if err != nil {
				return nil, &ChunkError{DocumentID: doc.ID, Chunk: c.Index, Total: c.Total, Err: err}
			}
			summaries = append(summaries, summary)

			if err := s.sleep(ctx, s.cfg.ChunkPause); err != nil {
				return nil, fmt.Errorf("summarize: %w", err)
			}
		}
		acc.add(doc.ID, summaries)

		s.cfg.Metrics.RecordDocument()
		_ = s.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeDocumentSummarized).
			WithStage(Stage).
			WithSubject(doc.ID).
			WithCount(len(chunks)))
		if s.cfg.Progress != nil {
			s.cfg.Progress(doc.ID)
		}
	}
	return acc, nil
}

func (s *Summarizer) summarizeChunk(ctx context.Context, c chunk.Chunk) (string, error) {
	conv := chat.NewConversation(
		prompt.SummarizerSystem,
		prompt.SummarizerUser(c.SourceID, c.Index, c.Total, c.Text),
	)
	subject := fmt.Sprintf("%s#%d", c.SourceID, c.Index)
	text, err := s.cfg.Executor.Execute(executor.WithLabel(ctx, Stage, subject), conv, s.cfg.Request)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(text)

	s.cfg.Metrics.RecordChunk()
	_ = s.cfg.Logger.Log(logpkg.NewEvent(logpkg.EventTypeChunkSummarized).
		WithStage(Stage).
		WithSubject(subject).
		WithChars(chunk.Len(summary)))
	return summary, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
