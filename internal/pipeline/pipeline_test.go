package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/norm/docsynth/internal/chunk"
	"github.com/norm/docsynth/internal/executor"
	"github.com/norm/docsynth/internal/lmstudio"
	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/internal/output"
	"github.com/norm/docsynth/internal/summarize"
	"github.com/norm/docsynth/pkg/chat"
)

type fakeExecutor struct {
	convs   []chat.Conversation
	respond func(call int, conv chat.Conversation) (string, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig) (string, error) {
	f.convs = append(f.convs, conv)
	if f.respond == nil {
		return "generated", nil
	}
	return f.respond(len(f.convs), conv)
}

type memoryWriter struct {
	written []output.Artifact
	fail    error
}

func (w *memoryWriter) WriteArtifact(ctx context.Context, a output.Artifact) (string, error) {
	if w.fail != nil {
		return "", w.fail
	}
	w.written = append(w.written, a)
	return "/out/" + a.Filename, nil
}

func testConfig(ex chat.Executor, w ArtifactWriter) *Config {
	cfg := DefaultConfig()
	cfg.Executor = ex
	cfg.Writer = w
	cfg.ChunkPause = 0
	cfg.MaxChunkChars = 4000
	cfg.Title = "Vault"
	return cfg
}

func TestRunEndToEndOverHTTP(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  result text  "}}]}`))
	}))
	defer srv.Close()

	ex := executor.New(lmstudio.New(nil))
	ex.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	dir := t.TempDir()
	cfg := testConfig(ex, output.NewStore(dir))
	cfg.SummarizeRequest.BaseURL = srv.URL
	cfg.CompressRequest.BaseURL = srv.URL
	cfg.SynthesizeRequest.BaseURL = srv.URL
	cfg.CompressTarget = 8000
	cfg.Kinds = []string{"patent"}

	res, err := New(cfg).Run(context.Background(), []chunk.Document{
		{ID: "contracts/Vault.sol", Content: strings.Repeat("x", 3000)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 summary + 1 compression + 1 synthesis
	if calls != 3 {
		t.Fatalf("expected 3 requests, got %d", calls)
	}
	if res.Corpus != "## contracts/Vault.sol\nresult text" {
		t.Errorf("unexpected corpus %q", res.Corpus)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != "patent" {
		t.Fatalf("expected one patent artifact, got %+v", res.Artifacts)
	}
	data, err := os.ReadFile(filepath.Join(dir, "provisional_draft.md"))
	if err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}
	if string(data) != "  result text  " {
		t.Errorf("expected artifact written verbatim, got %q", data)
	}
	if res.RunID == "" {
		t.Error("expected run id")
	}
}

func TestRunExhaustionWritesNothing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ex := executor.New(lmstudio.New(nil))
	ex.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	dir := t.TempDir()
	cfg := testConfig(ex, output.NewStore(dir))
	cfg.SummarizeRequest.BaseURL = srv.URL
	cfg.SummarizeRequest.MaxRetries = 1

	res, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a.ts", Content: "a"}})
	if calls != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
	if !executor.IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageSummarize || se.Subject != "a.ts chunk 1/1" {
		t.Fatalf("expected summarize stage error, got %v", err)
	}
	var ce *summarize.ChunkError
	if !errors.As(err, &ce) || ce.DocumentID != "a.ts" || ce.Chunk != 0 {
		t.Fatalf("expected chunk error in chain, got %v", err)
	}
	if msg := err.Error(); strings.Count(msg, "a.ts chunk 1/1") != 1 {
		t.Errorf("expected subject once in message, got %q", msg)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("expected no artifacts, got %d", len(res.Artifacts))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty output dir, got %d entries", len(entries))
	}
}

func TestRunEmptyInput(t *testing.T) {
	ex := &fakeExecutor{}
	_, err := New(testConfig(ex, &memoryWriter{})).Run(context.Background(), nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if len(ex.convs) != 0 {
		t.Fatalf("expected no requests, got %d", len(ex.convs))
	}
}

func TestRunDefaultsToAllKinds(t *testing.T) {
	ex := &fakeExecutor{}
	w := &memoryWriter{}
	res, err := New(testConfig(ex, w)).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ex.convs) != 5 {
		t.Fatalf("expected 1 summary + 1 compress + 3 synth requests, got %d", len(ex.convs))
	}
	var files []string
	for _, a := range w.written {
		files = append(files, a.Filename)
	}
	if strings.Join(files, ",") != "provisional_draft.md,aragon_governance_report.md,whitepaper.md" {
		t.Fatalf("unexpected artifacts: %v", files)
	}
	if len(res.Artifacts) != 3 {
		t.Fatalf("expected 3 artifact records, got %d", len(res.Artifacts))
	}
}

func TestRunFeedsCompressedSummaryToSynthesis(t *testing.T) {
	ex := &fakeExecutor{respond: func(call int, conv chat.Conversation) (string, error) {
		switch call {
		case 1:
			return "chunk summary", nil
		case 2:
			return "COMPRESSED", nil
		}
		return "artifact", nil
	}}
	cfg := testConfig(ex, &memoryWriter{})
	cfg.Kinds = []string{"whitepaper"}
	cfg.Note = "focus on recovery"

	res, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Compressed != "COMPRESSED" {
		t.Errorf("unexpected compressed summary %q", res.Compressed)
	}
	if !strings.Contains(ex.convs[1].User(), "## a\nchunk summary") {
		t.Errorf("expected corpus in compression payload")
	}
	synth := ex.convs[2].User()
	for _, want := range []string{"Vault", "focus on recovery", "COMPRESSED"} {
		if !strings.Contains(synth, want) {
			t.Errorf("expected %q in synthesis payload", want)
		}
	}
}

func TestRunAbortsRemainingKinds(t *testing.T) {
	boom := &executor.TerminalError{Err: errors.New("bad request")}
	ex := &fakeExecutor{respond: func(call int, conv chat.Conversation) (string, error) {
		if call == 4 {
			return "", boom
		}
		return "ok", nil
	}}
	w := &memoryWriter{}
	cfg := testConfig(ex, w)
	cfg.Kinds = []string{"patent", "governance", "whitepaper"}

	res, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageSynthesize || se.Subject != "governance" {
		t.Fatalf("expected governance synthesis failure, got %v", err)
	}
	if !executor.IsTerminal(err) {
		t.Errorf("expected terminal cause, got %v", err)
	}
	if len(ex.convs) != 4 {
		t.Errorf("expected whitepaper to be skipped, got %d requests", len(ex.convs))
	}
	if len(w.written) != 1 || w.written[0].Filename != "provisional_draft.md" {
		t.Errorf("expected the patent artifact to be kept, got %+v", w.written)
	}
	if len(res.Artifacts) != 1 {
		t.Errorf("expected 1 artifact record, got %d", len(res.Artifacts))
	}
}

func TestRunRejectsUnknownKindBeforeRequests(t *testing.T) {
	ex := &fakeExecutor{}
	cfg := testConfig(ex, &memoryWriter{})
	cfg.Kinds = []string{"memo"}
	if _, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}}); err == nil {
		t.Fatal("expected error")
	}
	if len(ex.convs) != 0 {
		t.Fatalf("expected no requests, got %d", len(ex.convs))
	}
}

func TestRunFilenameOverrides(t *testing.T) {
	w := &memoryWriter{}
	cfg := testConfig(&fakeExecutor{}, w)
	cfg.Kinds = []string{"patent"}
	cfg.Filenames = map[string]string{"patent": "drafts/patent.md"}
	if _, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.written[0].Filename != "drafts/patent.md" {
		t.Fatalf("expected override, got %q", w.written[0].Filename)
	}

	cfg.Filenames = map[string]string{"whitepaper": "wp.md"}
	if _, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}}); err == nil {
		t.Fatal("expected error for override of unrequested kind")
	}
}

func TestRunWriteFailure(t *testing.T) {
	cfg := testConfig(&fakeExecutor{}, &memoryWriter{fail: errors.New("disk full")})
	cfg.Kinds = []string{"patent"}
	_, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageWrite {
		t.Fatalf("expected write stage error, got %v", err)
	}
}

func TestRunRecordsEventsAndMetrics(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(&fakeExecutor{}, &memoryWriter{})
	cfg.Kinds = []string{"patent"}
	cfg.Logger = logpkg.NewEventLog(dir)
	cfg.Metrics = metrics.New(dir)

	res, err := New(cfg).Run(context.Background(), []chunk.Document{{ID: "a", Content: "a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := cfg.Metrics.Snapshot()
	if snap.ChunksSummarized != 1 || snap.DocumentsSummarized != 1 || snap.CompressCalls != 1 || snap.ArtifactsWritten != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}

	data, err := os.ReadFile(cfg.Logger.Path())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	log := string(data)
	for _, typ := range []string{
		logpkg.EventTypeRunStart,
		logpkg.EventTypeChunkSummarized,
		logpkg.EventTypeDocumentSummarized,
		logpkg.EventTypeCompressPass,
		logpkg.EventTypeArtifactWritten,
		logpkg.EventTypeRunComplete,
	} {
		if !strings.Contains(log, `"type":"`+typ+`"`) {
			t.Errorf("expected %s event", typ)
		}
	}
	if !strings.Contains(log, res.RunID) {
		t.Error("expected events stamped with run id")
	}
}

func TestPlan(t *testing.T) {
	cfg := testConfig(&fakeExecutor{}, &memoryWriter{})
	cfg.Kinds = []string{"patent", "whitepaper"}
	plan, err := New(cfg).Plan([]chunk.Document{
		{ID: "a", Content: strings.Repeat("a", 9000)},
		{ID: "b", Content: "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.SummaryCalls != 4 || plan.CompressCalls != 1 || plan.SynthesizeCalls != 2 || plan.Requests() != 7 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Documents[0].Chunks != 3 || plan.Documents[1].Chunks != 1 {
		t.Errorf("unexpected chunk counts: %+v", plan.Documents)
	}
}
