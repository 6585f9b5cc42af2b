// Package metrics tracks request and pipeline counters for a synthesis run.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters. All methods are safe on a nil receiver.
type Metrics struct {
	// Request metrics
	RequestsSent       atomic.Int64
	RequestsSucceeded  atomic.Int64
	Retries            atomic.Int64
	TerminalFailures   atomic.Int64
	ExhaustedRequests  atomic.Int64
	AttemptTimeouts    atomic.Int64
	CharsSent          atomic.Int64
	CharsReceived      atomic.Int64
	totalLatencyNs     atomic.Int64
	latencyCount       atomic.Int64
	totalBackoffWaitNs atomic.Int64

	// Pipeline metrics
	DocumentsSummarized atomic.Int64
	ChunksSummarized    atomic.Int64
	CompressCalls       atomic.Int64
	ArtifactsWritten    atomic.Int64

	startTime time.Time
	dir       string
}

// New creates a metrics tracker that saves into dir (empty disables Save).
func New(dir string) *Metrics {
	return &Metrics{
		startTime: time.Now(),
		dir:       dir,
	}
}

// RecordAttempt counts one request attempt and the characters it carried.
func (m *Metrics) RecordAttempt(chars int) {
	if m == nil {
		return
	}
	m.RequestsSent.Add(1)
	m.CharsSent.Add(int64(chars))
}

// RecordSuccess counts a successful attempt with its latency and output size.
func (m *Metrics) RecordSuccess(latency time.Duration, chars int) {
	if m == nil {
		return
	}
	m.RequestsSucceeded.Add(1)
	m.CharsReceived.Add(int64(chars))
	m.totalLatencyNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordRetry counts a scheduled retry and the backoff it waits.
func (m *Metrics) RecordRetry(delay time.Duration) {
	if m == nil {
		return
	}
	m.Retries.Add(1)
	m.totalBackoffWaitNs.Add(delay.Nanoseconds())
}

func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.AttemptTimeouts.Add(1)
}

func (m *Metrics) RecordTerminal() {
	if m == nil {
		return
	}
	m.TerminalFailures.Add(1)
}

func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.ExhaustedRequests.Add(1)
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.ChunksSummarized.Add(1)
}

func (m *Metrics) RecordDocument() {
	if m == nil {
		return
	}
	m.DocumentsSummarized.Add(1)
}

func (m *Metrics) RecordCompressCall() {
	if m == nil {
		return
	}
	m.CompressCalls.Add(1)
}

func (m *Metrics) RecordArtifact() {
	if m == nil {
		return
	}
	m.ArtifactsWritten.Add(1)
}

// Snapshot is a JSON-serializable view of the counters.
type Snapshot struct {
	SnapshotTimeMs int64 `json:"snapshot_time_ms"`
	ElapsedSeconds int64 `json:"elapsed_seconds"`

	RequestsSent      int64   `json:"requests_sent"`
	RequestsSucceeded int64   `json:"requests_succeeded"`
	Retries           int64   `json:"retries"`
	TerminalFailures  int64   `json:"terminal_failures"`
	ExhaustedRequests int64   `json:"exhausted_requests"`
	AttemptTimeouts   int64   `json:"attempt_timeouts"`
	CharsSent         int64   `json:"chars_sent"`
	CharsReceived     int64   `json:"chars_received"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	BackoffWaitMs     float64 `json:"backoff_wait_ms"`

	DocumentsSummarized int64 `json:"documents_summarized"`
	ChunksSummarized    int64 `json:"chunks_summarized"`
	CompressCalls       int64 `json:"compress_calls"`
	ArtifactsWritten    int64 `json:"artifacts_written"`
}

// Snapshot returns current metrics.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{SnapshotTimeMs: time.Now().UnixMilli()}
	}
	count := m.latencyCount.Load()
	var avgLatency float64
	if count > 0 {
		avgLatency = float64(m.totalLatencyNs.Load()) / float64(count) / 1e6
	}

	return Snapshot{
		SnapshotTimeMs:      time.Now().UnixMilli(),
		ElapsedSeconds:      int64(time.Since(m.startTime).Seconds()),
		RequestsSent:        m.RequestsSent.Load(),
		RequestsSucceeded:   m.RequestsSucceeded.Load(),
		Retries:             m.Retries.Load(),
		TerminalFailures:    m.TerminalFailures.Load(),
		ExhaustedRequests:   m.ExhaustedRequests.Load(),
		AttemptTimeouts:     m.AttemptTimeouts.Load(),
		CharsSent:           m.CharsSent.Load(),
		CharsReceived:       m.CharsReceived.Load(),
		AvgLatencyMs:        avgLatency,
		BackoffWaitMs:       float64(m.totalBackoffWaitNs.Load()) / 1e6,
		DocumentsSummarized: m.DocumentsSummarized.Load(),
		ChunksSummarized:    m.ChunksSummarized.Load(),
		CompressCalls:       m.CompressCalls.Load(),
		ArtifactsWritten:    m.ArtifactsWritten.Load(),
	}
}

// Save persists the snapshot to <dir>/metrics.json.
func (m *Metrics) Save() error {
	if m == nil || m.dir == "" {
		return nil
	}

	path := filepath.Join(m.dir, "metrics.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
