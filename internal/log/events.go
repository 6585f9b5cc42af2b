// Package log writes the append-only JSONL event log for a synthesis run.
package log

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventVersion is the current event schema version.
const EventVersion = 1

// Event captures one pipeline activity record.
type Event struct {
	Version     int    `json:"v"`
	TimestampMs int64  `json:"ts_ms"`
	EventID     string `json:"event_id"` // "evt-abc123"
	RunID       string `json:"run_id,omitempty"`
	Type        string `json:"type"`
	Stage       string `json:"stage,omitempty"`   // "summarize", "compress", "synthesize", "write"
	Subject     string `json:"subject,omitempty"` // document id, artifact kind, compress pass
	Status      string `json:"status,omitempty"`

	Attempt   int     `json:"attempt,omitempty"`
	HTTPCode  int     `json:"http_status,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	DelayMs   float64 `json:"delay_ms,omitempty"`
	Chars     int     `json:"chars,omitempty"`
	Count     int     `json:"count,omitempty"`
}

// WithRunID sets the run correlation id.
func (e Event) WithRunID(runID string) Event {
	e.RunID = runID
	return e
}

// WithStage sets the pipeline stage.
func (e Event) WithStage(stage string) Event {
	e.Stage = stage
	return e
}

// WithSubject sets the item the event refers to.
func (e Event) WithSubject(subject string) Event {
	e.Subject = subject
	return e
}

// WithStatus sets the status field.
func (e Event) WithStatus(status string) Event {
	e.Status = status
	return e
}

// WithAttempt sets the 0-based attempt number.
func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

// WithHTTPStatus sets the upstream HTTP status.
func (e Event) WithHTTPStatus(code int) Event {
	e.HTTPCode = code
	return e
}

// WithError sets the error field.
func (e Event) WithError(err string) Event {
	e.Error = err
	return e
}

// WithLatency sets the latency field in milliseconds.
func (e Event) WithLatency(latency time.Duration) Event {
	e.LatencyMs = float64(latency) / float64(time.Millisecond)
	return e
}

// WithDelay sets the backoff delay in milliseconds.
func (e Event) WithDelay(delay time.Duration) Event {
	e.DelayMs = float64(delay) / float64(time.Millisecond)
	return e
}

// WithChars sets the character count.
func (e Event) WithChars(chars int) Event {
	e.Chars = chars
	return e
}

// WithCount sets the count field for batch operations.
func (e Event) WithCount(count int) Event {
	e.Count = count
	return e
}

const (
	EventTypeRunStart           = "run_start"
	EventTypeRunComplete        = "run_complete"
	EventTypeRunFailed          = "run_failed"
	EventTypeRequestAttempt     = "request_attempt"
	EventTypeRequestRetry       = "request_retry"
	EventTypeRequestFailed      = "request_failed"
	EventTypeRequestExhausted   = "request_exhausted"
	EventTypeChunkSummarized    = "chunk_summarized"
	EventTypeDocumentSummarized = "document_summarized"
	EventTypeCompressPass       = "compress_pass"
	EventTypeArtifactWritten    = "artifact_written"
)

// GenerateEventID returns an evt- prefixed 8-hex identifier.
func GenerateEventID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		n := time.Now().UnixNano()
		buf[0] = byte(n)
		buf[1] = byte(n >> 8)
		buf[2] = byte(n >> 16)
		buf[3] = byte(n >> 24)
	}
	return "evt-" + hex.EncodeToString(buf)
}

// NewEvent creates a new event with defaults filled in.
func NewEvent(eventType string) Event {
	return Event{
		Version:     EventVersion,
		TimestampMs: time.Now().UnixMilli(),
		EventID:     GenerateEventID(),
		Type:        eventType,
	}
}

// EventLog writes append-only JSONL logs. A nil *EventLog discards events.
type EventLog struct {
	path  string
	runID string
	mu    sync.Mutex
}

func NewEventLog(logDir string) *EventLog {
	return &EventLog{path: filepath.Join(logDir, "events.jsonl")}
}

// Path returns the file the log appends to.
func (l *EventLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// SetRunID stamps every subsequent event that has no run id.
func (l *EventLog) SetRunID(runID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.runID = runID
	l.mu.Unlock()
}

func (l *EventLog) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Version == 0 {
		event.Version = EventVersion
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	if event.EventID == "" {
		event.EventID = GenerateEventID()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return err
	}

	return nil
}
