// Package executor issues one logical request to a text-generation endpoint,
// owning the per-attempt timeout, retry and backoff policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	logpkg "github.com/norm/docsynth/internal/log"
	"github.com/norm/docsynth/internal/metrics"
	"github.com/norm/docsynth/pkg/chat"
)

// DefaultTimeout applies when a RequestConfig carries no per-attempt timeout.
const DefaultTimeout = 5 * time.Minute

const maxBackoff = time.Duration(math.MaxInt64)

// Transport performs exactly one attempt against the endpoint. It must build
// its network request from ctx so that cancelling ctx aborts the attempt.
type Transport interface {
	Complete(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig) (string, error)
}

// Executor retries a Transport with exponential backoff.
type Executor struct {
	transport Transport
	logger    *logpkg.EventLog
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an executor around transport.
func New(transport Transport) *Executor {
	return &Executor{
		transport: transport,
		sleep:     sleepContext,
	}
}

// SetLogger attaches an event log for attempt and retry events.
func (e *Executor) SetLogger(logger *logpkg.EventLog) {
	e.logger = logger
}

// SetMetrics attaches request counters.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetSleep overrides how backoff delays are waited out.
func (e *Executor) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	e.sleep = sleep
}

// Backoff returns the delay before attempt (attempt >= 1): base * 2^(attempt-1),
// saturating at the largest representable duration.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 63 || base > maxBackoff>>shift {
		return maxBackoff
	}
	return base << shift
}

// Execute sends conv using cfg and returns the generated text.
//
// Attempt 0 is immediate; attempt k waits Backoff(cfg.BackoffBase, k) first.
// Transient failures consume an attempt; a terminal failure returns a
// *TerminalError at once; running out of attempts returns an *ExhaustedError.
// Cancelling ctx stops the request with ctx.Err().
func (e *Executor) Execute(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig) (string, error) {
	if err := conv.Validate(); err != nil {
		return "", &TerminalError{Err: err}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := cfg.Attempts()
	label := labelFrom(ctx)
	chars := conv.Chars()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(cfg.BackoffBase, attempt)
			e.metrics.RecordRetry(delay)
			e.log(label.event(logpkg.EventTypeRequestRetry).
				WithAttempt(attempt).
				WithDelay(delay).
				WithHTTPStatus(statusOf(lastErr)).
				WithError(lastErr.Error()))
			if err := e.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("executor: waiting to retry: %w", err)
			}
		}

		e.metrics.RecordAttempt(chars)
		started := time.Now()
		text, err := e.attempt(ctx, conv, cfg, timeout)
		latency := time.Since(started)
		if err == nil {
			e.metrics.RecordSuccess(latency, len([]rune(text)))
			e.log(label.event(logpkg.EventTypeRequestAttempt).
				WithAttempt(attempt).
				WithStatus("success").
				WithLatency(latency).
				WithChars(len([]rune(text))))
			return text, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("executor: %w", ctxErr)
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			e.metrics.RecordTimeout()
		}
		if !retryable(err) {
			e.metrics.RecordTerminal()
			e.log(label.event(logpkg.EventTypeRequestFailed).
				WithAttempt(attempt).
				WithStatus("terminal").
				WithLatency(latency).
				WithHTTPStatus(statusOf(err)).
				WithError(err.Error()))
			return "", &TerminalError{Attempt: attempt, Err: err}
		}
		e.log(label.event(logpkg.EventTypeRequestAttempt).
			WithAttempt(attempt).
			WithStatus("fail").
			WithLatency(latency).
			WithHTTPStatus(statusOf(err)).
			WithError(err.Error()))
	}

	e.metrics.RecordExhausted()
	e.log(label.event(logpkg.EventTypeRequestExhausted).
		WithCount(attempts).
		WithHTTPStatus(statusOf(lastErr)).
		WithError(lastErr.Error()))
	return "", &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// attempt runs one transport call under its own deadline. The deferred cancel
// aborts the in-flight request if the transport returns early.
func (e *Executor) attempt(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := e.transport.Complete(attemptCtx, conv, cfg)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (e *Executor) log(event logpkg.Event) {
	_ = e.logger.Log(event)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

type labelKey struct{}

type label struct {
	stage   string
	subject string
}

func (l label) event(eventType string) logpkg.Event {
	return logpkg.NewEvent(eventType).WithStage(l.stage).WithSubject(l.subject)
}

// WithLabel tags requests issued under ctx with a pipeline stage and subject
// (document/chunk, compress pass, artifact kind) for the event log.
func WithLabel(ctx context.Context, stage, subject string) context.Context {
	return context.WithValue(ctx, labelKey{}, label{stage: stage, subject: subject})
}

func labelFrom(ctx context.Context) label {
	if l, ok := ctx.Value(labelKey{}).(label); ok {
		return l
	}
	return label{}
}
