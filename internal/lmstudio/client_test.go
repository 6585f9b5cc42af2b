package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/norm/docsynth/internal/executor"
	"github.com/norm/docsynth/pkg/chat"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsChatCompletionRequest(t *testing.T) {
	var got map[string]any
	var path string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"summary"}}]}`))
	})

	c := New(nil)
	text, err := c.Complete(context.Background(), chat.NewConversation("sys", "usr"), chat.RequestConfig{
		BaseURL:     srv.URL,
		Model:       "oss-20b",
		Temperature: 0.1,
		MaxTokens:   1200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "summary" {
		t.Fatalf("expected 'summary', got %q", text)
	}
	if path != "/v1/chat/completions" {
		t.Errorf("unexpected path %q", path)
	}
	if got["model"] != "oss-20b" || got["stream"] != false {
		t.Errorf("unexpected body: %v", got)
	}
	if got["temperature"].(float64) != 0.1 || got["max_tokens"].(float64) != 1200 {
		t.Errorf("unexpected sampling fields: %v", got)
	}
	msgs := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("unexpected first message: %v", first)
	}
}

func TestCompleteClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		transient bool
		message   string
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true, "slow down"},
		{http.StatusServiceUnavailable, `model loading`, true, "model loading"},
		{http.StatusInternalServerError, ``, true, ""},
		{http.StatusBadRequest, `{"error":"bad params"}`, false, "bad params"},
		{http.StatusNotFound, `nope`, false, "nope"},
	}
	for _, tc := range cases {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := New(nil).Complete(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL})
		var se *executor.ServiceError
		if !errors.As(err, &se) {
			t.Fatalf("status %d: expected service error, got %v", tc.status, err)
		}
		if se.Status != tc.status || se.Transient != tc.transient || se.Message != tc.message {
			t.Errorf("status %d: unexpected classification %+v", tc.status, se)
		}
	}
}

func TestCompleteErrorPayloadOnSuccessIsTerminal(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"context length exceeded"}}`))
	})
	_, err := New(nil).Complete(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL})
	var se *executor.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected service error, got %v", err)
	}
	if se.Transient || se.Message != "context length exceeded" {
		t.Fatalf("unexpected error: %+v", se)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	})
	_, err := New(nil).Complete(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL})
	if !errors.Is(err, executor.ErrEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[`))
	})
	_, err := New(nil).Complete(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL})
	var se *executor.ServiceError
	if !errors.As(err, &se) || se.Transient {
		t.Fatalf("expected terminal malformed error, got %v", err)
	}
}

func TestCompleteAbortsOnContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(nil).Complete(ctx, chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCompleteSendsHeaders(t *testing.T) {
	var auth, extra string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		extra = r.Header.Get("X-Title")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	c := New(&Config{APIKey: "k", Headers: map[string]string{"X-Title": "docsynth", "": "skip"}})
	if _, err := c.Complete(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{BaseURL: srv.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer k" || extra != "docsynth" {
		t.Fatalf("unexpected headers: %q %q", auth, extra)
	}
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"":                           "http://127.0.0.1:1234/v1/chat/completions",
		"http://localhost:1234/":     "http://localhost:1234/v1/chat/completions",
		"https://api.example.com/v1": "https://api.example.com/v1/chat/completions",
	}
	for in, want := range cases {
		if got := Endpoint(in); got != want {
			t.Errorf("Endpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecutorRetriesThroughTransport(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"second"}}]}`))
	})

	e := executor.New(New(nil))
	got, err := e.Execute(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{
		BaseURL:     srv.URL,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "second" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry, got %q after %d calls", got, calls)
	}
}

func TestExecutorExhaustsOnPersistent503(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	e := executor.New(New(nil))
	_, err := e.Execute(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{
		BaseURL:     srv.URL,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
		Timeout:     5 * time.Second,
	})
	if !executor.IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
}

func TestExecutorDoesNotRetryErrorPayload(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"error":{"message":"no model"}}`))
	})

	e := executor.New(New(nil))
	_, err := e.Execute(context.Background(), chat.NewConversation("s", "u"), chat.RequestConfig{
		BaseURL:    srv.URL,
		MaxRetries: 3,
	})
	if !executor.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 request, got %d", calls)
	}
}
