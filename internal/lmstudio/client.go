// Package lmstudio talks to an OpenAI-compatible chat completions endpoint
// such as a local LM Studio server.
package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/norm/docsynth/internal/executor"
	"github.com/norm/docsynth/pkg/chat"
)

const (
	DefaultBaseURL = "http://127.0.0.1:1234"
	DefaultModel   = "local-model"

	completionsPath = "/v1/chat/completions"

	// maxBodyBytes caps how much of a response is read into memory.
	maxBodyBytes = 32 << 20
)

// HTTPClient is the subset of *http.Client the transport needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds transport configuration.
type Config struct {
	// API key sent as a bearer token (LM Studio ignores it)
	APIKey string

	// Extra request headers
	Headers map[string]string

	// HTTP client override; defaults to a keep-alive client with no
	// client-level timeout (the executor bounds each attempt).
	HTTPClient HTTPClient
}

// Client performs single chat completion attempts.
type Client struct {
	hc      HTTPClient
	apiKey  string
	headers map[string]string
}

// New creates a new chat completions transport.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient()
	}
	return &Client{
		hc:      hc,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
	}
}

// newHTTPClient tolerates slow local models: response headers may take
// minutes, so only connection setup is bounded here.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

type completionRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Stream      bool           `json:"stream"`
}

// Endpoint returns the completions URL for a base URL. A base that already
// ends in /v1 is not doubled.
func Endpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + completionsPath
}

// Complete performs one request. Non-2xx statuses and error payloads come back
// as *executor.ServiceError; an empty completion as executor.ErrEmptyResponse.
func (c *Client) Complete(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    conv,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("lmstudio: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(cfg.BaseURL), bytes.NewReader(body))
	if err != nil {
		return "", executor.NewMalformedError(0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("lmstudio: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("lmstudio: read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		msg := errorMessage(raw)
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(raw)), 512)
		}
		return "", executor.NewStatusError(resp.StatusCode, msg)
	}

	if !gjson.ValidBytes(raw) {
		return "", executor.NewMalformedError(resp.StatusCode, "malformed response body")
	}
	if msg := errorMessage(raw); msg != "" {
		return "", executor.NewStatusError(resp.StatusCode, msg)
	}

	content := gjson.GetBytes(raw, "choices.0.message.content").String()
	if content == "" {
		return "", executor.ErrEmptyResponse
	}
	return content, nil
}

// errorMessage reads {"error":{"message":...}} and the bare {"error":"..."}
// form some compatible servers return.
func errorMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	errField := gjson.GetBytes(raw, "error")
	switch {
	case !errField.Exists():
		return ""
	case errField.IsObject():
		return errField.Get("message").String()
	case errField.Type == gjson.String:
		return errField.String()
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
