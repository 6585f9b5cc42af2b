// Package claude provides a transport that sends conversations to the
// Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/norm/docsynth/internal/executor"
	"github.com/norm/docsynth/pkg/chat"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "claude-3-haiku-20240307"

// defaultMaxTokens applies when a request carries no output budget.
const defaultMaxTokens = 4096

// Config holds Claude transport configuration.
type Config struct {
	// API key source (if empty, uses BWS or ANTHROPIC_API_KEY env)
	APIKey string

	// BWS secret ID for API key (optional)
	BWSSecretID string

	// Extra client options (tests inject an HTTP client here)
	Options []option.RequestOption
}

// Client wraps the Anthropic SDK. Retries are left to the executor, so the
// SDK's own retry loop is disabled.
type Client struct {
	client anthropic.Client
}

// New creates a new Claude transport.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey, err := resolveAPIKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	opts = append(opts, cfg.Options...)

	return &Client{client: anthropic.NewClient(opts...)}, nil
}

// Complete performs one Messages API call. API errors come back as
// *executor.ServiceError carrying the HTTP status.
func (c *Client) Complete(ctx context.Context, conv chat.Conversation, cfg chat.RequestConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var reqOpts []option.RequestOption
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: conv.System()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(conv.User())),
		},
	}, reqOpts...)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", executor.NewStatusError(apiErr.StatusCode, apiErrorMessage(apiErr))
		}
		return "", fmt.Errorf("claude request: %w", err)
	}

	var result strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			result.WriteString(block.Text)
		}
	}
	if result.Len() == 0 {
		return "", executor.ErrEmptyResponse
	}
	return result.String(), nil
}

// apiErrorMessage prefers the error.message field of the raw body.
func apiErrorMessage(apiErr *anthropic.Error) string {
	if raw := apiErr.RawJSON(); raw != "" {
		if msg := gjson.Get(raw, "error.message").String(); msg != "" {
			return msg
		}
	}
	return apiErr.Error()
}

// resolveAPIKey gets the API key from config, BWS, or environment.
func resolveAPIKey(cfg *Config) (string, error) {
	// 1. Direct config
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}

	// 2. BWS secret
	if cfg.BWSSecretID != "" {
		key, err := getBWSSecret(cfg.BWSSecretID)
		if err == nil && key != "" {
			return key, nil
		}
		// Fall through to env var
	}

	// 3. Environment variable
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	return "", errors.New("no API key: set ANTHROPIC_API_KEY or configure BWS")
}

// getBWSSecret retrieves a secret from Bitwarden Secrets Manager.
func getBWSSecret(secretID string) (string, error) {
	cmd := exec.Command("bws", "secret", "get", secretID, "--output", "json")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("bws get secret: %w", err)
	}

	// bws returns {"id":"...","value":"..."}
	value := gjson.GetBytes(output, "value").String()
	if value == "" {
		return "", errors.New("bws: empty secret value")
	}

	return value, nil
}
