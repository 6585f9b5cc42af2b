// Package config resolves docsynth settings from defaults, an optional TOML
// file and the environment, in that order. CLI flags are applied last by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/norm/docsynth/pkg/chat"
)

// Providers
const (
	ProviderLMStudio = "lmstudio"
	ProviderClaude   = "claude"
)

// Sampling holds the per-stage generation settings.
type Sampling struct {
	Temperature float64
	MaxTokens   int
}

// Config holds docsynth configuration.
type Config struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	BWSSecretID string

	OutDir      string
	LogDir      string // events.jsonl and metrics.json; empty disables both
	FrontMatter bool

	// Discovery
	Include []string
	Exclude []string
	Preset  string

	// Chunking and compression
	MaxChunkChars  int
	ChunkPause     time.Duration
	CompressTarget int

	// Request policy shared by every stage
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration

	Summarize  Sampling
	Compress   Sampling
	Synthesize Sampling

	// Synthesis
	Kinds   []string
	Outputs map[string]string // kind -> filename
	Title   string
	Note    string

	// Values taken from LMSTUDIO_*; never sent to other providers.
	lmstudioBaseURL string
	lmstudioModel   string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider:       ProviderLMStudio,
		BaseURL:        "http://127.0.0.1:1234",
		OutDir:         ".",
		MaxChunkChars:  4000,
		ChunkPause:     50 * time.Millisecond,
		CompressTarget: 8000,
		Timeout:        5 * time.Minute,
		MaxRetries:     3,
		BackoffBase:    800 * time.Millisecond,
		Summarize:      Sampling{Temperature: 0.1, MaxTokens: 1200},
		Compress:       Sampling{Temperature: 0.1, MaxTokens: 4096},
		Synthesize:     Sampling{Temperature: 0.2, MaxTokens: 8192},
		Outputs:        map[string]string{},
	}
}

// Load returns defaults overridden by the environment.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath returns defaults overridden by the TOML file at path (skipped
// when path is empty) and then by the environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyFile(raw); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. LMSTUDIO_* variables are
// honoured for compatibility and only reach the LM Studio provider;
// DOCSYNTH_* variables take precedence.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("LMSTUDIO_BASE_URL"); val != "" {
		c.BaseURL = val
		c.lmstudioBaseURL = val
	}
	if val := os.Getenv("LMSTUDIO_MODEL"); val != "" {
		c.Model = val
		c.lmstudioModel = val
	}
	overrideString(&c.APIKey, "ANTHROPIC_API_KEY")

	c.Provider = envOr(c.Provider, "DOCSYNTH_PROVIDER")
	c.BaseURL = envOr(c.BaseURL, "DOCSYNTH_BASE_URL")
	c.Model = envOr(c.Model, "DOCSYNTH_MODEL")
	c.BWSSecretID = envOr(c.BWSSecretID, "DOCSYNTH_BWS_SECRET_ID")
	c.OutDir = envOr(c.OutDir, "DOCSYNTH_OUT_DIR")
	c.LogDir = envOr(c.LogDir, "DOCSYNTH_LOG_DIR")
	overrideBool(&c.FrontMatter, "DOCSYNTH_FRONTMATTER")

	overrideInt(&c.MaxChunkChars, "DOCSYNTH_MAX_CHARS")
	overrideDuration(&c.ChunkPause, "DOCSYNTH_CHUNK_PAUSE")
	overrideInt(&c.CompressTarget, "DOCSYNTH_TARGET")

	overrideDuration(&c.Timeout, "DOCSYNTH_TIMEOUT")
	overrideInt(&c.MaxRetries, "DOCSYNTH_RETRIES")
	overrideDuration(&c.BackoffBase, "DOCSYNTH_BACKOFF")
}

// Validate reports the first setting that cannot produce a working run.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLMStudio, ProviderClaude:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderLMStudio, ProviderClaude)
	}
	if c.MaxRetries < 0 {
		return errors.New("retries must be >= 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.BackoffBase < 0 {
		return errors.New("backoff must be >= 0")
	}
	if c.ChunkPause < 0 {
		return errors.New("chunk pause must be >= 0")
	}
	if c.CompressTarget <= 0 {
		return errors.New("compression target must be positive")
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return errors.New("output directory must be set")
	}
	return nil
}

// SummarizeRequest returns the request settings for chunk summaries.
func (c *Config) SummarizeRequest() chat.RequestConfig {
	return c.request(c.Summarize)
}

// CompressRequest returns the request settings for compression passes.
func (c *Config) CompressRequest() chat.RequestConfig {
	return c.request(c.Compress)
}

// SynthesizeRequest returns the request settings for artifact synthesis.
func (c *Config) SynthesizeRequest() chat.RequestConfig {
	return c.request(c.Synthesize)
}

func (c *Config) request(s Sampling) chat.RequestConfig {
	baseURL, model := c.BaseURL, c.Model
	if c.Provider == ProviderClaude {
		if baseURL == Default().BaseURL || baseURL == c.lmstudioBaseURL {
			baseURL = ""
		}
		if model == c.lmstudioModel {
			model = ""
		}
	}
	return chat.RequestConfig{
		BaseURL:     baseURL,
		Model:       model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Timeout:     c.Timeout,
		MaxRetries:  c.MaxRetries,
		BackoffBase: c.BackoffBase,
	}
}

func envOr(current, key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return current
}

func overrideString(dest *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dest = val
	}
}

func overrideDuration(dest *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dest = parsed
		}
	}
}

func overrideBool(dest *bool, key string) {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "y", "on":
			*dest = true
		case "0", "false", "no", "n", "off":
			*dest = false
		}
	}
}

func overrideInt(dest *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dest = parsed
		}
	}
}

// fileConfig mirrors the TOML layout. Pointers distinguish unset keys from
// zero values; durations are strings such as "90s".
type fileConfig struct {
	Provider    *string `toml:"provider"`
	BaseURL     *string `toml:"base_url"`
	Model       *string `toml:"model"`
	BWSSecretID *string `toml:"bws_secret_id"`

	OutDir      *string `toml:"out_dir"`
	LogDir      *string `toml:"log_dir"`
	FrontMatter *bool   `toml:"frontmatter"`

	Title *string  `toml:"title"`
	Note  *string  `toml:"note"`
	Kinds []string `toml:"kinds"`

	Sources struct {
		Include []string `toml:"include"`
		Exclude []string `toml:"exclude"`
		Preset  *string  `toml:"preset"`
	} `toml:"sources"`

	Chunking struct {
		MaxChars       *int    `toml:"max_chars"`
		Pause          *string `toml:"pause"`
		CompressTarget *int    `toml:"compress_target"`
	} `toml:"chunking"`

	Request struct {
		Timeout    *string `toml:"timeout"`
		MaxRetries *int    `toml:"max_retries"`
		Backoff    *string `toml:"backoff"`
	} `toml:"request"`

	Summarize  *fileSampling `toml:"summarize"`
	Compress   *fileSampling `toml:"compress"`
	Synthesize *fileSampling `toml:"synthesize"`

	Outputs map[string]string `toml:"outputs"`
}

type fileSampling struct {
	Temperature *float64 `toml:"temperature"`
	MaxTokens   *int     `toml:"max_tokens"`
}

func (c *Config) applyFile(raw []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return err
	}

	setString(&c.Provider, fc.Provider)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.Model, fc.Model)
	setString(&c.BWSSecretID, fc.BWSSecretID)
	setString(&c.OutDir, fc.OutDir)
	setString(&c.LogDir, fc.LogDir)
	if fc.FrontMatter != nil {
		c.FrontMatter = *fc.FrontMatter
	}
	setString(&c.Title, fc.Title)
	setString(&c.Note, fc.Note)
	if len(fc.Kinds) > 0 {
		c.Kinds = fc.Kinds
	}

	c.Include = append(c.Include, fc.Sources.Include...)
	c.Exclude = append(c.Exclude, fc.Sources.Exclude...)
	setString(&c.Preset, fc.Sources.Preset)

	setInt(&c.MaxChunkChars, fc.Chunking.MaxChars)
	setInt(&c.CompressTarget, fc.Chunking.CompressTarget)
	if err := setDuration(&c.ChunkPause, fc.Chunking.Pause, "chunking.pause"); err != nil {
		return err
	}

	if err := setDuration(&c.Timeout, fc.Request.Timeout, "request.timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.BackoffBase, fc.Request.Backoff, "request.backoff"); err != nil {
		return err
	}
	setInt(&c.MaxRetries, fc.Request.MaxRetries)

	fc.Summarize.apply(&c.Summarize)
	fc.Compress.apply(&c.Compress)
	fc.Synthesize.apply(&c.Synthesize)

	for kind, file := range fc.Outputs {
		c.Outputs[kind] = file
	}
	return nil
}

func (s *fileSampling) apply(dest *Sampling) {
	if s == nil {
		return
	}
	if s.Temperature != nil {
		dest.Temperature = *s.Temperature
	}
	setInt(&dest.MaxTokens, s.MaxTokens)
}

func setString(dest *string, val *string) {
	if val != nil {
		*dest = *val
	}
}

func setInt(dest *int, val *int) {
	if val != nil {
		*dest = *val
	}
}

func setDuration(dest *time.Duration, val *string, key string) error {
	if val == nil {
		return nil
	}
	parsed, err := time.ParseDuration(*val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dest = parsed
	return nil
}
