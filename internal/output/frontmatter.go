package output

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("output: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block was unterminated or incomplete.
	ErrMalformedFrontMatter = errors.New("output: malformed frontmatter")
)

// Metadata describes how an artifact was produced.
type Metadata struct {
	Kind      string
	RunID     string
	Title     string
	Model     string
	Sources   int
	CreatedAt time.Time
}

type envelope struct {
	Docsynth fields `yaml:"docsynth"`
}

type fields struct {
	Kind    string `yaml:"kind"`
	RunID   string `yaml:"run_id"`
	Title   string `yaml:"title,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Sources int    `yaml:"sources"`
	Created string `yaml:"created"`
}

const timeLayout = time.RFC3339

// WriteFrontMatter renders meta as a fenced YAML block followed by body.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.Kind == "" {
		return nil, fmt.Errorf("output: metadata missing kind")
	}
	data, err := yaml.Marshal(envelope{Docsynth: fields{
		Kind:    meta.Kind,
		RunID:   meta.RunID,
		Title:   meta.Title,
		Model:   meta.Model,
		Sources: meta.Sources,
		Created: meta.CreatedAt.UTC().Format(timeLayout),
	}})
	if err != nil {
		return nil, fmt.Errorf("output: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// ParseFrontMatter splits a document written by WriteFrontMatter into its
// metadata and body.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}

	var env envelope
	if err := yaml.Unmarshal(parts[0], &env); err != nil {
		return Metadata{}, nil, fmt.Errorf("output: parse frontmatter: %w", err)
	}
	if env.Docsynth.Kind == "" {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	created, err := time.Parse(timeLayout, env.Docsynth.Created)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("output: parse created timestamp: %w", err)
	}
	body := bytes.TrimPrefix(parts[1], []byte("\n"))
	return Metadata{
		Kind:      env.Docsynth.Kind,
		RunID:     env.Docsynth.RunID,
		Title:     env.Docsynth.Title,
		Model:     env.Docsynth.Model,
		Sources:   env.Docsynth.Sources,
		CreatedAt: created.UTC(),
	}, body, nil
}
