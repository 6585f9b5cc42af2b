// Package output persists synthesized artifacts to an output directory.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact is one synthesized document ready to be written.
type Artifact struct {
	Filename string
	Content  string
	Meta     Metadata
}

// Store writes artifacts under a single directory.
type Store struct {
	dir         string
	frontMatter bool
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithFrontMatter prefixes every artifact with its YAML metadata block.
func WithFrontMatter(enabled bool) Option {
	return func(s *Store) { s.frontMatter = enabled }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store rooted at dir. The directory is created on first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// Resolve returns the absolute destination for filename, rejecting names that
// are absolute or leave the store directory.
func (s *Store) Resolve(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("output: empty filename")
	}
	if filepath.IsAbs(filename) {
		return "", fmt.Errorf("output: filename %q must be relative", filename)
	}
	clean := filepath.Clean(filename)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output: filename %q escapes %s", filename, s.dir)
	}
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("output: resolve dir: %w", err)
	}
	return filepath.Join(root, clean), nil
}

// WriteArtifact writes the artifact atomically and returns its path.
func (s *Store) WriteArtifact(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.Resolve(a.Filename)
	if err != nil {
		return "", err
	}

	data := []byte(a.Content)
	if s.frontMatter {
		meta := a.Meta
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = s.now()
		}
		if data, err = WriteFrontMatter(meta, data); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("output: create dir: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("output: write %s: %w", a.Filename, err)
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
