// Package source discovers the project files that feed a synthesis run.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/norm/docsynth/internal/chunk"
)

// DefaultPatterns select source, contract and documentation files.
var DefaultPatterns = []string{
	"**/*.ts",
	"**/*.tsx",
	"**/*.sol",
	"**/*.md",
	"**/*.yml",
	"**/*.yaml",
	"**/*.json",
	"**/*.graphql",
}

// GovernancePatterns focus discovery on contracts and the config files that
// describe how they are deployed.
var GovernancePatterns = []string{
	"contracts/**/*.sol",
	"foundry.toml",
	"hardhat.config.*",
	"package.json",
	"README.md",
}

// DefaultIgnore excludes build output, dependencies and lockfiles.
var DefaultIgnore = []string{
	"**/node_modules/**",
	"**/dist/**",
	"**/build/**",
	"**/.next/**",
	"**/.git/**",
	"**/*.map",
	"**/*.lock",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
}

// Options tunes discovery.
type Options struct {
	// Include adds patterns to the base set.
	Include []string
	// Exclude adds patterns to DefaultIgnore.
	Exclude []string
	// Preset replaces DefaultPatterns as the base set: "" or "default",
	// or "governance".
	Preset string
}

// Patterns returns the effective include patterns for opts.
func (o Options) Patterns() ([]string, error) {
	var base []string
	switch strings.ToLower(o.Preset) {
	case "", "default":
		base = DefaultPatterns
	case "governance", "aragon":
		base = GovernancePatterns
	default:
		return nil, fmt.Errorf("source: unknown preset %q", o.Preset)
	}
	out := make([]string, 0, len(base)+len(o.Include))
	out = append(out, base...)
	out = append(out, o.Include...)
	for _, p := range out {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid pattern %q", p)
		}
	}
	return out, nil
}

// Discover walks root and returns every matching, readable file as a
// Document whose ID is its slash-separated path relative to root. Results are
// sorted by ID. Hidden files and directories are skipped.
func Discover(root string, opts Options) ([]chunk.Document, error) {
	patterns, err := opts.Patterns()
	if err != nil {
		return nil, err
	}
	ignore := append(append([]string{}, DefaultIgnore...), opts.Exclude...)
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid exclude pattern %q", p)
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", root)
	}

	fsys := os.DirFS(root)
	var docs []chunk.Document
	err = fs.WalkDir(fsys, ".", func(rel string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() && rel != "." {
				return fs.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// "a/**" also matches "a"; files below are filtered either way.
			if matchAny(ignore, rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matchAny(ignore, rel) || !matchAny(patterns, rel) {
			return nil
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil
		}
		docs = append(docs, chunk.Document{ID: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", root, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Title derives the default project title from the root folder name.
func Title(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(root)
	}
	return filepath.Base(abs)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
