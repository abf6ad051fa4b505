package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/MagicBeansAI/magictunnel/internal/routing"
)

// RawToolDef mirrors the catalog YAML shape (spec §6 Catalog file format).
// Hidden is a pointer so the builder can distinguish "not set" from
// "explicitly false" when applying the three-level visibility chain.
type RawToolDef struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	InputSchema map[string]interface{} `yaml:"inputSchema"`
	Routing     routing.Descriptor     `yaml:"routing"`
	Hidden      *bool                  `yaml:"hidden,omitempty"`
	Annotations map[string]interface{} `yaml:"annotations,omitempty"`
	Enhancement *Enhancement           `yaml:"enhancement,omitempty"`
}

// CatalogFile is the top-level YAML document shape (spec §6).
type CatalogFile struct {
	DefaultHidden *bool        `yaml:"default_hidden,omitempty"`
	Tools         []RawToolDef `yaml:"tools"`
}

// ParsedFile is the result of parsing one catalog file, error included so a
// single bad file never invalidates the whole load (spec §4.R Failure
// model).
type ParsedFile struct {
	Path          string
	Tools         []RawToolDef
	HasFileHidden bool
	FileHidden    bool
	Err           error
}

// Loader discovers catalog files from root globs and parses them
// concurrently, tolerating per-file errors.
type Loader struct {
	fs      afs.Service
	roots   []string
	workers int
}

// NewLoader constructs a Loader over the given root paths/glob patterns,
// using afs (teacher dependency) so the same code path works against local
// disk or a remote afsc-backed target.
func NewLoader(roots []string, workers int) *Loader {
	if workers <= 0 {
		workers = 4
	}
	return &Loader{fs: afs.New(), roots: roots, workers: workers}
}

// Load expands every root glob and parses matching files in parallel.
func (l *Loader) Load(ctx context.Context) ([]ParsedFile, error) {
	paths, err := l.expand(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ParsedFile, len(paths))
	sem := make(chan struct{}, l.workers)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = l.parseFile(ctx, path)
		}(i, p)
	}
	wg.Wait()
	return results, nil
}

func (l *Loader) expand(ctx context.Context) ([]string, error) {
	var out []string
	for _, root := range l.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("registry: resolving root %q: %w", root, err)
		}
		matches, err := filepath.Glob(abs)
		if err != nil {
			return nil, fmt.Errorf("registry: expanding glob %q: %w", root, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func (l *Loader) parseFile(ctx context.Context, path string) ParsedFile {
	raw, err := l.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return ParsedFile{Path: path, Err: fmt.Errorf("reading %s: %w", path, err)}
	}
	var cf CatalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return ParsedFile{Path: path, Err: fmt.Errorf("parsing %s: %w", path, err)}
	}
	pf := ParsedFile{Path: path, Tools: cf.Tools}
	if cf.DefaultHidden != nil {
		pf.HasFileHidden = true
		pf.FileHidden = *cf.DefaultHidden
	}
	return pf
}
