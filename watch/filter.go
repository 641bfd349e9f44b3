package watch

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vormadev/srcconcat/aggregate"
)

// filter decides which paths matter. All paths are absolute with forward
// slashes.
type filter struct {
	source    string
	candidate string // doublestar glob for candidate files, relative to source
	output    string
	extra     string
	exclude   []string
}

func newFilter(cfg aggregate.Config) (*filter, error) {
	f := &filter{
		source:  norm(cfg.SourceDir),
		output:  norm(cfg.Output),
		exclude: cfg.Exclude,
	}
	if cfg.ExtraFile != "" {
		f.extra = norm(cfg.ExtraFile)
	}

	quoted := make([]string, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		quoted[i] = escapeMeta(ext)
	}
	f.candidate = "**/*{" + strings.Join(quoted, ",") + "}"
	if !doublestar.ValidatePattern(f.candidate) {
		return nil, aggregate.ErrInvalidConfig
	}
	return f, nil
}

func (f *filter) underSource(path string) bool {
	return path == f.source || strings.HasPrefix(path, f.source+"/")
}

func (f *filter) rel(path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, f.source), "/")
}

func (f *filter) excludedDir(path string) bool {
	return f.excluded(f.rel(path))
}

func (f *filter) excluded(rel string) bool {
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// excludedByAncestor reports whether rel or any of its parent directories
// is excluded.
func (f *filter) excludedByAncestor(rel string) bool {
	for p := rel; p != "." && p != ""; p = filepath.ToSlash(filepath.Dir(p)) {
		if f.excluded(p) {
			return true
		}
	}
	return false
}

func (f *filter) relevant(path string) bool {
	if path == f.output {
		return false
	}
	if f.extra != "" && path == f.extra {
		return true
	}
	if !f.underSource(path) {
		return false
	}
	rel := f.rel(path)
	if ok, _ := doublestar.Match(f.candidate, rel); !ok {
		return false
	}
	return !f.excludedByAncestor(rel)
}

func escapeMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\*?[]{},`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func norm(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p))
	}
	return filepath.ToSlash(abs)
}
